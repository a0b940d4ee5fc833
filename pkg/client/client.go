package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is matched by errors.Is on an *APIError with status 404.
var ErrNotFound = errors.New("not found")

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 32 << 20

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("audit service error %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to the audit chain HTTP API.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a service token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// New creates a Client for the service at base (e.g. "http://localhost:8080").
// The /api/v1 prefix is added automatically.
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid service URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/") + "/api/v1",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Trail returns every entry referencing resourceID. sortOrder is "ASC",
// "DESC" or empty for the server default (DESC).
func (c *Client) Trail(ctx context.Context, resourceID, sortOrder string) ([]Entry, error) {
	if resourceID == "" {
		return nil, errors.New("resource id is required")
	}
	path := "/audit/" + url.PathEscape(resourceID)
	if sortOrder != "" {
		path += "?sortOrder=" + url.QueryEscape(sortOrder)
	}
	var out []Entry
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search returns entries matching every non-zero field of req.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]Entry, error) {
	var out []Entry
	if err := c.call(ctx, http.MethodPost, "/audit/search", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify replays the whole chain.
func (c *Client) Verify(ctx context.Context) (*VerificationResult, error) {
	return c.VerifyRange(ctx, 0, 0)
}

// VerifyRange verifies entries with ids in [from, to]. Zero bounds are open.
func (c *Client) VerifyRange(ctx context.Context, from, to int64) (*VerificationResult, error) {
	q := url.Values{}
	if from > 0 {
		q.Set("from", strconv.FormatInt(from, 10))
	}
	if to > 0 {
		q.Set("to", strconv.FormatInt(to, 10))
	}
	path := "/audit/verify"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out VerificationResult
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Record appends an entry. It returns (nil, nil) when the action is excluded.
func (c *Client) Record(ctx context.Context, req RecordRequest) (*Entry, error) {
	if req.Action == "" {
		return nil, errors.New("action is required")
	}
	status, body, err := c.send(ctx, http.MethodPost, "/audit/events", req)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNoContent:
		return nil, nil
	case status >= 300:
		return nil, apiError(status, body)
	}
	var out Entry
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &out, nil
}

// Chain returns chain length, root hash and parameters.
func (c *Client) Chain(ctx context.Context) (*ChainInfo, error) {
	var out ChainInfo
	if err := c.call(ctx, http.MethodGet, "/audit/chain", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Exclusions returns the current exclusion set. Requires the audit:admin role.
func (c *Client) Exclusions(ctx context.Context) (*Exclusions, error) {
	var out Exclusions
	if err := c.call(ctx, http.MethodGet, "/admin/audit/excluded-actions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetExclusions replaces the exclusion set. Requires the audit:admin role.
func (c *Client) SetExclusions(ctx context.Context, actions []string) (*Exclusions, error) {
	if actions == nil {
		actions = []string{}
	}
	var out Exclusions
	body := Exclusions{ExcludedActions: actions}
	if err := c.call(ctx, http.MethodPut, "/admin/audit/excluded-actions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call sends in (when non-nil) as JSON and decodes a 2xx body into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	status, body, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	if status >= 300 {
		return apiError(status, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send executes the request and returns (statusCode, body) without failing on
// 4xx/5xx responses. The caller interprets the status code.
func (c *Client) send(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func apiError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
