// Package alert delivers audit chain alerts to operator webhooks.
package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openfilz/openfilz-core-sub000/internal/auditchain"
)

// Event types.
const (
	EventChainBroken        = "audit.chain_broken"
	EventInvariantViolation = "audit.append_invariant_violation"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Event is the JSON body posted to every webhook.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Notifier posts signed alert events to a fixed list of webhook URLs.
type Notifier struct {
	urls       []string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewNotifier creates a Notifier. With no URLs every Notify call is a no-op.
func NewNotifier(urls []string, secret string, logger *zap.Logger) *Notifier {
	return &Notifier{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// SetRetryDelays replaces the wait before each attempt. len(delays) is the
// number of attempts; the first entry is normally zero.
func (n *Notifier) SetRetryDelays(delays []time.Duration) {
	if len(delays) > 0 {
		n.delays = delays
	}
}

// ChainBroken alerts on a failed verification. It matches auditchain.BrokenHandler.
func (n *Notifier) ChainBroken(ctx context.Context, res *auditchain.VerificationResult) {
	payload := map[string]any{
		"status":          string(res.Status),
		"totalEntries":    res.TotalEntries,
		"verifiedEntries": res.VerifiedEntries,
		"verifiedAt":      res.VerifiedAt,
	}
	if res.BrokenLink != nil {
		payload["entryId"] = res.BrokenLink.EntryID
		payload["expectedHash"] = res.BrokenLink.ExpectedHash
		payload["actualHash"] = res.BrokenLink.ActualHash
	}
	n.Notify(ctx, EventChainBroken, payload)
}

// InvariantViolation alerts on a rejected forking append. It matches
// auditchain.ViolationHandler.
func (n *Notifier) InvariantViolation(ctx context.Context, attempted *auditchain.Entry, err error) {
	n.Notify(ctx, EventInvariantViolation, map[string]any{
		"action":       string(attempted.Action),
		"resourceId":   attempted.ResourceID,
		"previousHash": attempted.PreviousHash,
		"error":        err.Error(),
	})
}

// Notify fans eventType out to every configured URL in the background.
func (n *Notifier) Notify(ctx context.Context, eventType string, payload map[string]any) {
	if len(n.urls) == 0 {
		return
	}

	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("alert: marshal event", zap.Error(err))
		return
	}

	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.deliver(context.WithoutCancel(ctx), url, event, body)
		}(url)
	}
}

// Wait blocks until all in-flight deliveries have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// deliver sends one event to one URL with retries.
func (n *Notifier) deliver(ctx context.Context, url string, event Event, body []byte) {
	signature := signPayload(body, n.secret)

	for attempt, delay := range n.delays {
		if delay > 0 {
			time.Sleep(delay)
		}

		success, errMsg := n.doDelivery(ctx, url, event, body, signature, attempt+1)
		if n.onMetrics != nil {
			n.onMetrics(success)
		}
		if success {
			return
		}

		n.logger.Warn("alert: delivery failed",
			zap.String("url", url),
			zap.String("event", event.Type),
			zap.Int("attempt", attempt+1),
			zap.String("error", errMsg),
		)
	}
	n.logger.Error("alert: giving up", zap.String("url", url), zap.String("event_id", event.ID))
}

// doDelivery performs a single HTTP POST delivery.
func (n *Notifier) doDelivery(ctx context.Context, url string, event Event, body []byte, signature string, attempt int) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Audit-Event", event.Type)
	req.Header.Set("X-Audit-Delivery", event.ID)
	req.Header.Set("X-Audit-Attempt", strconv.Itoa(attempt))
	if signature != "" {
		req.Header.Set("X-Audit-Signature", signature)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

// signPayload computes an HMAC-SHA256 signature, or "" without a secret.
func signPayload(body []byte, secret string) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a X-Audit-Signature header against body. Receivers
// can use it to authenticate alerts.
func VerifySignature(body []byte, secret, header string) bool {
	want := signPayload(body, secret)
	return want != "" && hmac.Equal([]byte(want), []byte(header))
}
