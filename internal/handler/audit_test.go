package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openfilz/openfilz-core-sub000/internal/auditchain"
	"github.com/openfilz/openfilz-core-sub000/internal/handler"
	"github.com/openfilz/openfilz-core-sub000/internal/identity"
)

type testEnv struct {
	router   *gin.Engine
	appender *auditchain.Appender
	policy   *auditchain.ExclusionPolicy
	tokens   *identity.TokenIssuer
}

func setupAuditRouter(t *testing.T, store auditchain.Store, tokens *identity.TokenIssuer) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher, err := auditchain.NewHasher("")
	if err != nil {
		t.Fatal(err)
	}
	policy := auditchain.NewExclusionPolicy(auditchain.ActionDownloadDocument)
	appender := auditchain.NewAppender(store, hasher, policy, zap.NewNop())
	if err := appender.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(appender.Close)
	if _, _, err := appender.EnsureGenesis(context.Background()); err != nil {
		t.Fatal(err)
	}

	h := handler.NewAuditHandler(appender, auditchain.NewQueryService(store), auditchain.NewVerifier(store, hasher, zap.NewNop()), zap.NewNop())
	h.SetTokenIssuer(tokens)

	r := gin.New()
	v1 := r.Group("/api/v1")
	h.Register(v1)
	handler.NewAdminHandler(policy, tokens, zap.NewNop()).Register(v1)

	return &testEnv{router: r, appender: appender, policy: policy, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) record(t *testing.T, action, resourceID string) map[string]any {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/audit/events", map[string]any{
		"action":        action,
		"resourceType":  "FOLDER",
		"resourceId":    resourceID,
		"userPrincipal": "alice",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("record %s: expected 201, got %d: %s", action, w.Code, w.Body.String())
	}
	var entry map[string]any
	json.Unmarshal(w.Body.Bytes(), &entry)
	return entry
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var out []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode list: %v (%s)", err, w.Body.String())
	}
	return out
}

func TestRecord_linksEntries(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)

	a := env.record(t, "CREATE_FOLDER", "folder-1")
	b := env.record(t, "CREATE_FOLDER", "folder-2")

	if b["previousHash"] != a["hash"] {
		t.Errorf("B.previousHash = %v, want A.hash = %v", b["previousHash"], a["hash"])
	}
	for _, e := range []map[string]any{a, b} {
		if len(e["hash"].(string)) != 64 || len(e["previousHash"].(string)) != 64 {
			t.Errorf("hash fields must be 64 hex chars: %v", e)
		}
	}
}

func TestRecord_excludedReturns204(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)

	w := env.do(t, http.MethodPost, "/api/v1/audit/events", map[string]any{
		"action": "DOWNLOAD_DOCUMENT", "resourceType": "FILE", "resourceId": "doc-1",
	}, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecord_400(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing action", map[string]any{"resourceId": "x"}},
		{"unknown action", map[string]any{"action": "STEAL_FILE"}},
		{"reserved action", map[string]any{"action": "CHAIN_GENESIS"}},
		{"bad resource type", map[string]any{"action": "COPY_FILE", "resourceType": "DISK"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/audit/events", tt.body, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestRecord_requiresWriterToken(t *testing.T) {
	tokens, err := identity.NewTokenIssuer([]byte("secret"), "openfilz-audit", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), tokens)
	body := map[string]any{"action": "CREATE_FOLDER", "resourceType": "FOLDER", "resourceId": "f"}

	if w := env.do(t, http.MethodPost, "/api/v1/audit/events", body, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	reader, _ := tokens.Issue("svc-reader", nil)
	if w := env.do(t, http.MethodPost, "/api/v1/audit/events", body, reader); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without writer role, got %d", w.Code)
	}

	writer, _ := tokens.Issue("svc-documents", []string{identity.RoleWriter})
	w := env.do(t, http.MethodPost, "/api/v1/audit/events", body, writer)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var entry map[string]any
	json.Unmarshal(w.Body.Bytes(), &entry)
	if entry["userPrincipal"] != "svc-documents" {
		t.Errorf("principal should default to the token subject, got %v", entry["userPrincipal"])
	}

	// Reads stay open.
	if w := env.do(t, http.MethodGet, "/api/v1/audit/verify", nil, ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 on verify, got %d", w.Code)
	}
}

type brokenStore struct {
	*auditchain.MemoryStore
	fail bool
}

func (s *brokenStore) Insert(ctx context.Context, e *auditchain.Entry) error {
	if s.fail {
		return errors.New("connection reset")
	}
	return s.MemoryStore.Insert(ctx, e)
}

func TestRecord_storageFailure503(t *testing.T) {
	store := &brokenStore{MemoryStore: auditchain.NewMemoryStore()}
	env := setupAuditRouter(t, store, nil)
	store.fail = true

	w := env.do(t, http.MethodPost, "/api/v1/audit/events", map[string]any{"action": "CREATE_FOLDER"}, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTrail_200(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)
	first := env.record(t, "CREATE_FOLDER", "folder-1")
	env.record(t, "CREATE_FOLDER", "folder-2")
	last := env.record(t, "RENAME_FOLDER", "folder-1")

	w := env.do(t, http.MethodGet, "/api/v1/audit/folder-1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	trail := decodeList(t, w)
	if len(trail) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(trail))
	}
	if trail[0]["id"] != last["id"] {
		t.Errorf("default order should be newest first")
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit/folder-1?sortOrder=asc", nil, "")
	trail = decodeList(t, w)
	if trail[0]["id"] != first["id"] {
		t.Errorf("ASC order should start with the first entry")
	}
}

func TestTrail_badSortOrder(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)
	w := env.do(t, http.MethodGet, "/api/v1/audit/folder-1?sortOrder=sideways", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTrail_unknownResourceIsEmpty(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)
	w := env.do(t, http.MethodGet, "/api/v1/audit/nothing-here", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decodeList(t, w); len(got) != 0 {
		t.Errorf("expected empty trail, got %d entries", len(got))
	}
}

func TestSearch_200(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)
	env.record(t, "CREATE_FOLDER", "folder-1")
	env.record(t, "DELETE_FOLDER", "folder-1")
	env.do(t, http.MethodPost, "/api/v1/audit/events", map[string]any{
		"action": "UPLOAD_DOCUMENT", "resourceType": "FILE", "resourceId": "doc-1",
		"userPrincipal": "bob", "metadata": map[string]any{"contentType": "application/pdf"},
	}, "")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"by action", map[string]any{"action": "DELETE_FOLDER"}, 1},
		{"by user", map[string]any{"userPrincipal": "alice"}, 2},
		{"by type", map[string]any{"resourceType": "FILE"}, 1},
		{"by metadata", map[string]any{"metadata": map[string]any{"contentType": "application/pdf"}}, 1},
		{"everything", map[string]any{}, 4},
		{"limit", map[string]any{"limit": 2, "sortOrder": "DESC"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/audit/search", tt.body, "")
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			if got := decodeList(t, w); len(got) != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, len(got))
			}
		})
	}
}

func TestSearch_400(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)

	for _, body := range []map[string]any{
		{"action": "NOPE"},
		{"sortOrder": "UP"},
		{"limit": -1},
		{"from": "2024-02-01T00:00:00Z", "to": "2024-01-01T00:00:00Z"},
	} {
		w := env.do(t, http.MethodPost, "/api/v1/audit/search", body, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %v: expected 400, got %d: %s", body, w.Code, w.Body.String())
		}
	}
}

func TestRecord_principalDelegation(t *testing.T) {
	tokens, err := identity.NewTokenIssuer([]byte("secret"), "openfilz-audit", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), tokens)
	body := map[string]any{"action": "CREATE_FOLDER", "resourceType": "FOLDER", "resourceId": "f", "userPrincipal": "alice"}

	writer, _ := tokens.Issue("svc-documents", []string{identity.RoleWriter})
	if w := env.do(t, http.MethodPost, "/api/v1/audit/events", body, writer); w.Code != http.StatusForbidden {
		t.Fatalf("writer naming another principal: expected 403, got %d: %s", w.Code, w.Body.String())
	}

	self := map[string]any{"action": "CREATE_FOLDER", "userPrincipal": "svc-documents"}
	if w := env.do(t, http.MethodPost, "/api/v1/audit/events", self, writer); w.Code != http.StatusCreated {
		t.Fatalf("writer naming itself: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	delegate, _ := tokens.Issue("svc-documents", []string{identity.RoleWriter, identity.RoleDelegate})
	w := env.do(t, http.MethodPost, "/api/v1/audit/events", body, delegate)
	if w.Code != http.StatusCreated {
		t.Fatalf("delegate: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var entry map[string]any
	json.Unmarshal(w.Body.Bytes(), &entry)
	if entry["userPrincipal"] != "alice" {
		t.Errorf("delegate should record the named principal, got %v", entry["userPrincipal"])
	}
}

func TestVerify_200(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)
	for i := 0; i < 3; i++ {
		env.record(t, "CREATE_FOLDER", "f")
	}

	w := env.do(t, http.MethodGet, "/api/v1/audit/verify", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res map[string]any
	json.Unmarshal(w.Body.Bytes(), &res)
	if res["status"] != "VALID" {
		t.Errorf("expected VALID, got %v", res["status"])
	}
	if res["totalEntries"].(float64) != 4 || res["verifiedEntries"].(float64) != 4 {
		t.Errorf("expected 4/4 entries, got %v/%v", res["totalEntries"], res["verifiedEntries"])
	}
	if res["brokenLink"] != nil {
		t.Errorf("expected null brokenLink, got %v", res["brokenLink"])
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit/verify?from=2&to=3", nil, "")
	json.Unmarshal(w.Body.Bytes(), &res)
	if res["totalEntries"].(float64) != 2 {
		t.Errorf("range verify: expected 2 entries, got %v", res["totalEntries"])
	}
}

// forgingStore reports a forged hash for one entry on every scan.
type forgingStore struct {
	*auditchain.MemoryStore
	forgeID int64
}

func (s *forgingStore) Scan(ctx context.Context, from, to int64, fn func(*auditchain.Entry) error) error {
	return s.MemoryStore.Scan(ctx, from, to, func(e *auditchain.Entry) error {
		if e.ID == s.forgeID {
			forged := *e
			forged.Hash = strings.Repeat("0", 64)
			return fn(&forged)
		}
		return fn(e)
	})
}

func TestVerify_notifiesSchedulerObservers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &forgingStore{MemoryStore: auditchain.NewMemoryStore()}
	env := setupAuditRouter(t, store, nil)
	env.record(t, "CREATE_FOLDER", "f")

	hasher, _ := auditchain.NewHasher("")
	verifier := auditchain.NewVerifier(store, hasher, zap.NewNop())
	scheduler := auditchain.NewScheduler(verifier, time.Hour, zap.NewNop())
	var observed []auditchain.Status
	var alerts int
	scheduler.AddObserver(func(res *auditchain.VerificationResult) { observed = append(observed, res.Status) })
	scheduler.SetBrokenHandler(func(context.Context, *auditchain.VerificationResult) { alerts++ })

	h := handler.NewAuditHandler(env.appender, auditchain.NewQueryService(store), verifier, zap.NewNop())
	h.SetScheduler(scheduler)
	r := gin.New()
	h.Register(r.Group("/api/v1"))

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	if w := get("/api/v1/audit/verify"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	store.forgeID = 2
	if w := get("/api/v1/audit/verify"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	// Range checks do not touch the scheduler.
	get("/api/v1/audit/verify?from=2")

	if len(observed) != 2 || observed[0] != auditchain.StatusValid || observed[1] != auditchain.StatusBroken {
		t.Errorf("observers saw %v", observed)
	}
	if alerts != 1 {
		t.Errorf("expected one broken notification, got %d", alerts)
	}
	if last := scheduler.Last(); last == nil || last.Valid() {
		t.Errorf("scheduler should hold the broken result, got %+v", last)
	}
}

func TestVerify_invertedRange400(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)
	w := env.do(t, http.MethodGet, "/api/v1/audit/verify?from=3&to=2", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerify_badRange(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)
	w := env.do(t, http.MethodGet, "/api/v1/audit/verify?from=abc", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestOverview_200(t *testing.T) {
	env := setupAuditRouter(t, auditchain.NewMemoryStore(), nil)
	last := env.record(t, "CREATE_FOLDER", "f")

	w := env.do(t, http.MethodGet, "/api/v1/audit/chain", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["entries"].(float64) != 2 {
		t.Errorf("expected 2 entries, got %v", resp["entries"])
	}
	if resp["root"] != last["hash"] {
		t.Errorf("root should be the last entry hash")
	}
	if resp["algorithm"] != auditchain.AlgorithmSHA256 {
		t.Errorf("unexpected algorithm %v", resp["algorithm"])
	}
}
