package identity_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/openfilz/openfilz-core-sub000/internal/identity"
)

func setupRoleRouter(tokens *identity.TokenIssuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/w", identity.RequireRole(tokens, identity.RoleWriter), func(c *gin.Context) {
		c.String(http.StatusOK, identity.PrincipalFromCtx(c))
	})
	r.GET("/a", identity.RequireRole(tokens, identity.RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, identity.PrincipalFromCtx(c))
	})
	return r
}

func do(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireRole(t *testing.T) {
	ti := newTestTokenIssuer(t)
	r := setupRoleRouter(ti)

	writer, _ := ti.Issue("svc-writer", []string{identity.RoleWriter})
	admin, _ := ti.Issue("ops", []string{identity.RoleAdmin})

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
		wantBody string
	}{
		{"no token", "/w", "", http.StatusUnauthorized, ""},
		{"bad token", "/w", "garbage", http.StatusUnauthorized, ""},
		{"writer on writer route", "/w", writer, http.StatusOK, "svc-writer"},
		{"writer on admin route", "/a", writer, http.StatusForbidden, ""},
		{"admin on admin route", "/a", admin, http.StatusOK, "ops"},
		{"admin on writer route", "/w", admin, http.StatusOK, "ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.path, tt.token)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("principal: got %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRequireRole_openMode(t *testing.T) {
	r := setupRoleRouter(nil)

	w := do(r, "/a", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 in open mode, got %d", w.Code)
	}
	if w.Body.String() != "" {
		t.Errorf("expected empty principal in open mode, got %q", w.Body.String())
	}
}
