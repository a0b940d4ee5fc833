package identity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/openfilz/openfilz-core-sub000/internal/identity"
)

func newTestTokenIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	ti, err := identity.NewTokenIssuer([]byte("test-secret-0123456789"), "openfilz-audit", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestNewTokenIssuer_requiresSecret(t *testing.T) {
	if _, err := identity.NewTokenIssuer(nil, "x", 0); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestTokenIssuer_Issue(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.Issue("svc-documents", []string{identity.RoleWriter})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.Issue("svc-documents", []string{identity.RoleWriter})
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "svc-documents" {
		t.Errorf("Subject: got %q, want svc-documents", claims.Subject)
	}
	if !claims.HasRole(identity.RoleWriter) {
		t.Errorf("expected %s role, got %v", identity.RoleWriter, claims.Roles)
	}
	if claims.HasRole(identity.RoleAdmin) {
		t.Error("writer token must not carry admin role")
	}
	if claims.ID == "" {
		t.Error("expected a token ID")
	}
}

func TestClaims_adminImpliesWriter(t *testing.T) {
	c := &identity.Claims{Roles: []string{identity.RoleAdmin}}
	if !c.HasRole(identity.RoleWriter) {
		t.Error("admin should hold the writer role")
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti, err := identity.NewTokenIssuer([]byte("s"), "openfilz-audit", time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	token, err := ti.Issue("svc", nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestTokenIssuer_Verify_wrongSecret(t *testing.T) {
	ti := newTestTokenIssuer(t)
	other, _ := identity.NewTokenIssuer([]byte("another-secret"), "openfilz-audit", time.Hour)

	token, _ := other.Issue("svc", []string{identity.RoleAdmin})
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func TestTokenIssuer_Verify_wrongIssuer(t *testing.T) {
	ti := newTestTokenIssuer(t)
	other, _ := identity.NewTokenIssuer([]byte("test-secret-0123456789"), "someone-else", time.Hour)

	token, _ := other.Issue("svc", nil)
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for foreign issuer")
	}
}

func TestTokenIssuer_Verify_garbage(t *testing.T) {
	ti := newTestTokenIssuer(t)
	if _, err := ti.Verify("not.a.token"); err == nil {
		t.Error("expected error for malformed token")
	}
}
