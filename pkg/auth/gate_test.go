package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentguard/agentguard/pkg/identity"
	"github.com/agentguard/agentguard/pkg/revocation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*Gate, *identity.TokenManager) {
	t.Helper()
	ks, err := identity.NewGeneratedKeySet()
	require.NoError(t, err)
	tm := identity.NewTokenManager(ks)
	return &Gate{
		Tokens:        tm,
		Revocations:   revocation.NewInMemorySet(),
		SuperAdminKey: "top-secret-super-admin-key",
	}, tm
}

func withAuth(r *http.Request, header, value string) *http.Request {
	r.Header.Set(header, value)
	return r
}

func TestGate_BearerAgentToken(t *testing.T) {
	gate, tm := newTestGate(t)
	tok, err := tm.IssueAgentToken("agent-1", "prod", "payments", "jti-1", time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	var seen identity.Principal
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetPrincipal(r.Context())
	}))
	req := withAuth(httptest.NewRequest(http.MethodPost, "/enforce", nil), "Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.Equal(t, identity.KindAgent, seen.Kind())
	assert.Equal(t, "agent-1", seen.SubjectID())
	assert.Equal(t, "payments", seen.Team())
	assert.Equal(t, "prod", seen.Env())
}

func TestGate_RevokedTokenRejected(t *testing.T) {
	gate, tm := newTestGate(t)
	tok, err := tm.IssueAgentToken("agent-1", "prod", "payments", "jti-revoked", time.Hour)
	require.NoError(t, err)
	require.NoError(t, gate.Revocations.(revocation.Set).Revoke(context.Background(), "jti-revoked", time.Now().Add(time.Hour)))

	rec := httptest.NewRecorder()
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached for a revoked token")
	}))
	req := withAuth(httptest.NewRequest(http.MethodPost, "/enforce", nil), "Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGate_NoCredentialsResolvesPublicPrincipal(t *testing.T) {
	gate, _ := newTestGate(t)

	var seen identity.Principal
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetPrincipal(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	assert.Equal(t, identity.KindPublic, seen.Kind())
}

func TestGate_SuperAdminKeyGrantsSuperAdmin(t *testing.T) {
	gate, _ := newTestGate(t)

	var seen identity.Principal
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetPrincipal(r.Context())
	}))
	req := withAuth(httptest.NewRequest(http.MethodPost, "/agents", nil), "x-admin-key", "top-secret-super-admin-key")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	assert.Equal(t, identity.KindAdmin, seen.Kind())
	assert.True(t, seen.Role().AtLeast(identity.RoleSuperAdmin))
	assert.Equal(t, "*", seen.Team())
}

func TestGate_BearerTakesPrecedenceOverLegacyKey(t *testing.T) {
	gate, tm := newTestGate(t)
	tok, err := tm.IssueAgentToken("agent-1", "prod", "payments", "jti-2", time.Hour)
	require.NoError(t, err)

	var seen identity.Principal
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetPrincipal(r.Context())
	}))
	req := httptest.NewRequest(http.MethodPost, "/enforce", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("x-admin-key", "top-secret-super-admin-key")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	assert.Equal(t, identity.KindAgent, seen.Kind())
}

func TestRequireAgent_RejectsAdmin(t *testing.T) {
	rec := httptest.NewRecorder()
	h := RequireAgent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))
	req := httptest.NewRequest(http.MethodPost, "/enforce", nil)
	ctx := WithPrincipal(req.Context(), &identity.AdminPrincipal{AdminID: "a1", RoleName: identity.RoleAdmin})
	h.ServeHTTP(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin_InsufficientRoleIsForbidden(t *testing.T) {
	rec := httptest.NewRecorder()
	h := RequireAdmin(identity.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))
	req := httptest.NewRequest(http.MethodPost, "/agents", nil)
	ctx := WithPrincipal(req.Context(), &identity.AdminPrincipal{AdminID: "a1", RoleName: identity.RoleAuditor})
	h.ServeHTTP(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdmin_SufficientRolePasses(t *testing.T) {
	rec := httptest.NewRecorder()
	called := false
	h := RequireAdmin(identity.RoleApprover)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodPost, "/approvals/1/approve", nil)
	ctx := WithPrincipal(req.Context(), &identity.AdminPrincipal{AdminID: "a1", RoleName: identity.RoleSuperAdmin})
	h.ServeHTTP(rec, req.WithContext(ctx))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
