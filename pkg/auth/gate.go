// Package auth implements component K, the Auth Gate: on every inbound
// request, accept either a bearer token or a legacy static-key header,
// resolve identity, and attach it to the request context for downstream
// handlers to consult.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/agentguard/agentguard/pkg/api"
	"github.com/agentguard/agentguard/pkg/identity"
	"github.com/agentguard/agentguard/pkg/revocation"
)

// AgentKeyVerifier resolves a legacy `x-agent-key` header to an agent
// identity. Implemented by the policy/agent store.
type AgentKeyVerifier interface {
	VerifyAgentKey(ctx context.Context, rawKey string) (agentID, team, env string, ok bool, err error)
}

// AdminKeyVerifier resolves a legacy `x-admin-key` header to an admin
// identity. Implemented by the admin store.
type AdminKeyVerifier interface {
	VerifyAdminKey(ctx context.Context, rawKey string) (adminID, team string, role identity.AdminRole, ok bool, err error)
}

// Gate is the application-context record for component K, constructed once
// at startup and passed explicitly to the router (§9 design note on
// in-process singletons).
type Gate struct {
	Tokens        *identity.TokenManager
	Revocations   revocation.Checker
	SuperAdminKey string // process-wide shared secret; implicit super-admin, team="*"
	Agents        AgentKeyVerifier
	Admins        AdminKeyVerifier
}

// Middleware authenticates every request and attaches the resolved
// Principal to the context. It never itself rejects a request for lacking
// credentials — that is the job of RequireAgent/RequireAdmin, since some
// routes (health, jwks) are public. A request with credentials that fail
// verification (invalid token, invalid legacy key) is rejected with 401
// here, since presenting a bad credential is never valid.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.authenticate(r)
		if err != nil {
			api.WriteUnauthorized(w, "invalid or expired token")
			return
		}
		ctx := WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authErr distinguishes "no credential presented" (not an error — falls
// through to PublicPrincipal) from "credential presented but invalid".
type authErr struct{ msg string }

func (e *authErr) Error() string { return e.msg }

func (g *Gate) authenticate(r *http.Request) (identity.Principal, error) {
	// Bearer takes precedence when both are present, per §4.K.
	if tok := bearerToken(r); tok != "" {
		return g.authenticateBearer(r.Context(), tok)
	}
	if key := r.Header.Get("x-admin-key"); key != "" {
		return g.authenticateAdminKey(r.Context(), key)
	}
	if key := r.Header.Get("x-agent-key"); key != "" {
		return g.authenticateAgentKey(r.Context(), key)
	}
	return &identity.PublicPrincipal{RemoteAddr: r.RemoteAddr}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

func (g *Gate) authenticateBearer(ctx context.Context, tok string) (identity.Principal, error) {
	if g.Tokens == nil {
		return nil, &authErr{"token verification not configured"}
	}
	// Verification order per §4.D: (i) signature, (ii) exp, (iii) jti not
	// revoked, (iv) type permits endpoint class (checked by RequireAgent/
	// RequireAdmin downstream).
	claims, err := g.Tokens.ParseAndVerify(tok)
	if err != nil {
		return nil, err
	}
	if g.Revocations != nil {
		revoked, err := g.Revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, &authErr{"token revoked"}
		}
	}
	switch claims.Type {
	case identity.KindAgent:
		return &identity.AgentPrincipal{AgentID: claims.Subject, TeamName: claims.Team, EnvName: claims.Env}, nil
	case identity.KindAdmin:
		return &identity.AdminPrincipal{AdminID: claims.Subject, TeamName: claims.Team, RoleName: claims.Role}, nil
	default:
		return nil, &authErr{"unknown token type"}
	}
}

func (g *Gate) authenticateAdminKey(ctx context.Context, rawKey string) (identity.Principal, error) {
	if g.SuperAdminKey != "" && subtle.ConstantTimeCompare([]byte(rawKey), []byte(g.SuperAdminKey)) == 1 {
		return &identity.AdminPrincipal{AdminID: "super-admin", TeamName: "*", RoleName: identity.RoleSuperAdmin}, nil
	}
	if g.Admins == nil {
		return nil, &authErr{"invalid admin key"}
	}
	adminID, team, role, ok, err := g.Admins.VerifyAdminKey(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &authErr{"invalid admin key"}
	}
	return &identity.AdminPrincipal{AdminID: adminID, TeamName: team, RoleName: role}, nil
}

func (g *Gate) authenticateAgentKey(ctx context.Context, rawKey string) (identity.Principal, error) {
	if g.Agents == nil {
		return nil, &authErr{"invalid agent key"}
	}
	agentID, team, env, ok, err := g.Agents.VerifyAgentKey(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &authErr{"invalid agent key"}
	}
	return &identity.AgentPrincipal{AgentID: agentID, TeamName: team, EnvName: env}, nil
}

// RequireAgent rejects any request whose resolved Principal is not an
// authenticated agent (401).
func RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := GetPrincipal(r.Context())
		if err != nil || p.Kind() != identity.KindAgent {
			api.WriteUnauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects any request whose resolved Principal is not an
// admin holding at least minRole (401 if unauthenticated, 403 if
// insufficiently privileged).
func RequireAdmin(minRole identity.AdminRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := GetPrincipal(r.Context())
			if err != nil || p.Kind() != identity.KindAdmin {
				api.WriteUnauthorized(w, "admin token required")
				return
			}
			if !p.Role().AtLeast(minRole) {
				api.WriteForbidden(w, "insufficient admin role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAgentOrAdmin accepts either class, used by routes like GET /logs
// and GET /approvals/{id} that both an agent and an admin may poll.
func RequireAgentOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := GetPrincipal(r.Context())
		if err != nil || (p.Kind() != identity.KindAgent && p.Kind() != identity.KindAdmin) {
			api.WriteUnauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
