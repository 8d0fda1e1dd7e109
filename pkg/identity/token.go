package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AgentGuardClaims are the JWT claims issued by the token signer per §4.D:
// {sub, jti, iat, exp, type, env?, team?, role?}.
type AgentGuardClaims struct {
	jwt.RegisteredClaims
	Type PrincipalKind `json:"type"`
	Env  string        `json:"env,omitempty"`
	Team string        `json:"team,omitempty"`
	Role AdminRole     `json:"role,omitempty"`
}

// TokenManager issues and validates bearer tokens against a KeySet.
type TokenManager struct {
	keySet KeySet
}

func NewTokenManager(ks KeySet) *TokenManager {
	return &TokenManager{keySet: ks}
}

// IssueAgentToken signs a token for an authenticated agent. Per §4.D, agent
// tokens expire one hour after issue.
func (tm *TokenManager) IssueAgentToken(agentID, env, team string, jti string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := AgentGuardClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "agentguard",
		},
		Type: KindAgent,
		Env:  env,
		Team: team,
	}
	return tm.keySet.Sign(context.Background(), claims)
}

// IssueAdminToken signs a token for an authenticated administrator. Per
// §4.D, admin tokens expire eight hours after issue.
func (tm *TokenManager) IssueAdminToken(adminID, team string, role AdminRole, jti string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := AgentGuardClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "agentguard",
		},
		Type: KindAdmin,
		Team: team,
		Role: role,
	}
	return tm.keySet.Sign(context.Background(), claims)
}

// ParseAndVerify validates signature and expiry only; revocation-set and
// endpoint-class checks are the caller's responsibility (auth gate, K),
// per the verification order in §4.D.
func (tm *TokenManager) ParseAndVerify(tokenString string) (*AgentGuardClaims, error) {
	claims := &AgentGuardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, tm.keySet.KeyFunc())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
