// Package agent implements the Agent and AdminUser registries named in
// §3: identity records the decision engine (J) and auth gate (K) consult,
// as distinct from the policies (G) attached to them.
package agent

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/agentguard/agentguard/pkg/identity"
)

var (
	ErrNotFound      = errors.New("agent: not found")
	ErrInactive      = errors.New("agent: deactivated")
	ErrAlreadyExists = errors.New("agent: already exists")
)

// Environment is the agent's deployment environment, per §3.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// Agent is §3's Agent entity.
type Agent struct {
	AgentID     string      `json:"agent_id"`
	DisplayName string      `json:"display_name"`
	OwnerTeam   string      `json:"owner_team"`
	Environment Environment `json:"environment"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Credential is §3's AgentCredential entity. The raw secret is never
// persisted or logged; only its hash and a diagnostic prefix are kept.
type Credential struct {
	AgentID      string `json:"agent_id"`
	SecretHash   string `json:"-"`
	SecretPrefix string `json:"secret_prefix"`
	IsActive     bool   `json:"is_active"`
}

// AdminUser is §3's AdminUser entity.
type AdminUser struct {
	AdminID       string            `json:"admin_id"`
	DisplayName   string            `json:"display_name"`
	Role          identity.AdminRole `json:"role"`
	Team          string            `json:"team,omitempty"` // empty = all teams
	CredentialHash string           `json:"-"`
	IsActive      bool              `json:"is_active"`
}

// hashSecret derives the storable hash of a raw credential secret. SHA-256
// is used rather than a slow KDF (bcrypt/argon2) because these are
// high-entropy, machine-generated secrets, not user-chosen passwords — the
// threat model is theft of the stored hash, not offline guessing of a weak
// secret; a fast, constant-time-comparable digest is the right primitive.
func hashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashSecret exposes hashSecret to callers outside this package that need
// to pre-hash an operator-supplied secret (a fixed admin key from config, a
// bootstrap fixture) before handing it to Store.SetCredential or populating
// AdminUser.CredentialHash directly.
func HashSecret(raw string) (hash, prefix string) {
	return hashSecret(raw), raw[:min(8, len(raw))]
}

// GenerateSecret returns a new high-entropy raw secret and its storable
// hash. The raw value is returned to the caller exactly once, per §3.
func GenerateSecret() (raw, hash, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", err
	}
	raw = hex.EncodeToString(buf)
	hash = hashSecret(raw)
	prefix = raw[:8]
	return raw, hash, prefix, nil
}

// Store is the persistence contract for agents, their credentials, and
// admin users. Agents own their credentials and policy per §3's ownership
// notes; deactivation is soft and cascades only to credentials.
type Store interface {
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
	ListAgents(ctx context.Context, team string) ([]*Agent, error)
	DeactivateAgent(ctx context.Context, agentID string) error

	SetCredential(ctx context.Context, agentID, secretHash, secretPrefix string) error
	VerifyAgentSecret(ctx context.Context, rawSecret string) (agentID string, ok bool, err error)

	CreateAdmin(ctx context.Context, a *AdminUser) error
	GetAdmin(ctx context.Context, adminID string) (*AdminUser, error)
	VerifyAdminSecret(ctx context.Context, rawSecret string) (adminID string, ok bool, err error)
}

// KeyVerifier adapts a Store to the auth.AgentKeyVerifier/AdminKeyVerifier
// interfaces the gate depends on, resolving the legacy x-agent-key/
// x-admin-key headers to a full identity (team, environment, role).
type KeyVerifier struct {
	Store Store
}

func (v *KeyVerifier) VerifyAgentKey(ctx context.Context, rawKey string) (agentID, team, env string, ok bool, err error) {
	id, found, err := v.Store.VerifyAgentSecret(ctx, rawKey)
	if err != nil || !found {
		return "", "", "", false, err
	}
	a, err := v.Store.GetAgent(ctx, id)
	if err != nil {
		return "", "", "", false, err
	}
	if !a.IsActive {
		return "", "", "", false, nil
	}
	return a.AgentID, a.OwnerTeam, string(a.Environment), true, nil
}

func (v *KeyVerifier) VerifyAdminKey(ctx context.Context, rawKey string) (adminID, team string, role identity.AdminRole, ok bool, err error) {
	id, found, err := v.Store.VerifyAdminSecret(ctx, rawKey)
	if err != nil || !found {
		return "", "", "", false, err
	}
	admin, err := v.Store.GetAdmin(ctx, id)
	if err != nil {
		return "", "", "", false, err
	}
	if !admin.IsActive {
		return "", "", "", false, nil
	}
	return admin.AdminID, admin.Team, admin.Role, true, nil
}
