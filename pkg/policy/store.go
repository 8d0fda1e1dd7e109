package policy

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store lookups when no policy exists for the
// given agent/team — the decision engine interprets this as "deny
// everything" (agent) or "contributes nothing" (team), per §3.
var ErrNotFound = errors.New("policy: not found")

// Store is the data-access contract the decision engine (J) depends on:
// transactional read/write of AgentPolicy and TeamPolicy, per §9's DAL
// design note.
type Store interface {
	GetAgentPolicy(ctx context.Context, agentID string) (*AgentPolicy, error)
	PutAgentPolicy(ctx context.Context, p *AgentPolicy) error

	GetTeamPolicy(ctx context.Context, team string) (*TeamPolicy, error)
	PutTeamPolicy(ctx context.Context, p *TeamPolicy) error
}
