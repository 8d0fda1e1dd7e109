package engine_test

import (
	"context"
	"testing"

	"github.com/agentguard/agentguard/pkg/agent"
	"github.com/agentguard/agentguard/pkg/approval"
	"github.com/agentguard/agentguard/pkg/condition"
	"github.com/agentguard/agentguard/pkg/engine"
	"github.com/agentguard/agentguard/pkg/policy"
	"github.com/agentguard/agentguard/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*engine.Engine, agent.Store, policy.Store, store.Store) {
	t.Helper()
	agents := agent.NewMemoryStore()
	policies := policy.NewMemoryStore()
	audit := store.NewMemoryStore()
	queue := approval.NewQueue(approval.NewMemoryStore(), approval.NewNotifier("", ""))
	e := engine.New(agents, policies, queue, audit)
	return e, agents, policies, audit
}

func seedAgent(t *testing.T, agents agent.Store, id, team string) {
	t.Helper()
	require.NoError(t, agents.CreateAgent(context.Background(), &agent.Agent{
		AgentID: id, OwnerTeam: team, Environment: agent.EnvProd, IsActive: true,
	}))
}

func TestDecide_DefaultDenyWithNoPolicy(t *testing.T) {
	e, agents, _, audit := newTestEngine(t)
	seedAgent(t, agents, "agt_1", "payments")

	v, err := e.Decide(context.Background(), engine.Request{AgentID: "agt_1", Action: "read:file", Resource: "*"})
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictDeny, v.Kind)
	assert.Equal(t, "no matching rule", v.Reason)

	entries, err := audit.List(context.Background(), "agt_1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.ResultDenied, entries[0].Result)
}

func TestDecide_AllowsMatchingRule(t *testing.T) {
	e, agents, policies, _ := newTestEngine(t)
	seedAgent(t, agents, "agt_1", "payments")
	require.NoError(t, policies.PutAgentPolicy(context.Background(), &policy.AgentPolicy{
		AgentID: "agt_1",
		Allow:   []policy.Rule{{Action: "read:*", Resource: "*"}},
	}))

	v, err := e.Decide(context.Background(), engine.Request{AgentID: "agt_1", Action: "read file", Resource: "report.csv"})
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictAllow, v.Kind)
}

func TestDecide_TeamDenyBeatsAgentAllow(t *testing.T) {
	e, agents, policies, _ := newTestEngine(t)
	seedAgent(t, agents, "agt_1", "payments")
	ctx := context.Background()
	require.NoError(t, policies.PutTeamPolicy(ctx, &policy.TeamPolicy{
		Team: "payments",
		Deny: []policy.Rule{{Action: "delete:*", Resource: "*"}},
	}))
	require.NoError(t, policies.PutAgentPolicy(ctx, &policy.AgentPolicy{
		AgentID: "agt_1",
		Allow:   []policy.Rule{{Action: "delete:*", Resource: "*"}},
	}))

	v, err := e.Decide(ctx, engine.Request{AgentID: "agt_1", Action: "delete:database", Resource: "prod"})
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictDeny, v.Kind)
	assert.Contains(t, v.Reason, "deny rule")
}

func TestDecide_RequireApprovalOpensPendingApproval(t *testing.T) {
	e, agents, policies, _ := newTestEngine(t)
	seedAgent(t, agents, "agt_1", "payments")
	require.NoError(t, policies.PutAgentPolicy(context.Background(), &policy.AgentPolicy{
		AgentID:         "agt_1",
		RequireApproval: []policy.Rule{{Action: "delete:*", Resource: "*"}},
	}))

	v, err := e.Decide(context.Background(), engine.Request{AgentID: "agt_1", Action: "delete:database", Resource: "prod"})
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictPending, v.Kind)
	assert.NotEmpty(t, v.ApprovalID)
}

func TestDecide_ConditionGuardMustHoldForMatch(t *testing.T) {
	e, agents, policies, _ := newTestEngine(t)
	seedAgent(t, agents, "agt_1", "payments")
	require.NoError(t, policies.PutAgentPolicy(context.Background(), &policy.AgentPolicy{
		AgentID: "agt_1",
		Allow: []policy.Rule{{
			Action:     "read:*",
			Resource:   "*",
			Conditions: condition.Conditions{Env: []string{"dev"}},
		}},
	}))

	// Agent's environment is prod, rule requires dev: guard fails, falls to default deny.
	v, err := e.Decide(context.Background(), engine.Request{AgentID: "agt_1", Action: "read:file", Resource: "*"})
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictDeny, v.Kind)
}

func TestDecide_PolicyStoreFailureFailsClosed(t *testing.T) {
	agents := agent.NewMemoryStore()
	seedAgent(t, agents, "agt_1", "payments")
	audit := store.NewMemoryStore()
	queue := approval.NewQueue(approval.NewMemoryStore(), approval.NewNotifier("", ""))
	e := engine.New(agents, failingPolicyStore{}, queue, audit)

	v, err := e.Decide(context.Background(), engine.Request{AgentID: "agt_1", Action: "read:file", Resource: "*"})
	require.Error(t, err)
	assert.Equal(t, engine.VerdictDeny, v.Kind)
	assert.Equal(t, "policy unavailable", v.Reason)

	entries, _ := audit.List(context.Background(), "agt_1", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, store.ResultError, entries[0].Result)
}

type failingPolicyStore struct{}

func (failingPolicyStore) GetAgentPolicy(context.Context, string) (*policy.AgentPolicy, error) {
	return nil, assertUnavailable
}
func (failingPolicyStore) PutAgentPolicy(context.Context, *policy.AgentPolicy) error { return nil }
func (failingPolicyStore) GetTeamPolicy(context.Context, string) (*policy.TeamPolicy, error) {
	return nil, assertUnavailable
}
func (failingPolicyStore) PutTeamPolicy(context.Context, *policy.TeamPolicy) error { return nil }

var assertUnavailable = policyUnavailableErr{}

type policyUnavailableErr struct{}

func (policyUnavailableErr) Error() string { return "store unreachable" }
