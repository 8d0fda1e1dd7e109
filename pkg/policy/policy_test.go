package policy_test

import (
	"context"
	"testing"

	"github.com/agentguard/agentguard/pkg/condition"
	"github.com/agentguard/agentguard/pkg/database"
	"github.com/agentguard/agentguard/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTripsAgentPolicy(t *testing.T) {
	store := policy.NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetAgentPolicy(ctx, "agt_missing")
	assert.ErrorIs(t, err, policy.ErrNotFound)

	p := &policy.AgentPolicy{
		AgentID: "agt_1",
		Allow:   []policy.Rule{{Action: "read:file", Resource: "*"}},
	}
	require.NoError(t, store.PutAgentPolicy(ctx, p))

	got, err := store.GetAgentPolicy(ctx, "agt_1")
	require.NoError(t, err)
	assert.Equal(t, "agt_1", got.AgentID)
	assert.Equal(t, []policy.Rule{{Action: "read:file", Resource: "*"}}, got.Allow)
}

func TestSQLStore_RoundTripsTeamPolicyAcrossSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	defer db.Close()

	store := policy.NewSQLStore(db)
	require.NoError(t, store.Migrate(ctx))

	_, err = store.GetTeamPolicy(ctx, "t1")
	assert.ErrorIs(t, err, policy.ErrNotFound)

	p := &policy.TeamPolicy{
		Team: "t1",
		Deny: []policy.Rule{{Action: "read:*", Resource: "secret/*"}},
	}
	require.NoError(t, store.PutTeamPolicy(ctx, p))

	got, err := store.GetTeamPolicy(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Team)
	require.Len(t, got.Deny, 1)
	assert.Equal(t, "read:*", got.Deny[0].Action)

	// Upsert overwrites.
	p.Deny = append(p.Deny, policy.Rule{Action: "write:*"})
	require.NoError(t, store.PutTeamPolicy(ctx, p))
	got, err = store.GetTeamPolicy(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, got.Deny, 2)
}

func TestValidateRuleListDocument(t *testing.T) {
	valid := []byte(`{
		"allow": [{"action": "read:file", "resource": "*"}],
		"deny": [],
		"require_approval": [],
		"schema_version": "1.0.0"
	}`)
	assert.NoError(t, policy.ValidateRuleListDocument(valid))

	missingAction := []byte(`{"allow": [{"resource": "*"}], "deny": [], "require_approval": []}`)
	assert.Error(t, policy.ValidateRuleListDocument(missingAction))

	futureVersion := []byte(`{"allow": [], "deny": [], "require_approval": [], "schema_version": "99.0.0"}`)
	assert.Error(t, policy.ValidateRuleListDocument(futureVersion))

	badTimeRange := []byte(`{
		"allow": [{"action": "a:b", "conditions": {"time_range": {"start": "25:00", "end": "18:00"}}}],
		"deny": [], "require_approval": []
	}`)
	assert.Error(t, policy.ValidateRuleListDocument(badTimeRange))
}

func TestRule_EffectiveResourceDefaultsToWildcard(t *testing.T) {
	r := policy.Rule{Action: "read:file"}
	assert.Equal(t, "*", r.EffectiveResource())

	r2 := policy.Rule{Action: "read:file", Resource: "a.txt", Conditions: condition.Conditions{}}
	assert.Equal(t, "a.txt", r2.EffectiveResource())
}
