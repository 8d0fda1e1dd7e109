package identity_test

import (
	"testing"
	"time"

	"github.com/agentguard/agentguard/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySet_SignAndVerifyRoundTrip(t *testing.T) {
	ks, err := identity.NewGeneratedKeySet()
	require.NoError(t, err)
	tm := identity.NewTokenManager(ks)

	tok, err := tm.IssueAgentToken("agt_1", "prod", "payments", "jti-1", time.Hour)
	require.NoError(t, err)

	claims, err := tm.ParseAndVerify(tok)
	require.NoError(t, err)
	assert.Equal(t, "agt_1", claims.Subject)
	assert.Equal(t, identity.KindAgent, claims.Type)
	assert.Equal(t, "prod", claims.Env)
	assert.Equal(t, "payments", claims.Team)
}

func TestKeySet_Rotate_OldTokensStillVerify(t *testing.T) {
	ks, err := identity.NewGeneratedKeySet()
	require.NoError(t, err)
	tm := identity.NewTokenManager(ks)

	tok, err := tm.IssueAdminToken("adm_1", "*", identity.RoleAdmin, "jti-2", time.Hour)
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())

	claims, err := tm.ParseAndVerify(tok)
	require.NoError(t, err)
	assert.Equal(t, "adm_1", claims.Subject)
	assert.Equal(t, identity.RoleAdmin, claims.Role)
}

func TestKeySet_JWKS_PublishesAllRetainedKeys(t *testing.T) {
	ks, err := identity.NewGeneratedKeySet()
	require.NoError(t, err)
	require.NoError(t, ks.Rotate())
	require.NoError(t, ks.Rotate())

	doc := ks.JWKS()
	assert.GreaterOrEqual(t, len(doc.Keys), 2)
	for _, k := range doc.Keys {
		assert.Equal(t, "RSA", k.Kty)
		assert.Equal(t, "RS256", k.Alg)
		assert.NotEmpty(t, k.Kid)
		assert.NotEmpty(t, k.N)
	}
}

func TestTokenManager_ParseAndVerify_RejectsUnknownKey(t *testing.T) {
	ks1, err := identity.NewGeneratedKeySet()
	require.NoError(t, err)
	ks2, err := identity.NewGeneratedKeySet()
	require.NoError(t, err)

	tok, err := identity.NewTokenManager(ks1).IssueAgentToken("agt_1", "prod", "payments", "jti-3", time.Hour)
	require.NoError(t, err)

	_, err = identity.NewTokenManager(ks2).ParseAndVerify(tok)
	assert.Error(t, err)
}

func TestAdminRole_AtLeast(t *testing.T) {
	assert.True(t, identity.RoleSuperAdmin.AtLeast(identity.RoleAdmin))
	assert.True(t, identity.RoleAdmin.AtLeast(identity.RoleAdmin))
	assert.False(t, identity.RoleAuditor.AtLeast(identity.RoleApprover))
	assert.True(t, identity.RoleApprover.AtLeast(identity.RoleAuditor))
}

func TestPrincipal_KindAccessors(t *testing.T) {
	var p identity.Principal = &identity.AgentPrincipal{AgentID: "agt_1", TeamName: "payments", EnvName: "prod"}
	assert.Equal(t, identity.KindAgent, p.Kind())
	assert.Equal(t, "agt_1", p.SubjectID())

	p = &identity.AdminPrincipal{AdminID: "adm_1", RoleName: identity.RoleApprover}
	assert.Equal(t, identity.KindAdmin, p.Kind())
	assert.Equal(t, identity.RoleApprover, p.Role())

	p = &identity.PublicPrincipal{RemoteAddr: "1.2.3.4"}
	assert.Equal(t, identity.KindPublic, p.Kind())
}

