package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentguard/agentguard/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_AdmitsUpToBurstThenThrottles(t *testing.T) {
	s := ratelimit.NewInMemoryStore()
	policy := ratelimit.Policy{Limit: 60, Period: time.Minute, Burst: 3}

	for i := 0; i < 3; i++ {
		r, err := s.Admit(context.Background(), "agt_1", ratelimit.BucketEnforce, policy)
		require.NoError(t, err)
		assert.True(t, r.Allowed, "request %d should be admitted within burst", i)
	}

	r, err := s.Admit(context.Background(), "agt_1", ratelimit.BucketEnforce, policy)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Greater(t, r.RetryAfter, time.Duration(0))
}

func TestInMemoryStore_KeysAreIndependentPerIdentityAndBucket(t *testing.T) {
	s := ratelimit.NewInMemoryStore()
	policy := ratelimit.Policy{Limit: 60, Period: time.Minute, Burst: 1}

	r1, err := s.Admit(context.Background(), "agt_1", ratelimit.BucketEnforce, policy)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)

	// Different identity, same bucket: independent bucket.
	r2, err := s.Admit(context.Background(), "agt_2", ratelimit.BucketEnforce, policy)
	require.NoError(t, err)
	assert.True(t, r2.Allowed)

	// Same identity, different bucket: independent bucket.
	r3, err := s.Admit(context.Background(), "agt_1", ratelimit.BucketLogs, policy)
	require.NoError(t, err)
	assert.True(t, r3.Allowed)
}

func TestAdmit_NilStoreAlwaysAllows(t *testing.T) {
	r, err := ratelimit.Admit(context.Background(), nil, "agt_1", ratelimit.BucketEnforce)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
}

func TestAdmit_UnknownBucketErrors(t *testing.T) {
	s := ratelimit.NewInMemoryStore()
	_, err := ratelimit.Admit(context.Background(), s, "agt_1", ratelimit.Bucket("nonexistent"))
	assert.Error(t, err)
}

func TestAdmit_UsesDefaultPolicyForBucket(t *testing.T) {
	s := ratelimit.NewInMemoryStore()
	r, err := ratelimit.Admit(context.Background(), s, "agt_1", ratelimit.BucketAdminWrite)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
}
