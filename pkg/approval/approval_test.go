package approval_test

import (
	"context"
	"testing"

	"github.com/agentguard/agentguard/pkg/approval"
	"github.com/agentguard/agentguard/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_OpenThenApprove_MemoryStore(t *testing.T) {
	ctx := context.Background()
	q := approval.NewQueue(approval.NewMemoryStore(), approval.NewNotifier("", ""))

	r, err := q.Open(ctx, "agt_1", "agent-one", "delete:database", "research_findings", nil)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, r.Status)

	decided, err := q.Decide(ctx, r.ApprovalID, true, "admin-1", "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, decided.Status)
	require.NotNil(t, decided.DecidedAt)

	// Terminal: a second decision must fail.
	_, err = q.Decide(ctx, r.ApprovalID, false, "admin-1", "changed my mind")
	assert.ErrorIs(t, err, approval.ErrTerminal)
}

func TestQueue_DenyRequiresReason(t *testing.T) {
	ctx := context.Background()
	q := approval.NewQueue(approval.NewMemoryStore(), approval.NewNotifier("", ""))
	r, err := q.Open(ctx, "agt_1", "agent-one", "delete:database", "prod", nil)
	require.NoError(t, err)

	_, err = q.Decide(ctx, r.ApprovalID, false, "admin-1", "")
	assert.Error(t, err)
}

func TestQueue_ListReturnsPendingCount(t *testing.T) {
	ctx := context.Background()
	q := approval.NewQueue(approval.NewMemoryStore(), approval.NewNotifier("", ""))
	_, err := q.Open(ctx, "agt_1", "a1", "read:file", "*", nil)
	require.NoError(t, err)
	r2, err := q.Open(ctx, "agt_2", "a2", "write:file", "*", nil)
	require.NoError(t, err)
	_, err = q.Decide(ctx, r2.ApprovalID, true, "admin-1", "")
	require.NoError(t, err)

	result, err := q.List(ctx, approval.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.PendingCount)
	assert.Len(t, result.Items, 2)
}

func TestSQLStore_DecideIsAtomicAndRejectsRepeat(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	defer db.Close()

	store := approval.NewSQLStore(db)
	require.NoError(t, store.Migrate(ctx))
	q := approval.NewQueue(store, approval.NewNotifier("", ""))

	r, err := q.Open(ctx, "agt_1", "a1", "delete:database", "prod", nil)
	require.NoError(t, err)

	_, err = q.Decide(ctx, r.ApprovalID, true, "admin-1", "")
	require.NoError(t, err)

	_, err = q.Decide(ctx, r.ApprovalID, true, "admin-1", "")
	assert.ErrorIs(t, err, approval.ErrTerminal)

	_, err = q.Decide(ctx, "ap_does_not_exist", true, "admin-1", "")
	assert.ErrorIs(t, err, approval.ErrNotFound)
}
