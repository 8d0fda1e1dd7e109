package policy_test

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/agentguard/agentguard/pkg/database"
	"github.com/agentguard/agentguard/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSQLStore_PutAgentPolicy_PostgresUpsert exercises the Postgres-dialect
// upsert query directly against a mocked driver, since the SQLite round
// trip above never touches the $1-placeholder ON CONFLICT branch.
func TestSQLStore_PutAgentPolicy_PostgresUpsert(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := &database.DB{DB: mockDB, Driver: database.DriverPostgres}
	store := policy.NewSQLStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agent_policies")).
		WithArgs("agt_1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.PutAgentPolicy(context.Background(), &policy.AgentPolicy{
		AgentID: "agt_1",
		Allow:   []policy.Rule{{Action: "read:file", Resource: "*"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSQLStore_GetAgentPolicy_NotFound verifies sql.ErrNoRows maps to
// policy.ErrNotFound over the mocked Postgres driver.
func TestSQLStore_GetAgentPolicy_NotFound(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := &database.DB{DB: mockDB, Driver: database.DriverPostgres}
	store := policy.NewSQLStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document, created_at, updated_at FROM agent_policies WHERE agent_id = $1")).
		WithArgs("agt_missing").
		WillReturnRows(sqlmock.NewRows([]string{"document", "created_at", "updated_at"}))

	_, err = store.GetAgentPolicy(context.Background(), "agt_missing")
	assert.ErrorIs(t, err, policy.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
