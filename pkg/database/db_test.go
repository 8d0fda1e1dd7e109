package database_test

import (
	"context"
	"testing"

	"github.com/agentguard/agentguard/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_RejectsUnsupportedScheme(t *testing.T) {
	_, err := database.Open(context.Background(), "mongodb://localhost/agentguard")
	require.Error(t, err)
}

func TestOpen_SQLiteInMemory(t *testing.T) {
	db := openSQLite(t)
	assert.Equal(t, database.DriverSQLite, db.Driver)
}

func TestMigrate_AppliesInOrderAndIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	migrations := []database.Migration{
		{Version: 1, Name: "create_widgets", SQLite: `CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`, Postgres: `CREATE TABLE widgets (id SERIAL PRIMARY KEY, name TEXT)`},
		{Version: 2, Name: "seed_widget", SQLite: `INSERT INTO widgets (name) VALUES ('first')`, Postgres: `INSERT INTO widgets (name) VALUES ('first')`},
	}

	require.NoError(t, db.Migrate(ctx, "schema_migrations", migrations))
	// Applying again must not re-run migration 2 (which would duplicate the row).
	require.NoError(t, db.Migrate(ctx, "schema_migrations", migrations))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM widgets").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRebind_LeavesSQLitePlaceholdersAsQuestionMarks(t *testing.T) {
	db := openSQLite(t)
	got := db.Rebind("SELECT * FROM agents WHERE id = $1 AND team = $2")
	assert.Equal(t, "SELECT * FROM agents WHERE id = ? AND team = ?", got)
}
