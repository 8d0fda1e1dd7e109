package agent

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentguard/agentguard/pkg/database"
	"github.com/agentguard/agentguard/pkg/identity"
)

// SQLStore implements Store against either Postgres or SQLite, grounded on
// the same upsert pattern as policy.SQLStore (itself grounded on the
// teacher's PostgresRegistry).
type SQLStore struct {
	db *database.DB
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

var migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_agents",
		Postgres: `CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			owner_team TEXT NOT NULL,
			environment TEXT NOT NULL,
			is_active BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		SQLite: `CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			owner_team TEXT NOT NULL,
			environment TEXT NOT NULL,
			is_active INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	},
	{
		Version: 2,
		Name:    "create_agent_credentials",
		Postgres: `CREATE TABLE IF NOT EXISTS agent_credentials (
			agent_id TEXT PRIMARY KEY REFERENCES agents(agent_id),
			secret_hash TEXT NOT NULL UNIQUE,
			secret_prefix TEXT NOT NULL,
			is_active BOOLEAN NOT NULL
		)`,
		SQLite: `CREATE TABLE IF NOT EXISTS agent_credentials (
			agent_id TEXT PRIMARY KEY REFERENCES agents(agent_id),
			secret_hash TEXT NOT NULL UNIQUE,
			secret_prefix TEXT NOT NULL,
			is_active INTEGER NOT NULL
		)`,
	},
	{
		Version: 3,
		Name:    "create_admin_users",
		Postgres: `CREATE TABLE IF NOT EXISTS admin_users (
			admin_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			role TEXT NOT NULL,
			team TEXT NOT NULL DEFAULT '',
			credential_hash TEXT NOT NULL UNIQUE,
			is_active BOOLEAN NOT NULL
		)`,
		SQLite: `CREATE TABLE IF NOT EXISTS admin_users (
			admin_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			role TEXT NOT NULL,
			team TEXT NOT NULL DEFAULT '',
			credential_hash TEXT NOT NULL UNIQUE,
			is_active INTEGER NOT NULL
		)`,
	},
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, "agent_schema_migrations", migrations)
}

func (s *SQLStore) CreateAgent(ctx context.Context, a *Agent) error {
	now := time.Now().UTC()
	query := s.db.Rebind(`INSERT INTO agents (agent_id, display_name, owner_team, environment, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`)
	_, err := s.db.ExecContext(ctx, query, a.AgentID, a.DisplayName, a.OwnerTeam, string(a.Environment), a.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("agent: create: %w", err)
	}
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

func (s *SQLStore) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	query := s.db.Rebind(`SELECT agent_id, display_name, owner_team, environment, is_active, created_at, updated_at
		FROM agents WHERE agent_id = $1`)
	var a Agent
	var env string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&a.AgentID, &a.DisplayName, &a.OwnerTeam, &env, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("agent: get: %w", err)
	}
	a.Environment = Environment(env)
	return &a, nil
}

func (s *SQLStore) ListAgents(ctx context.Context, team string) ([]*Agent, error) {
	query := `SELECT agent_id, display_name, owner_team, environment, is_active, created_at, updated_at FROM agents`
	var args []interface{}
	if team != "" {
		query += s.db.Rebind(` WHERE owner_team = $1`)
		args = append(args, team)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("agent: list: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		var a Agent
		var env string
		if err := rows.Scan(&a.AgentID, &a.DisplayName, &a.OwnerTeam, &env, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("agent: scan: %w", err)
		}
		a.Environment = Environment(env)
		out = append(out, &a)
	}
	return out, nil
}

func (s *SQLStore) DeactivateAgent(ctx context.Context, agentID string) error {
	query := s.db.Rebind(`UPDATE agents SET is_active = false, updated_at = $1 WHERE agent_id = $2`)
	if s.db.Driver == database.DriverSQLite {
		query = s.db.Rebind(`UPDATE agents SET is_active = 0, updated_at = $1 WHERE agent_id = $2`)
	}
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), agentID)
	if err != nil {
		return fmt.Errorf("agent: deactivate: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	deactQuery := s.db.Rebind(`UPDATE agent_credentials SET is_active = false WHERE agent_id = $1`)
	if s.db.Driver == database.DriverSQLite {
		deactQuery = s.db.Rebind(`UPDATE agent_credentials SET is_active = 0 WHERE agent_id = $1`)
	}
	_, err = s.db.ExecContext(ctx, deactQuery, agentID)
	return err
}

func (s *SQLStore) SetCredential(ctx context.Context, agentID, secretHash, secretPrefix string) error {
	var query string
	switch s.db.Driver {
	case database.DriverPostgres:
		query = `INSERT INTO agent_credentials (agent_id, secret_hash, secret_prefix, is_active)
			VALUES ($1, $2, $3, true)
			ON CONFLICT (agent_id) DO UPDATE SET secret_hash = $2, secret_prefix = $3, is_active = true`
	default:
		query = `INSERT INTO agent_credentials (agent_id, secret_hash, secret_prefix, is_active)
			VALUES (?, ?, ?, 1)
			ON CONFLICT (agent_id) DO UPDATE SET secret_hash = excluded.secret_hash, secret_prefix = excluded.secret_prefix, is_active = 1`
	}
	_, err := s.db.ExecContext(ctx, query, agentID, secretHash, secretPrefix)
	if err != nil {
		return fmt.Errorf("agent: set credential: %w", err)
	}
	return nil
}

func (s *SQLStore) VerifyAgentSecret(ctx context.Context, rawSecret string) (string, bool, error) {
	query := s.db.Rebind(`SELECT agent_id FROM agent_credentials WHERE secret_hash = $1 AND is_active = true`)
	if s.db.Driver == database.DriverSQLite {
		query = s.db.Rebind(`SELECT agent_id FROM agent_credentials WHERE secret_hash = $1 AND is_active = 1`)
	}
	var agentID string
	err := s.db.QueryRowContext(ctx, query, hashSecret(rawSecret)).Scan(&agentID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("agent: verify secret: %w", err)
	}
	return agentID, true, nil
}

func (s *SQLStore) CreateAdmin(ctx context.Context, a *AdminUser) error {
	query := s.db.Rebind(`INSERT INTO admin_users (admin_id, display_name, role, team, credential_hash, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)`)
	_, err := s.db.ExecContext(ctx, query, a.AdminID, a.DisplayName, string(a.Role), a.Team, a.CredentialHash, a.IsActive)
	if err != nil {
		return fmt.Errorf("agent: create admin: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAdmin(ctx context.Context, adminID string) (*AdminUser, error) {
	query := s.db.Rebind(`SELECT admin_id, display_name, role, team, credential_hash, is_active FROM admin_users WHERE admin_id = $1`)
	var a AdminUser
	var role string
	err := s.db.QueryRowContext(ctx, query, adminID).Scan(&a.AdminID, &a.DisplayName, &role, &a.Team, &a.CredentialHash, &a.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("agent: get admin: %w", err)
	}
	a.Role = identity.AdminRole(role)
	return &a, nil
}

func (s *SQLStore) VerifyAdminSecret(ctx context.Context, rawSecret string) (string, bool, error) {
	query := s.db.Rebind(`SELECT admin_id FROM admin_users WHERE credential_hash = $1 AND is_active = true`)
	if s.db.Driver == database.DriverSQLite {
		query = s.db.Rebind(`SELECT admin_id FROM admin_users WHERE credential_hash = $1 AND is_active = 1`)
	}
	var adminID string
	err := s.db.QueryRowContext(ctx, query, hashSecret(rawSecret)).Scan(&adminID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("agent: verify admin secret: %w", err)
	}
	return adminID, true, nil
}
