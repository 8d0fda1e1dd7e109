package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentguard/agentguard/pkg/database"
)

// SQLStore implements Store against either Postgres or SQLite through
// database.DB, grounded on the teacher's PostgresRegistry upsert pattern
// (registry/postgres_registry.go) generalized to AgentGuard's policy shape.
type SQLStore struct {
	db *database.DB
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

var migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_agent_policies",
		Postgres: `CREATE TABLE IF NOT EXISTS agent_policies (
			agent_id TEXT PRIMARY KEY,
			document JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		SQLite: `CREATE TABLE IF NOT EXISTS agent_policies (
			agent_id TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	},
	{
		Version: 2,
		Name:    "create_team_policies",
		Postgres: `CREATE TABLE IF NOT EXISTS team_policies (
			team TEXT PRIMARY KEY,
			document JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		SQLite: `CREATE TABLE IF NOT EXISTS team_policies (
			team TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	},
}

// Migrate applies the policy store's schema. Call once at startup.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, "policy_schema_migrations", migrations)
}

type ruleListDocument struct {
	Allow           []Rule `json:"allow"`
	Deny            []Rule `json:"deny"`
	RequireApproval []Rule `json:"require_approval"`
	SchemaVersion   string `json:"schema_version"`
}

func (s *SQLStore) GetAgentPolicy(ctx context.Context, agentID string) (*AgentPolicy, error) {
	query := s.db.Rebind(`SELECT document, created_at, updated_at FROM agent_policies WHERE agent_id = $1`)
	var docRaw []byte
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&docRaw, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("policy: get agent policy: %w", err)
	}

	var doc ruleListDocument
	if err := json.Unmarshal(docRaw, &doc); err != nil {
		return nil, fmt.Errorf("policy: decode agent policy: %w", err)
	}
	return &AgentPolicy{
		AgentID:         agentID,
		Allow:           doc.Allow,
		Deny:            doc.Deny,
		RequireApproval: doc.RequireApproval,
		SchemaVersion:   doc.SchemaVersion,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

func (s *SQLStore) PutAgentPolicy(ctx context.Context, p *AgentPolicy) error {
	doc := ruleListDocument{Allow: p.Allow, Deny: p.Deny, RequireApproval: p.RequireApproval, SchemaVersion: p.SchemaVersion}
	docRaw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("policy: encode agent policy: %w", err)
	}
	now := time.Now().UTC()

	var query string
	switch s.db.Driver {
	case database.DriverPostgres:
		query = `INSERT INTO agent_policies (agent_id, document, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (agent_id) DO UPDATE SET document = $2, updated_at = $3`
	default:
		query = `INSERT INTO agent_policies (agent_id, document, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (agent_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`
	}

	if s.db.Driver == database.DriverPostgres {
		_, err = s.db.ExecContext(ctx, query, p.AgentID, docRaw, now)
	} else {
		_, err = s.db.ExecContext(ctx, query, p.AgentID, docRaw, now, now)
	}
	if err != nil {
		return fmt.Errorf("policy: put agent policy: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTeamPolicy(ctx context.Context, team string) (*TeamPolicy, error) {
	query := s.db.Rebind(`SELECT document, created_at, updated_at FROM team_policies WHERE team = $1`)
	var docRaw []byte
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, query, team).Scan(&docRaw, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("policy: get team policy: %w", err)
	}

	var doc ruleListDocument
	if err := json.Unmarshal(docRaw, &doc); err != nil {
		return nil, fmt.Errorf("policy: decode team policy: %w", err)
	}
	return &TeamPolicy{
		Team:            team,
		Allow:           doc.Allow,
		Deny:            doc.Deny,
		RequireApproval: doc.RequireApproval,
		SchemaVersion:   doc.SchemaVersion,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

func (s *SQLStore) PutTeamPolicy(ctx context.Context, p *TeamPolicy) error {
	doc := ruleListDocument{Allow: p.Allow, Deny: p.Deny, RequireApproval: p.RequireApproval, SchemaVersion: p.SchemaVersion}
	docRaw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("policy: encode team policy: %w", err)
	}
	now := time.Now().UTC()

	var query string
	switch s.db.Driver {
	case database.DriverPostgres:
		query = `INSERT INTO team_policies (team, document, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (team) DO UPDATE SET document = $2, updated_at = $3`
		_, err = s.db.ExecContext(ctx, query, p.Team, docRaw, now)
	default:
		query = `INSERT INTO team_policies (team, document, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (team) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`
		_, err = s.db.ExecContext(ctx, query, p.Team, docRaw, now, now)
	}
	if err != nil {
		return fmt.Errorf("policy: put team policy: %w", err)
	}
	return nil
}
