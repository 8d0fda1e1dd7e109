package approval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentguard/agentguard/pkg/database"
)

// SQLStore implements Store against either Postgres or SQLite.
type SQLStore struct {
	db *database.DB
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

var migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_approvals",
		Postgres: `CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			context JSONB,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			decided_at TIMESTAMP,
			decided_by TEXT,
			decision_reason TEXT
		)`,
		SQLite: `CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			context TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			decided_at TIMESTAMP,
			decided_by TEXT,
			decision_reason TEXT
		)`,
	},
}

// Migrate applies the approval store's schema. Call once at startup.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, "approval_schema_migrations", migrations)
}

func (s *SQLStore) Create(ctx context.Context, r *Request) error {
	query := s.db.Rebind(`INSERT INTO approvals (approval_id, agent_id, action, resource, context, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	_, err := s.db.ExecContext(ctx, query, r.ApprovalID, r.AgentID, r.Action, r.Resource, []byte(r.Context), r.Status, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("approval: create: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, approvalID string) (*Request, error) {
	query := s.db.Rebind(`SELECT approval_id, agent_id, action, resource, context, status, created_at, decided_at, decided_by, decision_reason
		FROM approvals WHERE approval_id = $1`)
	return s.scanOne(s.db.QueryRowContext(ctx, query, approvalID))
}

func (s *SQLStore) scanOne(row *sql.Row) (*Request, error) {
	var r Request
	var ctxRaw []byte
	var decidedAt sql.NullTime
	var decidedBy, reason sql.NullString

	err := row.Scan(&r.ApprovalID, &r.AgentID, &r.Action, &r.Resource, &ctxRaw, &r.Status, &r.CreatedAt, &decidedAt, &decidedBy, &reason)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("approval: scan: %w", err)
	}
	r.Context = ctxRaw
	if decidedAt.Valid {
		r.DecidedAt = &decidedAt.Time
	}
	r.DecidedBy = decidedBy.String
	r.DecisionReason = reason.String
	return &r, nil
}

func (s *SQLStore) Decide(ctx context.Context, approvalID string, status Status, decidedBy, reason string, decidedAt time.Time) (*Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	selectQuery := s.db.Rebind(`SELECT status FROM approvals WHERE approval_id = $1`)
	var current Status
	if err := tx.QueryRowContext(ctx, selectQuery, approvalID).Scan(&current); err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("approval: decide lookup: %w", err)
	}
	if current != StatusPending {
		return nil, ErrTerminal
	}

	updateQuery := s.db.Rebind(`UPDATE approvals SET status = $1, decided_at = $2, decided_by = $3, decision_reason = $4 WHERE approval_id = $5 AND status = 'pending'`)
	res, err := tx.ExecContext(ctx, updateQuery, status, decidedAt, decidedBy, reason, approvalID)
	if err != nil {
		return nil, fmt.Errorf("approval: decide update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Another writer beat us to the decision between SELECT and UPDATE.
		return nil, ErrTerminal
	}

	selectFullQuery := s.db.Rebind(`SELECT approval_id, agent_id, action, resource, context, status, created_at, decided_at, decided_by, decision_reason
		FROM approvals WHERE approval_id = $1`)
	r, err := s.scanOne(tx.QueryRowContext(ctx, selectFullQuery, approvalID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLStore) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	pendingQuery := `SELECT COUNT(*) FROM approvals WHERE status = 'pending'`
	var pending int
	if err := s.db.QueryRowContext(ctx, pendingQuery).Scan(&pending); err != nil {
		return nil, fmt.Errorf("approval: count pending: %w", err)
	}

	query := `SELECT approval_id, agent_id, action, resource, context, status, created_at, decided_at, decided_by, decision_reason FROM approvals WHERE 1=1`
	var args []interface{}
	n := 1
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, filter.Status)
		n++
	}
	if filter.AgentID != "" {
		query += fmt.Sprintf(" AND agent_id = $%d", n)
		args = append(args, filter.AgentID)
		n++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}
	query = s.db.Rebind(query)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("approval: list: %w", err)
	}
	defer rows.Close()

	var items []*Request
	for rows.Next() {
		var r Request
		var ctxRaw []byte
		var decidedAt sql.NullTime
		var decidedBy, reason sql.NullString
		if err := rows.Scan(&r.ApprovalID, &r.AgentID, &r.Action, &r.Resource, &ctxRaw, &r.Status, &r.CreatedAt, &decidedAt, &decidedBy, &reason); err != nil {
			return nil, fmt.Errorf("approval: scan list row: %w", err)
		}
		r.Context = ctxRaw
		if decidedAt.Valid {
			r.DecidedAt = &decidedAt.Time
		}
		r.DecidedBy = decidedBy.String
		r.DecisionReason = reason.String
		items = append(items, &r)
	}
	return &ListResult{Items: items, PendingCount: pending}, nil
}
