package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentguard/agentguard/pkg/database"
	"github.com/google/uuid"
)

// SQLStore implements Store against either Postgres or SQLite, serializing
// writes per agent with an in-process mutex (the per-agent write
// serializer named in §4.I/§9). No cross-process lock is taken, so appends
// for one agent from separate processes are not serialized.
type SQLStore struct {
	db *database.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db, locks: make(map[string]*sync.Mutex)}
}

var auditMigrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_audit_entries",
		Postgres: `CREATE TABLE IF NOT EXISTS audit_entries (
			log_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			context JSONB,
			allowed BOOLEAN NOT NULL,
			result TEXT NOT NULL,
			metadata JSONB,
			request_id TEXT,
			prev_log_id TEXT,
			chain_hash TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_agent_ts ON audit_entries (agent_id, ts)`,
		SQLite: `CREATE TABLE IF NOT EXISTS audit_entries (
			log_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			context TEXT,
			allowed INTEGER NOT NULL,
			result TEXT NOT NULL,
			metadata TEXT,
			request_id TEXT,
			prev_log_id TEXT,
			chain_hash TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_agent_ts ON audit_entries (agent_id, ts)`,
	},
}

// Migrate applies the audit store's schema. Call once at startup.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, "audit_schema_migrations", auditMigrations)
}

func (s *SQLStore) lockFor(agentID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agentID] = l
	}
	return l
}

func (s *SQLStore) Append(ctx context.Context, in AppendInput) (*AuditEntry, error) {
	lock := s.lockFor(in.AgentID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.latestLocked(ctx, in.AgentID)
	if err != nil && err != ErrEntryNotFound {
		return nil, fmt.Errorf("store: read latest for chain link: %w", err)
	}

	var prevLogID *string
	prevChainHash := ""
	if prev != nil {
		id := prev.LogID
		prevLogID = &id
		prevChainHash = prev.ChainHash
	}

	entry := &AuditEntry{
		LogID:     uuid.NewString(),
		AgentID:   in.AgentID,
		Timestamp: time.Now().UTC(),
		Action:    in.Action,
		Resource:  in.Resource,
		Context:   in.Context,
		Allowed:   in.Allowed,
		Result:    in.Result,
		Metadata:  in.Metadata,
		RequestID: in.RequestID,
		PrevLogID: prevLogID,
	}
	hash, err := computeChainHash(prevChainHash, entry)
	if err != nil {
		return nil, err
	}
	entry.ChainHash = hash

	metaRaw, err := json.Marshal(entry.Metadata)
	if err != nil {
		return nil, fmt.Errorf("store: encode metadata: %w", err)
	}
	var prevLogIDValue interface{}
	if entry.PrevLogID != nil {
		prevLogIDValue = *entry.PrevLogID
	}

	query := s.db.Rebind(`INSERT INTO audit_entries
		(log_id, agent_id, ts, action, resource, context, allowed, result, metadata, request_id, prev_log_id, chain_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`)
	_, err = s.db.ExecContext(ctx, query,
		entry.LogID, entry.AgentID, entry.Timestamp, entry.Action, entry.Resource,
		[]byte(entry.Context), entry.Allowed, entry.Result, metaRaw, entry.RequestID,
		prevLogIDValue, entry.ChainHash,
	)
	if err != nil {
		return nil, fmt.Errorf("store: append audit entry: %w", err)
	}
	return entry, nil
}

func (s *SQLStore) scanRow(row interface {
	Scan(dest ...interface{}) error
}) (*AuditEntry, error) {
	var e AuditEntry
	var ctxRaw, metaRaw []byte
	var prevLogID sql.NullString

	if err := row.Scan(&e.LogID, &e.AgentID, &e.Timestamp, &e.Action, &e.Resource, &ctxRaw, &e.Allowed, &e.Result, &metaRaw, &e.RequestID, &prevLogID, &e.ChainHash); err != nil {
		return nil, err
	}
	e.Context = ctxRaw
	if prevLogID.Valid {
		id := prevLogID.String
		e.PrevLogID = &id
	}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &e.Metadata)
	}
	return &e, nil
}

func (s *SQLStore) latestLocked(ctx context.Context, agentID string) (*AuditEntry, error) {
	query := s.db.Rebind(`SELECT log_id, agent_id, ts, action, resource, context, allowed, result, metadata, request_id, prev_log_id, chain_hash
		FROM audit_entries WHERE agent_id = $1 ORDER BY ts DESC, log_id DESC LIMIT 1`)
	row := s.db.QueryRowContext(ctx, query, agentID)
	e, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLStore) Latest(ctx context.Context, agentID string) (*AuditEntry, error) {
	return s.latestLocked(ctx, agentID)
}

func (s *SQLStore) List(ctx context.Context, agentID string, limit int) ([]*AuditEntry, error) {
	query := `SELECT log_id, agent_id, ts, action, resource, context, allowed, result, metadata, request_id, prev_log_id, chain_hash
		FROM audit_entries WHERE agent_id = $1 ORDER BY ts ASC, log_id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	query = s.db.Rebind(query)

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		e, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLStore) VerifyChain(ctx context.Context, agentID string) (VerifyResult, error) {
	rows, err := s.List(ctx, agentID, 0)
	if err != nil {
		return VerifyResult{}, err
	}
	return verifyEntries(rows), nil
}
