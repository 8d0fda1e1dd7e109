// Package store implements components I (Audit Log) and C (Chain Hasher):
// an append-only, per-agent SHA-256 hash-chained audit log with tamper
// verification.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentguard/agentguard/pkg/canonicalize"
	"github.com/google/uuid"
)

var (
	ErrEntryNotFound = errors.New("store: audit entry not found")
	ErrChainBroken   = errors.New("store: audit chain is broken")
)

// Result is the AuditEntry.Result enum from §3.
type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
	ResultPending Result = "pending"
)

// AuditEntry is the append-only per-agent record from §3.
type AuditEntry struct {
	LogID        string            `json:"log_id"`
	AgentID      string            `json:"agent_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	Resource     string            `json:"resource"`
	Context      json.RawMessage   `json:"context,omitempty"`
	Allowed      bool              `json:"allowed"`
	Result       Result            `json:"result"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	PrevLogID    *string           `json:"prev_log_id"`
	ChainHash    string            `json:"chain_hash"`
}

// hashableEntry is what canonical_serialize operates on: entry_without_hash,
// per §4.I/§4.C — every field except ChainHash itself, with prev_log_id
// rendered as the literal string "null" when absent.
type hashableEntry struct {
	LogID     string            `json:"log_id"`
	AgentID   string            `json:"agent_id"`
	Timestamp string            `json:"timestamp"`
	Action    string            `json:"action"`
	Resource  string            `json:"resource"`
	Context   json.RawMessage   `json:"context,omitempty"`
	Allowed   bool              `json:"allowed"`
	Result    Result            `json:"result"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	PrevLogID string            `json:"prev_log_id"`
}

func computeChainHash(prevChainHash string, e *AuditEntry) (string, error) {
	prevLogID := "null"
	if e.PrevLogID != nil {
		prevLogID = *e.PrevLogID
	}
	h := hashableEntry{
		LogID:     e.LogID,
		AgentID:   e.AgentID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:    e.Action,
		Resource:  e.Resource,
		Context:   e.Context,
		Allowed:   e.Allowed,
		Result:    e.Result,
		Metadata:  e.Metadata,
		RequestID: e.RequestID,
		PrevLogID: prevLogID,
	}
	serialized, err := canonicalize.JCS(h)
	if err != nil {
		return "", fmt.Errorf("store: canonical_serialize: %w", err)
	}
	return canonicalize.HashBytes([]byte(prevChainHash + "|" + string(serialized))), nil
}

// VerifyResult is the verify_chain(agent_id) contract's return shape.
type VerifyResult struct {
	Valid        bool
	TotalEntries int
	BrokenAt     *string
}

// AppendInput is the caller-supplied subset of AuditEntry; LogID,
// Timestamp, PrevLogID, and ChainHash are computed by Append.
type AppendInput struct {
	AgentID   string
	Action    string
	Resource  string
	Context   json.RawMessage
	Allowed   bool
	Result    Result
	Metadata  map[string]string
	RequestID string
}

// Store is the data-access contract for components I/C: per-agent
// append-with-chain-linkage and ordered read, plus chain verification.
type Store interface {
	// Append acquires the per-agent write serializer, computes the chain
	// link, and persists the entry — atomically, per §4.I step 1-4.
	Append(ctx context.Context, in AppendInput) (*AuditEntry, error)
	// Latest returns the most recently written entry for agentID ordered by
	// timestamp desc, tie-broken by log_id, or ErrEntryNotFound if the
	// agent has no entries yet.
	Latest(ctx context.Context, agentID string) (*AuditEntry, error)
	// List returns entries for agentID in chain order (oldest first).
	List(ctx context.Context, agentID string, limit int) ([]*AuditEntry, error)
	// VerifyChain walks an agent's chain recomputing chain_hash at each
	// step; an empty chain is valid.
	VerifyChain(ctx context.Context, agentID string) (VerifyResult, error)
}

// MemoryStore is an in-process, per-agent hash-chained Store.
type MemoryStore struct {
	// agentLocks serializes writers per agent, per §5's "per-agent write
	// serializer is the only point of genuine contention" design note.
	agentLocks sync.Map // agentID -> *sync.Mutex

	mu      sync.RWMutex
	entries map[string][]*AuditEntry // agentID -> entries in append order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]*AuditEntry)}
}

func (s *MemoryStore) lockFor(agentID string) *sync.Mutex {
	v, _ := s.agentLocks.LoadOrStore(agentID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *MemoryStore) Append(_ context.Context, in AppendInput) (*AuditEntry, error) {
	lock := s.lockFor(in.AgentID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	existing := s.entries[in.AgentID]
	s.mu.RUnlock()

	var prevLogID *string
	prevChainHash := ""
	if len(existing) > 0 {
		prev := existing[len(existing)-1]
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

	s.mu.Lock()
	s.entries[in.AgentID] = append(s.entries[in.AgentID], entry)
	s.mu.Unlock()

	return entry, nil
}

func (s *MemoryStore) Latest(_ context.Context, agentID string) (*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.entries[agentID]
	if len(rows) == 0 {
		return nil, ErrEntryNotFound
	}
	return rows[len(rows)-1], nil
}

func (s *MemoryStore) List(_ context.Context, agentID string, limit int) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.entries[agentID]
	out := make([]*AuditEntry, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) VerifyChain(ctx context.Context, agentID string) (VerifyResult, error) {
	rows, err := s.List(ctx, agentID, 0)
	if err != nil {
		return VerifyResult{}, err
	}
	return verifyEntries(rows), nil
}

func verifyEntries(rows []*AuditEntry) VerifyResult {
	if len(rows) == 0 {
		return VerifyResult{Valid: true, TotalEntries: 0}
	}
	prevChainHash := ""
	for _, e := range rows {
		want, err := computeChainHash(prevChainHash, e)
		if err != nil || want != e.ChainHash {
			brokenAt := e.LogID
			return VerifyResult{Valid: false, TotalEntries: len(rows), BrokenAt: &brokenAt}
		}
		prevChainHash = e.ChainHash
	}
	return VerifyResult{Valid: true, TotalEntries: len(rows)}
}
