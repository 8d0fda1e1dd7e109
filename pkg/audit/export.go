// Package audit builds downloadable evidence packs from the per-agent
// hash-chained audit log (pkg/store), for GET /logs/export.
package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentguard/agentguard/pkg/store"
)

var (
	ErrEmptyAgentID     = errors.New("audit: agent_id must not be empty")
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
)

// ExportRequest defines what to export.
type ExportRequest struct {
	AgentID   string    `json:"agent_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Manifest summarizes the exported window, including the chain's own
// verification result so a downloaded pack proves its own integrity.
type Manifest struct {
	AgentID     string             `json:"agent_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	EventCount  int                `json:"event_count"`
	ChainValid  bool               `json:"chain_valid"`
	BrokenAt    *string            `json:"broken_at,omitempty"`
	Period      ManifestPeriod     `json:"period"`
	LastEntry   *store.AuditEntry  `json:"last_entry,omitempty"`
}

type ManifestPeriod struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Exporter builds zip evidence packs from an agent's audit chain, and
// optionally persists them to blob storage via Uploader.
type Exporter struct {
	store    store.Store
	uploader Uploader
}

func NewExporter(s store.Store) *Exporter {
	return &Exporter{store: s}
}

// WithUploader attaches a blob-storage backend; packs generated after this
// call are also persisted remotely when a caller invokes PersistPack.
func (e *Exporter) WithUploader(u Uploader) *Exporter {
	e.uploader = u
	return e
}

// PersistPack uploads pack's bytes under a key derived from agentID and the
// pack's checksum, returning the backend's location string. It returns
// ("", nil) when no Uploader is configured, so callers can treat remote
// persistence as a best-effort enrichment of the inline download.
func (e *Exporter) PersistPack(ctx context.Context, agentID, checksum string, pack []byte) (string, error) {
	if e.uploader == nil {
		return "", nil
	}
	key := fmt.Sprintf("%s/%s.zip", agentID, checksum)
	return e.uploader.Upload(ctx, key, pack)
}

// GeneratePack returns a zip file (events.json + manifest.json + README.txt)
// and the hex SHA-256 checksum of the zip's bytes. The chain is verified as
// part of export so a caller can trust BrokenAt/ChainValid without a second
// round trip.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if req.AgentID == "" {
		return nil, "", ErrEmptyAgentID
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}

	all, err := e.store.List(ctx, req.AgentID, 0)
	if err != nil {
		return nil, "", fmt.Errorf("audit: list entries: %w", err)
	}
	entries := filterByTime(all, req.StartTime, req.EndTime)

	verify, err := e.store.VerifyChain(ctx, req.AgentID)
	if err != nil {
		return nil, "", fmt.Errorf("audit: verify chain: %w", err)
	}

	eventsJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := Manifest{
		AgentID:    req.AgentID,
		EventCount: len(entries),
		ChainValid: verify.Valid,
		BrokenAt:   verify.BrokenAt,
		Period:     ManifestPeriod{Start: req.StartTime, End: req.EndTime},
	}
	if len(entries) > 0 {
		manifest.LastEntry = entries[len(entries)-1]
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("events.json")
	if err != nil {
		return nil, "", err
	}
	if _, err := f.Write(eventsJSON); err != nil {
		return nil, "", err
	}

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	if _, err := f.Write(manifestJSON); err != nil {
		return nil, "", err
	}

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	if _, err := fmt.Fprintf(f, "Evidence pack for agent %s\n%d entries, chain_valid=%v\n", req.AgentID, len(entries), verify.Valid); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}

func filterByTime(entries []*store.AuditEntry, start, end time.Time) []*store.AuditEntry {
	if start.IsZero() && end.IsZero() {
		return entries
	}
	out := make([]*store.AuditEntry, 0, len(entries))
	for _, e := range entries {
		if !start.IsZero() && e.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out
}
