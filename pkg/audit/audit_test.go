package audit_test

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentguard/agentguard/pkg/audit"
	"github.com/agentguard/agentguard/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChain(t *testing.T, s *store.MemoryStore, agentID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := s.Append(ctx, store.AppendInput{
			AgentID:  agentID,
			Action:   "read:file",
			Resource: "*",
			Allowed:  true,
			Result:   store.ResultSuccess,
		})
		require.NoError(t, err)
	}
}

func TestExporter_GeneratePack_RejectsEmptyAgentID(t *testing.T) {
	e := audit.NewExporter(store.NewMemoryStore())
	_, _, err := e.GeneratePack(context.Background(), audit.ExportRequest{})
	assert.ErrorIs(t, err, audit.ErrEmptyAgentID)
}

func TestExporter_GeneratePack_RejectsInvertedTimeRange(t *testing.T) {
	e := audit.NewExporter(store.NewMemoryStore())
	now := time.Now()
	_, _, err := e.GeneratePack(context.Background(), audit.ExportRequest{
		AgentID:   "agt_1",
		StartTime: now,
		EndTime:   now.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, audit.ErrInvalidTimeRange)
}

func TestExporter_GeneratePack_ProducesVerifiableZip(t *testing.T) {
	s := store.NewMemoryStore()
	seedChain(t, s, "agt_1", 3)

	e := audit.NewExporter(s)
	zipBytes, checksum, err := e.GeneratePack(context.Background(), audit.ExportRequest{AgentID: "agt_1"})
	require.NoError(t, err)

	sum := sha256.Sum256(zipBytes)
	assert.Equal(t, hex.EncodeToString(sum[:]), checksum)

	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"events.json", "manifest.json", "README.txt"}, names)

	manifestFile, err := zr.Open("manifest.json")
	require.NoError(t, err)
	defer manifestFile.Close()

	var manifest audit.Manifest
	require.NoError(t, json.NewDecoder(manifestFile).Decode(&manifest))
	assert.Equal(t, "agt_1", manifest.AgentID)
	assert.Equal(t, 3, manifest.EventCount)
	assert.True(t, manifest.ChainValid)
	assert.Nil(t, manifest.BrokenAt)
}

func TestExporter_GeneratePack_FiltersByTimeWindow(t *testing.T) {
	s := store.NewMemoryStore()
	seedChain(t, s, "agt_1", 2)

	future := time.Now().Add(time.Hour)
	e := audit.NewExporter(s)
	zipBytes, _, err := e.GeneratePack(context.Background(), audit.ExportRequest{
		AgentID:   "agt_1",
		StartTime: future,
	})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	require.NoError(t, err)
	eventsFile, err := zr.Open("events.json")
	require.NoError(t, err)
	defer eventsFile.Close()

	var events []store.AuditEntry
	require.NoError(t, json.NewDecoder(eventsFile).Decode(&events))
	assert.Empty(t, events)
}
