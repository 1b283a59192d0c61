package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-alert-bridge/service/model"
)

func tempSQLitePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.db")
}

func TestSQLiteStoreUpsertListMarkSentRoundTrip(t *testing.T) {
	s, err := OpenSQLiteStore(tempSQLitePath(t))
	require.NoError(t, err)
	defer s.Close()

	t0 := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	ev := model.WarningEvent{RegionCode: "11", StationID: "108", AnnounceSeq: "1", AnnounceTime: &t0}
	require.NoError(t, s.Upsert([]model.WarningEvent{ev}, t0))

	pending, err := s.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	require.NoError(t, s.MarkSent([]string{ev.Fingerprint()}, t0.Add(time.Minute)))
	pending, err = s.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	all, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Sent)
}

func TestSQLiteStoreUpsertPreservesUnchangedPayloadTimestamp(t *testing.T) {
	s, err := OpenSQLiteStore(tempSQLitePath(t))
	require.NoError(t, err)
	defer s.Close()

	t0 := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	ev := model.WarningEvent{RegionCode: "11", StationID: "108", AnnounceSeq: "1", AnnounceTime: &t0}
	require.NoError(t, s.Upsert([]model.WarningEvent{ev}, t0))
	require.NoError(t, s.Upsert([]model.WarningEvent{ev}, t0.Add(time.Hour)))

	all, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, t0, all[0].UpdatedAt)
}

func TestSQLiteStoreCleanupStaleDeletesFilteredRows(t *testing.T) {
	s, err := OpenSQLiteStore(tempSQLitePath(t))
	require.NoError(t, err)
	defer s.Close()

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sent := model.WarningEvent{RegionCode: "11", StationID: "108", AnnounceSeq: "1"}
	unsent := model.WarningEvent{RegionCode: "22", StationID: "109", AnnounceSeq: "2"}
	require.NoError(t, s.Upsert([]model.WarningEvent{sent, unsent}, old))
	require.NoError(t, s.MarkSent([]string{sent.Fingerprint()}, old))

	cutoff := old.Add(24 * time.Hour)
	removed, err := s.CleanupStale(cutoff, false)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = s.CleanupStale(cutoff, true)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
