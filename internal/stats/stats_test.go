package stats_test

import (
	"path/filepath"
	"testing"

	"github.com/rafalfr/tinyproxy-go/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_IncrAndGet(t *testing.T) {
	m := stats.New()
	m.Incr(stats.KeyACLAllowed)
	m.Incr(stats.KeyACLAllowed)

	v, ok := m.Get(stats.KeyACLAllowed)
	require.True(t, ok)
	assert.Equal(t, uint64(2), v)
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	m := stats.New()
	m.Incr(stats.KeyUpstreamHits)
	m.Incr(stats.KeyUpstreamHits)
	m.Incr(stats.KeyUpstreamHits)

	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, m.Save(path))
	require.FileExists(t, path)

	m2 := stats.New()
	m2.Load(path)

	v, ok := m2.Get(stats.KeyUpstreamHits)
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)

	// After loading, counters must still be incrementable uint64s, not
	// stray JSON float64 values.
	m2.Incr(stats.KeyUpstreamHits)
	v, _ = m2.Get(stats.KeyUpstreamHits)
	assert.Equal(t, uint64(4), v)
}

func TestManager_LoadMissingFileIsNotAnError(t *testing.T) {
	m := stats.New()
	m.Load(filepath.Join(t.TempDir(), "missing.json"))

	_, ok := m.Get(stats.KeyACLDenied)
	assert.False(t, ok)
}

func TestManager_SnapshotIsIndependentCopy(t *testing.T) {
	m := stats.New()
	m.Incr(stats.KeyACLDenied)

	snap := m.Snapshot()
	snap["acl"].(map[string]any)["denied"] = uint64(999)

	v, _ := m.Get(stats.KeyACLDenied)
	assert.Equal(t, uint64(1), v, "mutating a snapshot must not affect the live counters")
}
