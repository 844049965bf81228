package scrape

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "profiles_x.json")

	c := LoadProfileCache(path)
	assert.Equal(t, 0, c.Len(), "Missing file starts empty")

	c.Put("alpha", "111")
	c.Put("bravo", "222")
	require.NoError(t, c.Save())

	reloaded := LoadProfileCache(path)
	assert.Equal(t, 2, reloaded.Len())

	entry, ok := reloaded.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "111", entry.ExternalID)
	assert.False(t, entry.LastVerifiedAt.IsZero(), "Entries carry their verification time")
}

func TestProfileCache_Invalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")

	c := LoadProfileCache(path)
	c.Put("alpha", "111")

	c.Invalidate("alpha")
	_, ok := c.Get("alpha")
	assert.False(t, ok, "Invalidated entries are gone")

	// Invalidating an absent key is a no-op.
	c.Invalidate("nope")
	assert.Equal(t, 0, c.Len())
}

func TestProfileCache_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c := LoadProfileCache(path)
	assert.Equal(t, 0, c.Len(), "Corrupt cache is discarded, it is rebuildable")
}

func TestProfileCache_SaveSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")

	c := LoadProfileCache(path)
	require.NoError(t, c.Save(), "Saving an untouched cache is a no-op")

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "No file is written when nothing changed")
}
