package scrape

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/metrics"
	"github.com/rightsideup/youthrank/internal/storage"
)

// ProfileEntry maps a canonical team key to its upstream profile identifier.
type ProfileEntry struct {
	ExternalID     string    `json:"external_id"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
}

// ProfileCache is the process-wide team key to profile id map, persisted as
// one JSON file per division. Writes are serialized by a single mutex and
// the snapshot to disk is atomic.
type ProfileCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]ProfileEntry
	dirty   bool
}

// LoadProfileCache reads the cache file for a division. A missing file
// yields an empty cache; a corrupt file is discarded with a warning, since
// the cache is rebuildable from search requests.
func LoadProfileCache(path string) *ProfileCache {
	c := &ProfileCache{
		path:    path,
		entries: make(map[string]ProfileEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read profile cache, starting empty")
		}
		return c
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Corrupt profile cache, starting empty")
		c.entries = make(map[string]ProfileEntry)
	}

	return c
}

// Get returns the cached profile id for a team key.
func (c *ProfileCache) Get(teamKey string) (ProfileEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[teamKey]
	if ok {
		metrics.ProfileCacheHits.Inc()
	} else {
		metrics.ProfileCacheMisses.Inc()
	}
	return e, ok
}

// Put records a freshly verified profile id.
func (c *ProfileCache) Put(teamKey, externalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[teamKey] = ProfileEntry{
		ExternalID:     externalID,
		LastVerifiedAt: time.Now().UTC(),
	}
	c.dirty = true
}

// Invalidate removes an entry after the upstream answered 404 for it.
func (c *ProfileCache) Invalidate(teamKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[teamKey]; !ok {
		return
	}
	delete(c.entries, teamKey)
	c.dirty = true
	metrics.ProfileCacheInvalidations.Inc()
	log.Info().Str("team_key", teamKey).Msg("Invalidated profile cache entry")
}

// Len returns the number of cached entries.
func (c *ProfileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save snapshots the cache to disk if anything changed since load.
func (c *ProfileCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile cache: %w", err)
	}

	if err := storage.WriteFileAtomic(c.path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to persist profile cache: %w", err)
	}

	c.dirty = false
	return nil
}
