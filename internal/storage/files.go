package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout derives every artifact path from the data and cache roots. All
// artifacts are files keyed by division; there is no database.
type Layout struct {
	DataDir  string
	CacheDir string
}

// NewLayout builds a layout. CacheDir may be absolute or relative to
// DataDir.
func NewLayout(dataDir, cacheDir string) Layout {
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(dataDir, cacheDir)
	}
	return Layout{DataDir: dataDir, CacheDir: cacheDir}
}

func (l Layout) BronzePath(division string) string {
	return filepath.Join(l.DataDir, "bronze", division+"_teams.csv")
}

func (l Layout) GoldPath(division string) string {
	return filepath.Join(l.DataDir, "gold", "matches_"+division+".csv")
}

func (l Layout) SummaryPath(division string) string {
	return filepath.Join(l.DataDir, "gold", "summary_"+division+".json")
}

func (l Layout) RankingsPath(division string) string {
	return filepath.Join(l.DataDir, "outputs", "rankings_"+division+".csv")
}

func (l Layout) ConnectivityPath(division string) string {
	return filepath.Join(l.DataDir, "outputs", "connectivity_"+division+".csv")
}

func (l Layout) ProfileCachePath(division string) string {
	return filepath.Join(l.CacheDir, "profiles_"+division+".json")
}

func (l Layout) ErrorLogPath(division string) string {
	return filepath.Join(l.DataDir, "logs", "scrape_errors_"+division+".log")
}

func (l Layout) EventLogPath() string {
	return filepath.Join(l.DataDir, "logs", "scrape_events.log")
}

// WriteFileAtomic writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial artifact.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}

	return nil
}

// AppendLine appends one line to an append-only log file, creating the
// parent directory as needed.
func AppendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append to log %s: %w", path, err)
	}

	return nil
}
