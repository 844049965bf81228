package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrorEntry is one line of the per-division scrape error log.
type ErrorEntry struct {
	TS         time.Time `json:"ts"`
	RunID      string    `json:"run_id,omitempty"`
	Division   string    `json:"division"`
	TeamKey    string    `json:"team_key,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Reason     string    `json:"reason"`
}

// EventEntry is one line of the global scrape event log, appended once per
// stage run.
type EventEntry struct {
	TS       time.Time `json:"ts"`
	RunID    string    `json:"run_id"`
	Division string    `json:"division"`
	Stage    string    `json:"stage"`
	Teams    int       `json:"teams"`
	Rows     int       `json:"rows"`
	Failed   int       `json:"failed"`
}

// AppendError appends an error entry to the division's error log.
func AppendError(path string, e ErrorEntry) error {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal error entry: %w", err)
	}
	return AppendLine(path, string(data))
}

// AppendEvent appends a scrape event to the global event log.
func AppendEvent(path string, e EventEntry) error {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event entry: %w", err)
	}
	return AppendLine(path, string(data))
}
