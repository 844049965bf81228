package models

import "time"

// Team is a canonical team identity within a division.
// TeamKey is the normalized form of the display name and is the join key
// across every artifact in the pipeline.
type Team struct {
	TeamKey     string
	DisplayName string
	Club        string
	State       string
	ExternalID  string
}

// HasExternalID reports whether the team can be fetched from the upstream
// history endpoint. Teams without one are recorded in bronze but skipped by
// the match scraper.
func (t *Team) HasExternalID() bool {
	return t.ExternalID != ""
}

// RosterTeam is one bronze roster row: a canonical team plus the scrape
// timestamp it was observed at.
type RosterTeam struct {
	Team
	ScrapedAt time.Time
}

// Division identifies one ranking scope (state x gender x age group) and the
// upstream location of its roster. Loaded once at process start; never
// mutated.
type Division struct {
	Key       string
	Age       int
	Gender    string
	State     string
	RosterURL string
	Name      string
	Active    bool
}
