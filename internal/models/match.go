package models

import "time"

// AgeContext tags where a match opponent was found relative to the division
// being ranked.
type AgeContext string

const (
	AgeOwn     AgeContext = "own"
	AgeOlder   AgeContext = "older"
	AgeYounger AgeContext = "younger"
	AgeUnknown AgeContext = "unknown"
)

// ExternalKeyPrefix marks opponents that could not be resolved against any
// roster. External teams are counted in opponent sets but never ranked.
const ExternalKeyPrefix = "ext::"

// MatchRow is one gold match record. Rows are stored in canonical order:
// TeamAKey <= TeamBKey lexicographically, and (Date, TeamAKey, TeamBKey) is
// the primary key.
type MatchRow struct {
	Date        time.Time
	TeamAKey    string
	TeamAName   string
	TeamBKey    string
	TeamBName   string
	ScoreA      int
	ScoreB      int
	Competition string
	SourceURL   string
	AgeContext  AgeContext
	Confidence  string
}

// Canonicalize swaps the two sides if needed so TeamAKey <= TeamBKey.
func (m *MatchRow) Canonicalize() {
	if m.TeamAKey > m.TeamBKey {
		m.TeamAKey, m.TeamBKey = m.TeamBKey, m.TeamAKey
		m.TeamAName, m.TeamBName = m.TeamBName, m.TeamAName
		m.ScoreA, m.ScoreB = m.ScoreB, m.ScoreA
	}
}

// Key returns the de-duplication key for the row.
func (m *MatchRow) Key() string {
	return m.Date.Format("2006-01-02") + "|" + m.TeamAKey + "|" + m.TeamBKey
}

// TeamView is one side of a match seen from a single team: the directed
// record the ranking engine works on after the wide-to-long explosion.
type TeamView struct {
	TeamKey       string
	OpponentKey   string
	GoalsFor      int
	GoalsAgainst  int
	Date          time.Time
	AgeContext    AgeContext
	OpponentState string
	Weight        float64
}

// ScrapeSummary is the Stage 2 per-division outcome written next to the gold
// file and logged at the end of a run.
type ScrapeSummary struct {
	RunID     string    `json:"run_id"`
	Division  string    `json:"division"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	ZeroMatch int       `json:"zero_match"`
	Failed    int       `json:"failed"`
	Rows      int       `json:"rows"`
	StartedAt time.Time `json:"started_at"`
	Duration  float64   `json:"duration_seconds"`
}

// FailureRate returns the fraction of attempted teams that failed outright.
func (s *ScrapeSummary) FailureRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Attempted)
}
