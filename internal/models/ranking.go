package models

import "time"

// Status classifies a team's sample quality in the ranking output.
type Status string

const (
	StatusActive      Status = "Active"
	StatusProvisional Status = "Provisional"
	StatusInactive    Status = "Inactive"
)

// RatingState is the engine-local mutable state for one team during a
// ranking run. Discarded when the run ends.
type RatingState struct {
	TeamKey      string
	Rating       float64
	OffenseRaw   float64
	DefenseRaw   float64
	SOSRaw       float64
	GamesPlayed  int
	Wins         int
	Losses       int
	Ties         int
	GoalsFor     int
	GoalsAgainst int
	LastGameDate time.Time
	Status       Status
}

// RankingRow is one line of the rankings CSV.
type RankingRow struct {
	Rank     int
	TeamKey  string
	TeamName string
	State    string
	Status   Status

	GamesPlayed  int
	Wins         int
	Losses       int
	Ties         int
	GoalsFor     int
	GoalsAgainst int

	OffenseRaw float64
	DefenseRaw float64
	SOSRaw     float64

	OffenseNorm float64
	DefenseNorm float64
	SOSNorm     float64

	PowerScore    float64
	GamesPenalty  float64
	PowerScoreAdj float64

	LastGameDate time.Time

	CrossAgeGames   int
	CrossAgePct     float64
	CrossStateGames int
	CrossStatePct   float64
}

// RankingSummary reports how a ranking run terminated.
type RankingSummary struct {
	Division   string  `json:"division"`
	Teams      int     `json:"teams"`
	Matches    int     `json:"matches"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	FinalDelta float64 `json:"final_delta"`
}

// ConnectivityRow labels one roster team with its opponent-graph component.
type ConnectivityRow struct {
	TeamKey       string
	ComponentID   int
	ComponentSize int
	Degree        int
}
