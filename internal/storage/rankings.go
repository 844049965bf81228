package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/rightsideup/youthrank/internal/models"
)

var rankingsHeader = []string{
	"rank", "team_key", "team_name", "state", "status",
	"games_played", "wins", "losses", "ties", "goals_for", "goals_against",
	"offense_raw", "defense_raw", "sos_raw",
	"offense_norm", "defense_norm", "sos_norm",
	"power_score", "games_penalty", "power_score_adj",
	"last_game_date", "cross_age_games", "cross_age_pct",
	"cross_state_games", "cross_state_pct",
}

// WriteRankings writes the ranking CSV atomically. Rows are assumed already
// ordered by rank; floats are rendered at fixed precision so reruns are
// byte-identical.
func WriteRankings(path string, rows []models.RankingRow) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(rankingsHeader); err != nil {
		return fmt.Errorf("failed to write rankings header: %w", err)
	}

	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.Rank),
			r.TeamKey,
			r.TeamName,
			r.State,
			string(r.Status),
			strconv.Itoa(r.GamesPlayed),
			strconv.Itoa(r.Wins),
			strconv.Itoa(r.Losses),
			strconv.Itoa(r.Ties),
			strconv.Itoa(r.GoalsFor),
			strconv.Itoa(r.GoalsAgainst),
			formatFloat(r.OffenseRaw),
			formatFloat(r.DefenseRaw),
			formatFloat(r.SOSRaw),
			formatFloat(r.OffenseNorm),
			formatFloat(r.DefenseNorm),
			formatFloat(r.SOSNorm),
			formatFloat(r.PowerScore),
			formatFloat(r.GamesPenalty),
			formatFloat(r.PowerScoreAdj),
			r.LastGameDate.Format(dateLayout),
			strconv.Itoa(r.CrossAgeGames),
			formatFloat(r.CrossAgePct),
			strconv.Itoa(r.CrossStateGames),
			formatFloat(r.CrossStatePct),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write ranking row for %s: %w", r.TeamKey, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush rankings csv: %w", err)
	}

	return WriteFileAtomic(path, buf.Bytes())
}

var connectivityHeader = []string{"team_key", "component_id", "component_size", "degree"}

// WriteConnectivity writes the opponent-graph component report atomically.
func WriteConnectivity(path string, rows []models.ConnectivityRow) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(connectivityHeader); err != nil {
		return fmt.Errorf("failed to write connectivity header: %w", err)
	}

	for _, r := range rows {
		rec := []string{
			r.TeamKey,
			strconv.Itoa(r.ComponentID),
			strconv.Itoa(r.ComponentSize),
			strconv.Itoa(r.Degree),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write connectivity row for %s: %w", r.TeamKey, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush connectivity csv: %w", err)
	}

	return WriteFileAtomic(path, buf.Bytes())
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
