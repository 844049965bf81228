package rank

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightsideup/youthrank/internal/models"
)

func testEngineParams(asOf time.Time) Params {
	return Params{
		WindowDays:     365,
		MaxViews:       30,
		GoalCap:        6,
		K:              4.0,
		EtaBase:        0.05,
		Alpha:          0.5,
		Beta:           0.6,
		MinGames:       8,
		CrossAgeBonus:  1.05,
		DefaultOpp:     0.35,
		OutlierZ:       2.5,
		MaxIterations:  10,
		ConvergeDelta:  0.01,
		ActiveMinGames: 5,
		InactiveDays:   180,
		AsOf:           asOf,
	}
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func team(name string) models.Team {
	return models.Team{TeamKey: name, DisplayName: name, State: "az"}
}

func match(date, a, b string, sa, sb int) models.MatchRow {
	m := models.MatchRow{Date: day(date), TeamAKey: a, TeamAName: a, TeamBKey: b, TeamBName: b, ScoreA: sa, ScoreB: sb}
	m.Canonicalize()
	return m
}

var testDivision = models.Division{Key: "az_boys_u11", Age: 11, Gender: "m", State: "az"}

func TestEngine_TwoTeamClosedLeague(t *testing.T) {
	e := NewEngine(testEngineParams(day("2025-06-01")))

	roster := []models.Team{team("alpha"), team("bravo")}
	matches := []models.MatchRow{
		match("2025-03-01", "alpha", "bravo", 2, 1),
		match("2025-03-15", "bravo", "alpha", 0, 3),
	}

	rows, summary, err := e.Rank(testDivision, matches, roster, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, summary.Teams)
	assert.Equal(t, 2, summary.Matches)

	assert.ElementsMatch(t, []int{1, 2}, []int{rows[0].Rank, rows[1].Rank}, "Ranks are contiguous")

	byKey := map[string]models.RankingRow{}
	for _, r := range rows {
		byKey[r.TeamKey] = r
		assert.Equal(t, models.StatusProvisional, r.Status, "Two games is below the active floor")
		assert.Equal(t, 2, r.GamesPlayed)
	}

	a, b := byKey["alpha"], byKey["bravo"]
	assert.Greater(t, a.OffenseRaw, b.OffenseRaw, "Winner scored more per weighted view")
	assert.Less(t, a.DefenseRaw, b.DefenseRaw, "Winner conceded less per weighted view")
	assert.Equal(t, 2, a.Wins)
	assert.Equal(t, 2, b.Losses)
}

func TestEngine_ExternalOpponents(t *testing.T) {
	e := NewEngine(testEngineParams(day("2025-06-01")))

	roster := []models.Team{team("zulu")}
	matches := []models.MatchRow{
		match("2025-03-01", "zulu", "ext::visitors one", 1, 0),
		match("2025-03-08", "zulu", "ext::visitors two", 0, 2),
	}

	rows, _, err := e.Rank(testDivision, matches, roster, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1, "External opponents never appear in the output")

	z := rows[0]
	assert.Equal(t, "zulu", z.TeamKey)
	assert.InDelta(t, 0.35, z.SOSRaw, 1e-9, "Unresolvable opponents carry exactly the default strength")
}

func TestEngine_RankingInvariants(t *testing.T) {
	e := NewEngine(testEngineParams(day("2025-06-01")))

	roster := []models.Team{
		team("alpha"), team("bravo"), team("charlie"), team("delta"),
		team("idle"), // registered but never plays
	}
	matches := []models.MatchRow{
		match("2025-03-01", "alpha", "bravo", 3, 0),
		match("2025-03-08", "alpha", "charlie", 2, 2),
		match("2025-03-15", "bravo", "charlie", 1, 4),
		match("2025-03-22", "charlie", "delta", 5, 1),
		match("2025-03-29", "alpha", "delta", 9, 0), // blowout, capped
	}

	rows, _, err := e.Rank(testDivision, matches, roster, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	for i, r := range rows {
		assert.Equal(t, i+1, r.Rank, "Ranks are 1..N contiguous")
		assert.NotEqual(t, "idle", r.TeamKey, "Zero-game teams are never emitted")

		assert.GreaterOrEqual(t, r.OffenseNorm, 0.0)
		assert.LessOrEqual(t, r.OffenseNorm, 1.0)
		assert.GreaterOrEqual(t, r.DefenseNorm, 0.0)
		assert.LessOrEqual(t, r.DefenseNorm, 1.0)
		assert.GreaterOrEqual(t, r.SOSNorm, 0.0)
		assert.LessOrEqual(t, r.SOSNorm, 1.0)

		assert.LessOrEqual(t, r.PowerScoreAdj, r.PowerScore+1e-12,
			"The games penalty can only shrink the power score")

		if i > 0 {
			assert.GreaterOrEqual(t, rows[i-1].PowerScoreAdj, r.PowerScoreAdj-1e-12,
				"Rows are ordered by adjusted power score")
		}
	}
}

func TestEngine_GoalCapInRawMetrics(t *testing.T) {
	e := NewEngine(testEngineParams(day("2025-06-01")))

	roster := []models.Team{team("alpha"), team("bravo")}
	matches := []models.MatchRow{
		match("2025-03-01", "alpha", "bravo", 10, 0),
	}

	rows, _, err := e.Rank(testDivision, matches, roster, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var a, b models.RankingRow
	for _, r := range rows {
		if r.TeamKey == "alpha" {
			a = r
		} else {
			b = r
		}
	}
	assert.InDelta(t, 6.0, a.OffenseRaw, 1e-9, "Goals beyond the cap do not accumulate")
	assert.InDelta(t, 6.0, b.DefenseRaw, 1e-9, "Conceded goals cap identically")
	assert.Equal(t, 10, a.GoalsFor, "The uncapped tally is still reported")
}

func TestEngine_ViewCapAt30(t *testing.T) {
	e := NewEngine(testEngineParams(day("2025-06-01")))

	roster := []models.Team{team("grinder")}
	var matches []models.MatchRow
	base := day("2024-07-01")
	for i := 0; i < 35; i++ {
		opp := fmt.Sprintf("ext::opp %02d", i)
		matches = append(matches, match(base.AddDate(0, 0, i*7).Format("2006-01-02"), "grinder", opp, 2, 1))
	}

	rows, _, err := e.Rank(testDivision, matches, roster, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 30, rows[0].GamesPlayed, "Only the 30 most recent views are retained")
}

func TestEngine_StatusBoundaries(t *testing.T) {
	asOf := day("2025-06-01")
	e := NewEngine(testEngineParams(asOf))

	play := func(teamKey string, games int, last time.Time) []models.MatchRow {
		var out []models.MatchRow
		for i := 0; i < games; i++ {
			opp := fmt.Sprintf("ext::%s filler %02d", teamKey, i)
			out = append(out, match(last.AddDate(0, 0, -i*3).Format("2006-01-02"), teamKey, opp, 1, 0))
		}
		return out
	}

	var matches []models.MatchRow
	matches = append(matches, play("fresh", 5, asOf.AddDate(0, 0, -180))...)
	matches = append(matches, play("stale", 5, asOf.AddDate(0, 0, -181))...)
	matches = append(matches, play("thin", 4, asOf.AddDate(0, 0, -10))...)

	roster := []models.Team{team("fresh"), team("stale"), team("thin")}
	rows, _, err := e.Rank(testDivision, matches, roster, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byKey := map[string]models.RankingRow{}
	for _, r := range rows {
		byKey[r.TeamKey] = r
	}

	assert.Equal(t, models.StatusActive, byKey["fresh"].Status,
		"Exactly 5 games and a 180-day-old last game is still Active")
	assert.Equal(t, models.StatusInactive, byKey["stale"].Status,
		"181 days without a game is Inactive")
	assert.Equal(t, models.StatusProvisional, byKey["thin"].Status,
		"Fewer than 5 games is Provisional regardless of recency")
}

func TestEngine_CrossAgeContext(t *testing.T) {
	e := NewEngine(testEngineParams(day("2025-06-01")))

	roster := []models.Team{team("young gun")}
	older := []models.Team{{TeamKey: "big kid", DisplayName: "big kid", State: "az"}}
	matches := []models.MatchRow{
		match("2025-03-01", "young gun", "big kid", 2, 1),
		match("2025-03-08", "young gun", "ext::nobody", 1, 1),
	}

	rows, _, err := e.Rank(testDivision, matches, roster, older, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, 1, rows[0].CrossAgeGames, "Only the older-roster opponent counts as cross-age")
	assert.InDelta(t, 0.5, rows[0].CrossAgePct, 1e-9)
}

func TestEngine_CrossStateCounts(t *testing.T) {
	e := NewEngine(testEngineParams(day("2025-06-01")))

	roster := []models.Team{team("home side")}
	older := []models.Team{{TeamKey: "nevada raiders", DisplayName: "nevada raiders", State: "nv"}}
	matches := []models.MatchRow{
		match("2025-03-01", "home side", "nevada raiders", 0, 1),
	}

	rows, _, err := e.Rank(testDivision, matches, roster, older, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].CrossStateGames)
	assert.InDelta(t, 1.0, rows[0].CrossStatePct, 1e-9)
}

func TestEngine_WindowFilter(t *testing.T) {
	e := NewEngine(testEngineParams(day("2025-06-01")))

	roster := []models.Team{team("alpha"), team("bravo")}
	matches := []models.MatchRow{
		match("2025-03-01", "alpha", "bravo", 2, 1),
		// More than 365 days before the newest match.
		match("2023-09-01", "alpha", "bravo", 0, 5),
	}

	rows, summary, err := e.Rank(testDivision, matches, roster, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matches, "Stale matches fall outside the ranking window")
	for _, r := range rows {
		assert.Equal(t, 1, r.GamesPlayed)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	params := testEngineParams(day("2025-06-01"))

	roster := []models.Team{team("alpha"), team("bravo"), team("charlie")}
	matches := []models.MatchRow{
		match("2025-03-01", "alpha", "bravo", 2, 1),
		match("2025-03-08", "bravo", "charlie", 3, 3),
		match("2025-03-15", "alpha", "charlie", 0, 1),
	}

	first, _, err := NewEngine(params).Rank(testDivision, matches, roster, nil, nil)
	require.NoError(t, err)
	second, _, err := NewEngine(params).Rank(testDivision, matches, roster, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second, "Identical input must produce identical output")
}

func TestBuildConnectivity_Components(t *testing.T) {
	roster := []models.Team{team("alpha"), team("bravo"), team("charlie"), team("loner")}
	matches := []models.MatchRow{
		match("2025-03-01", "alpha", "bravo", 1, 0),
		match("2025-03-08", "bravo", "charlie", 2, 2),
	}

	rows := BuildConnectivity(testDivision, matches, roster)
	require.Len(t, rows, 4)

	byKey := map[string]models.ConnectivityRow{}
	for _, r := range rows {
		byKey[r.TeamKey] = r
	}

	assert.Equal(t, byKey["alpha"].ComponentID, byKey["charlie"].ComponentID,
		"Teams joined through a shared opponent share a component")
	assert.Equal(t, 3, byKey["alpha"].ComponentSize)
	assert.Equal(t, 2, byKey["bravo"].Degree, "Degree counts distinct opponents")
	assert.Equal(t, 1, byKey["loner"].ComponentSize, "An unplayed team is its own component")
	assert.Equal(t, 0, byKey["loner"].Degree)
	assert.NotEqual(t, byKey["alpha"].ComponentID, byKey["loner"].ComponentID)
}
