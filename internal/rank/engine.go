package rank

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/config"
	"github.com/rightsideup/youthrank/internal/metrics"
	"github.com/rightsideup/youthrank/internal/models"
)

// Params are the tuning constants of a ranking run, gathered in one place
// instead of scattered module-level globals.
type Params struct {
	WindowDays int
	MaxViews   int
	GoalCap    int

	K             float64
	EtaBase       float64
	Alpha         float64
	Beta          float64
	MinGames      int
	CrossAgeBonus float64
	DefaultOpp    float64
	OutlierZ      float64
	MaxIterations int
	ConvergeDelta float64

	ActiveMinGames int
	InactiveDays   int

	// AsOf anchors status assignment; zero means time.Now().
	AsOf time.Time
}

// ParamsFromConfig builds engine params from the process configuration.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		WindowDays:     cfg.WindowDays,
		MaxViews:       cfg.MaxGamesForRank,
		GoalCap:        cfg.GoalCap,
		K:              cfg.RatingK,
		EtaBase:        cfg.EtaBase,
		Alpha:          cfg.AdaptiveAlpha,
		Beta:           cfg.AdaptiveBeta,
		MinGames:       cfg.AdaptiveMinGames,
		CrossAgeBonus:  cfg.CrossAgeBonus,
		DefaultOpp:     cfg.DefaultOppStrength,
		OutlierZ:       cfg.OutlierGuardZScore,
		MaxIterations:  cfg.MaxSOSIterations,
		ConvergeDelta:  cfg.SOSConvergenceDelta,
		ActiveMinGames: cfg.ActiveMinGames,
		InactiveDays:   cfg.InactiveDays,
	}
}

// Engine computes division rankings from the gold match table and the master
// roster. A run is deterministic for a given input: every ordering it relies
// on is a stable sort on explicit keys.
type Engine struct {
	params Params
}

// NewEngine creates a ranking engine.
func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// teamAccum is the per-team working state during a run.
type teamAccum struct {
	key         string
	displayName string
	state       string

	views []models.TeamView

	games  int
	wins   int
	losses int
	ties   int
	gf     int
	ga     int

	lastGame   time.Time
	offenseRaw float64
	defenseRaw float64

	crossAgeGames   int
	crossStateGames int
}

// Rank produces the ranking rows for a division, sorted and numbered. Teams
// with no matches inside the window are omitted; external opponents
// contribute strength but never appear in the output.
func (e *Engine) Rank(div models.Division, matches []models.MatchRow, roster, older, younger []models.Team) ([]models.RankingRow, models.RankingSummary, error) {
	start := time.Now()

	if len(roster) == 0 {
		return nil, models.RankingSummary{}, fmt.Errorf("empty master roster for %s", div.Key)
	}

	asOf := e.params.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	lookup := newRosterLookup(roster, older, younger)

	windowed := e.filterWindow(matches)
	kept := make([]models.MatchRow, 0, len(windowed))
	for _, m := range windowed {
		if lookup.isRanked(m.TeamAKey) || lookup.isRanked(m.TeamBKey) {
			kept = append(kept, m)
		}
	}

	states, keyIndex := e.buildStates(kept, lookup)
	if len(states) == 0 {
		log.Warn().Str("division", div.Key).Msg("No ranked team has matches inside the window")
		summary := models.RankingSummary{Division: div.Key, Matches: len(kept)}
		return nil, summary, nil
	}

	for i := range states {
		e.accumulate(&states[i])
	}

	ratings := initialRatings(states)
	pairs := buildPairs(states, keyIndex)
	gamesPlayed := make([]int, len(states))
	for i := range states {
		gamesPlayed[i] = states[i].games
	}

	sp := solverParams{
		K:              e.params.K,
		EtaBase:        e.params.EtaBase,
		Alpha:          e.params.Alpha,
		Beta:           e.params.Beta,
		MinGames:       e.params.MinGames,
		CrossAgeBonus:  e.params.CrossAgeBonus,
		DefaultOppRate: e.params.DefaultOpp,
		MaxIterations:  e.params.MaxIterations,
		ConvergeDelta:  e.params.ConvergeDelta,
		OutlierZ:       e.params.OutlierZ,
	}
	solved := solveRatings(ratings, gamesPlayed, pairs, sp)
	sos := computeSOS(states, ratings, keyIndex, sp)

	offense := make([]float64, len(states))
	defense := make([]float64, len(states))
	for i := range states {
		offense[i] = states[i].offenseRaw
		defense[i] = states[i].defenseRaw
	}
	offNorm := logisticNorm(offense)
	defNorm := logisticNorm(defense)
	sosNorm := logisticNorm(sos)

	rows := make([]models.RankingRow, 0, len(states))
	for i := range states {
		s := &states[i]

		// Defense counts goals against, so invert after normalization.
		dn := 1.0 - defNorm[i]

		power := 0.20*offNorm[i] + 0.20*dn + 0.60*sosNorm[i]
		penalty := gamesPenalty(s.games)

		rows = append(rows, models.RankingRow{
			TeamKey:         s.key,
			TeamName:        s.displayName,
			State:           s.state,
			Status:          e.status(s, asOf),
			GamesPlayed:     s.games,
			Wins:            s.wins,
			Losses:          s.losses,
			Ties:            s.ties,
			GoalsFor:        s.gf,
			GoalsAgainst:    s.ga,
			OffenseRaw:      s.offenseRaw,
			DefenseRaw:      s.defenseRaw,
			SOSRaw:          sos[i],
			OffenseNorm:     offNorm[i],
			DefenseNorm:     dn,
			SOSNorm:         sosNorm[i],
			PowerScore:      power,
			GamesPenalty:    penalty,
			PowerScoreAdj:   power * penalty,
			LastGameDate:    s.lastGame,
			CrossAgeGames:   s.crossAgeGames,
			CrossAgePct:     pct(s.crossAgeGames, s.games),
			CrossStateGames: s.crossStateGames,
			CrossStatePct:   pct(s.crossStateGames, s.games),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].PowerScoreAdj != rows[j].PowerScoreAdj {
			return rows[i].PowerScoreAdj > rows[j].PowerScoreAdj
		}
		if rows[i].GamesPlayed != rows[j].GamesPlayed {
			return rows[i].GamesPlayed > rows[j].GamesPlayed
		}
		return rows[i].TeamKey < rows[j].TeamKey
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}

	summary := models.RankingSummary{
		Division:   div.Key,
		Teams:      len(rows),
		Matches:    len(kept),
		Iterations: solved.Iterations,
		Converged:  solved.Converged,
		FinalDelta: solved.FinalDelta,
	}

	metrics.RecordRankingRun(div.Key, solved.Converged, solved.Iterations, time.Since(start).Seconds())

	log.Info().
		Str("division", div.Key).
		Int("teams", summary.Teams).
		Int("matches", summary.Matches).
		Int("iterations", summary.Iterations).
		Bool("converged", summary.Converged).
		Float64("final_delta", summary.FinalDelta).
		Dur("elapsed", time.Since(start)).
		Msg("Ranking run complete")

	return rows, summary, nil
}

// filterWindow keeps matches inside the ranking window, anchored to the
// newest match date in the input.
func (e *Engine) filterWindow(matches []models.MatchRow) []models.MatchRow {
	if len(matches) == 0 {
		return nil
	}

	var maxDate time.Time
	for _, m := range matches {
		if m.Date.After(maxDate) {
			maxDate = m.Date
		}
	}
	cutoff := maxDate.AddDate(0, 0, -e.params.WindowDays)

	out := make([]models.MatchRow, 0, len(matches))
	for _, m := range matches {
		if !m.Date.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

// buildStates explodes matches into directed team-views for ranked teams,
// sorts each team's history newest first and caps it at MaxViews with
// tapered weights.
func (e *Engine) buildStates(matches []models.MatchRow, lookup *rosterLookup) ([]teamAccum, map[string]int) {
	byTeam := make(map[string][]models.TeamView)

	addView := func(teamKey string, oppKey string, gf, ga int, date time.Time) {
		if !lookup.isRanked(teamKey) {
			return
		}
		byTeam[teamKey] = append(byTeam[teamKey], models.TeamView{
			TeamKey:       teamKey,
			OpponentKey:   oppKey,
			GoalsFor:      gf,
			GoalsAgainst:  ga,
			Date:          date,
			AgeContext:    lookup.ageContext(oppKey),
			OpponentState: lookup.stateOf(oppKey),
		})
	}

	for _, m := range matches {
		addView(m.TeamAKey, m.TeamBKey, m.ScoreA, m.ScoreB, m.Date)
		addView(m.TeamBKey, m.TeamAKey, m.ScoreB, m.ScoreA, m.Date)
	}

	keys := make([]string, 0, len(byTeam))
	for k := range byTeam {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	states := make([]teamAccum, 0, len(keys))
	keyIndex := make(map[string]int, len(keys))
	for _, k := range keys {
		views := byTeam[k]
		sort.SliceStable(views, func(i, j int) bool {
			if !views[i].Date.Equal(views[j].Date) {
				return views[i].Date.After(views[j].Date)
			}
			return views[i].OpponentKey < views[j].OpponentKey
		})
		if len(views) > e.params.MaxViews {
			views = views[:e.params.MaxViews]
		}

		weights := TaperedWeights(len(views))
		for i := range views {
			views[i].Weight = weights[i]
		}

		team := lookup.rankedTeam(k)
		keyIndex[k] = len(states)
		states = append(states, teamAccum{
			key:         k,
			displayName: team.DisplayName,
			state:       team.State,
			views:       views,
		})
	}

	return states, keyIndex
}

// accumulate fills the raw per-team metrics from the weighted views.
func (e *Engine) accumulate(s *teamAccum) {
	goalCap := float64(e.params.GoalCap)

	for _, v := range s.views {
		s.games++
		s.gf += v.GoalsFor
		s.ga += v.GoalsAgainst

		gf := float64(v.GoalsFor)
		if gf > goalCap {
			gf = goalCap
		}
		ga := float64(v.GoalsAgainst)
		if ga > goalCap {
			ga = goalCap
		}
		s.offenseRaw += v.Weight * gf
		s.defenseRaw += v.Weight * ga

		switch {
		case v.GoalsFor > v.GoalsAgainst:
			s.wins++
		case v.GoalsFor < v.GoalsAgainst:
			s.losses++
		default:
			s.ties++
		}

		if v.Date.After(s.lastGame) {
			s.lastGame = v.Date
		}

		if v.AgeContext == models.AgeOlder || v.AgeContext == models.AgeYounger {
			s.crossAgeGames++
		}
		if v.OpponentState != "" && s.state != "" && v.OpponentState != s.state {
			s.crossStateGames++
		}
	}
}

func (e *Engine) status(s *teamAccum, asOf time.Time) models.Status {
	if s.games < e.params.ActiveMinGames {
		return models.StatusProvisional
	}
	staleAfter := time.Duration(e.params.InactiveDays) * 24 * time.Hour
	if asOf.Sub(s.lastGame) <= staleAfter {
		return models.StatusActive
	}
	return models.StatusInactive
}

func gamesPenalty(games int) float64 {
	n := games
	if n > 20 {
		n = 20
	}
	return math.Sqrt(float64(n) / 20.0)
}

func pct(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

// rosterLookup answers which roster, if any, a team key belongs to.
type rosterLookup struct {
	own     map[string]models.Team
	older   map[string]bool
	younger map[string]bool
	states  map[string]string
}

func newRosterLookup(roster, older, younger []models.Team) *rosterLookup {
	l := &rosterLookup{
		own:     make(map[string]models.Team, len(roster)),
		older:   make(map[string]bool, len(older)),
		younger: make(map[string]bool, len(younger)),
		states:  make(map[string]string),
	}
	for _, t := range roster {
		l.own[t.TeamKey] = t
		l.states[t.TeamKey] = t.State
	}
	for _, t := range older {
		if _, ok := l.own[t.TeamKey]; !ok {
			l.older[t.TeamKey] = true
		}
		if _, ok := l.states[t.TeamKey]; !ok {
			l.states[t.TeamKey] = t.State
		}
	}
	for _, t := range younger {
		if _, ok := l.own[t.TeamKey]; !ok && !l.older[t.TeamKey] {
			l.younger[t.TeamKey] = true
		}
		if _, ok := l.states[t.TeamKey]; !ok {
			l.states[t.TeamKey] = t.State
		}
	}
	return l
}

func (l *rosterLookup) isRanked(key string) bool {
	_, ok := l.own[key]
	return ok
}

func (l *rosterLookup) rankedTeam(key string) models.Team {
	return l.own[key]
}

func (l *rosterLookup) ageContext(key string) models.AgeContext {
	switch {
	case l.isRanked(key):
		return models.AgeOwn
	case l.older[key]:
		return models.AgeOlder
	case l.younger[key]:
		return models.AgeYounger
	default:
		return models.AgeUnknown
	}
}

func (l *rosterLookup) stateOf(key string) string {
	return l.states[key]
}
