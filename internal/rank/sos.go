package rank

import (
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/models"
)

// solverParams are the rating-solver constants, taken from the engine config.
type solverParams struct {
	K              float64
	EtaBase        float64
	Alpha          float64
	Beta           float64
	MinGames       int
	CrossAgeBonus  float64
	DefaultOppRate float64
	MaxIterations  int
	ConvergeDelta  float64
	OutlierZ       float64
}

// pairGame is one undirected match between indexed teams, carried through the
// iterative solver. Index -1 means the side is external and keeps the fixed
// prior rating.
type pairGame struct {
	a, b      int
	scoreA    float64 // 1 win, 0.5 tie, 0 loss, from a's perspective
	marginA   int     // goal differential from a's perspective
	olderOppA bool    // a's opponent sits in an older roster
	olderOppB bool
}

// solverResult reports how a rating solve terminated.
type solverResult struct {
	Iterations int
	Converged  bool
	FinalDelta float64
}

// solveRatings runs the iterative opponent-strength refinement over the match
// pairs. ratings is indexed like teams; gamesPlayed dampens low-sample
// updates. The pair list must already be in deterministic order.
func solveRatings(ratings []float64, gamesPlayed []int, pairs []pairGame, p solverParams) solverResult {
	res := solverResult{}

	for iter := 1; iter <= p.MaxIterations; iter++ {
		prev := make([]float64, len(ratings))
		copy(prev, ratings)

		for _, g := range pairs {
			ra := ratingAt(ratings, g.a, p.DefaultOppRate)
			rb := ratingAt(ratings, g.b, p.DefaultOppRate)

			if g.a >= 0 {
				mm := marginMultiplier(g.marginA, g.scoreA)
				e := expectedScore(ra, rb, p.K)
				eta := learningRate(ra, rb, gamesPlayed[g.a], p)
				cm := 1.0
				if g.olderOppA {
					cm = p.CrossAgeBonus
				}
				ratings[g.a] += eta * cm * (g.scoreA*mm - e)
			}
			if g.b >= 0 {
				// The mirror view: margin and observed score from b's side.
				mm := marginMultiplier(-g.marginA, 1-g.scoreA)
				e := expectedScore(rb, ra, p.K)
				eta := learningRate(rb, ra, gamesPlayed[g.b], p)
				cm := 1.0
				if g.olderOppB {
					cm = p.CrossAgeBonus
				}
				ratings[g.b] += eta * cm * ((1-g.scoreA)*mm - e)
			}
		}

		delta := 0.0
		for i := range ratings {
			delta += math.Abs(ratings[i] - prev[i])
		}
		if len(ratings) > 0 {
			delta /= float64(len(ratings))
		}

		res.Iterations = iter
		res.FinalDelta = delta
		if delta < p.ConvergeDelta {
			res.Converged = true
			return res
		}
	}

	if res.Iterations > 0 {
		log.Debug().
			Int("iterations", res.Iterations).
			Float64("final_delta", res.FinalDelta).
			Msg("Rating solver hit iteration cap without convergence")
	}
	return res
}

func ratingAt(ratings []float64, idx int, defaultRate float64) float64 {
	if idx < 0 {
		return defaultRate
	}
	return ratings[idx]
}

func expectedScore(rSelf, rOpp, k float64) float64 {
	return 1.0 / (1.0 + math.Exp(-k*(rSelf-rOpp)))
}

// marginMultiplier scales the observed result by the goal margin, capped at 6
// goals and clamped into [0.4, 1.6]. Ties carry no margin information.
func marginMultiplier(margin int, score float64) float64 {
	if score == 0.5 {
		return 1.0
	}
	gd := margin
	if gd > 6 {
		gd = 6
	} else if gd < -6 {
		gd = -6
	}
	mm := 1.0 + 0.1*float64(gd)
	if mm < 0.4 {
		mm = 0.4
	} else if mm > 1.6 {
		mm = 1.6
	}
	return mm
}

// learningRate is the adaptive step size: large rating gaps and thin game
// samples both shrink the update.
func learningRate(rSelf, rOpp float64, games int, p solverParams) float64 {
	gap := rSelf - rOpp
	if gap < 0 {
		gap = 0
	}
	sample := math.Min(1.0, math.Pow(float64(games)/float64(p.MinGames), p.Beta))
	return p.EtaBase * (1.0 / (1.0 + math.Pow(gap, p.Alpha))) * sample
}

// initialRatings maps each team's win percentage into [0.2, 0.8] and shifts
// the population so its mean is 0.5.
func initialRatings(states []teamAccum) []float64 {
	ratings := make([]float64, len(states))
	sum := 0.0
	for i, s := range states {
		wp := 0.5
		if s.games > 0 {
			wp = (float64(s.wins) + 0.5*float64(s.ties)) / float64(s.games)
		}
		ratings[i] = 0.2 + 0.6*wp
		sum += ratings[i]
	}
	if len(ratings) > 0 {
		shift := 0.5 - sum/float64(len(ratings))
		for i := range ratings {
			ratings[i] += shift
		}
	}
	return ratings
}

// computeSOS fills each team's sos value: the tapered-weight mean of its
// opponents' ratings, with each per-view opponent rating clipped into the
// population band mu +- z*sigma first.
func computeSOS(states []teamAccum, ratings []float64, keyIndex map[string]int, p solverParams) []float64 {
	// Population stats over every per-view opponent rating.
	var all []float64
	for i := range states {
		for _, v := range states[i].views {
			all = append(all, opponentRating(v.OpponentKey, ratings, keyIndex, p.DefaultOppRate))
		}
	}
	mu, sigma := meanStddev(all)
	lo, hi := mu-p.OutlierZ*sigma, mu+p.OutlierZ*sigma

	sos := make([]float64, len(states))

	// Per-team aggregation is independent; fan it out across cores.
	workers := runtime.GOMAXPROCS(0)
	if workers > len(states) {
		workers = len(states)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := offset; i < len(states); i += workers {
				total := 0.0
				for _, v := range states[i].views {
					r := opponentRating(v.OpponentKey, ratings, keyIndex, p.DefaultOppRate)
					if r < lo {
						r = lo
					} else if r > hi {
						r = hi
					}
					total += v.Weight * r
				}
				sos[i] = total
			}
		}(w)
	}
	wg.Wait()

	return sos
}

func opponentRating(key string, ratings []float64, keyIndex map[string]int, defaultRate float64) float64 {
	if idx, ok := keyIndex[key]; ok {
		return ratings[idx]
	}
	return defaultRate
}

func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mu := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mu) * (v - mu)
	}
	variance /= float64(len(values))
	return mu, math.Sqrt(variance)
}

// logisticNorm squashes raw metric values into (0,1) around the population
// mean with a softened slope. A degenerate population (sigma zero) maps
// everything to 0.5.
func logisticNorm(values []float64) []float64 {
	mu, sigma := meanStddev(values)
	out := make([]float64, len(values))
	if sigma == 0 {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, v := range values {
		out[i] = 1.0 / (1.0 + math.Exp(-(v-mu)/(1.5*sigma)))
	}
	return out
}

// buildPairs collapses the retained directed views into unique undirected
// match pairs in deterministic order. A match kept by either side is
// processed once per iteration.
func buildPairs(states []teamAccum, keyIndex map[string]int) []pairGame {
	type pairSeed struct {
		aKey, bKey string
		date       string
		game       pairGame
	}

	seen := make(map[string]pairSeed)
	for i := range states {
		self := states[i].key
		for _, v := range states[i].views {
			aKey, bKey := self, v.OpponentKey
			scoreA := observedScore(v.GoalsFor, v.GoalsAgainst)
			marginA := v.GoalsFor - v.GoalsAgainst
			olderA := v.AgeContext == models.AgeOlder
			if aKey > bKey {
				aKey, bKey = bKey, aKey
				scoreA = 1 - scoreA
				marginA = -marginA
			}

			date := v.Date.Format("2006-01-02")
			id := date + "|" + aKey + "|" + bKey
			seed, ok := seen[id]
			if !ok {
				seed = pairSeed{
					aKey: aKey,
					bKey: bKey,
					date: date,
					game: pairGame{
						a:       indexOrExternal(keyIndex, aKey),
						b:       indexOrExternal(keyIndex, bKey),
						scoreA:  scoreA,
						marginA: marginA,
					},
				}
			}
			// The cross-age flag belongs to the side that kept the view.
			if self == seed.aKey {
				seed.game.olderOppA = seed.game.olderOppA || olderA
			} else {
				seed.game.olderOppB = seed.game.olderOppB || olderA
			}
			seen[id] = seed
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pairs := make([]pairGame, 0, len(ids))
	for _, id := range ids {
		pairs = append(pairs, seen[id].game)
	}
	return pairs
}

func indexOrExternal(keyIndex map[string]int, key string) int {
	if idx, ok := keyIndex[key]; ok {
		return idx
	}
	return -1
}

func observedScore(gf, ga int) float64 {
	switch {
	case gf > ga:
		return 1
	case gf < ga:
		return 0
	default:
		return 0.5
	}
}
