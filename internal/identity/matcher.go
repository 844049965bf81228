package identity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/models"
)

// Tier identifies which matcher stage resolved a name.
type Tier string

const (
	TierExact      Tier = "exact"
	TierNormalized Tier = "normalized"
	TierFuzzy      Tier = "fuzzy"
	TierExternal   Tier = "external"
)

// Result is a matcher resolution. For TierExternal the TeamKey carries the
// ext:: prefix and Confidence is zero.
type Result struct {
	TeamKey    string
	Tier       Tier
	Confidence float64
}

// ConfidenceLabel renders the result the way the gold file records it:
// "exact", "normalized", "fuzzy:<score>" or "external:<key>".
func (r Result) ConfidenceLabel() string {
	switch r.Tier {
	case TierFuzzy:
		return fmt.Sprintf("fuzzy:%.2f", r.Confidence)
	case TierExternal:
		return "external:" + strings.TrimPrefix(r.TeamKey, models.ExternalKeyPrefix)
	default:
		return string(r.Tier)
	}
}

// entry is one registry team the matcher can resolve to.
type entry struct {
	key        string
	name       string
	reducedKey string
}

// Matcher resolves raw opponent names against a registry of canonical teams
// via tiered matching: exact, then normalized, then fuzzy token-set
// similarity, falling back to a synthesized external key.
type Matcher struct {
	byKey        map[string]entry
	byReducedKey map[string]entry
	entries      []entry
	threshold    float64
}

// NewMatcher builds a matcher over the given registry teams. Entries with
// identical team keys are collapsed, first wins.
func NewMatcher(teams []models.Team, fuzzyThreshold float64) *Matcher {
	m := &Matcher{
		byKey:        make(map[string]entry, len(teams)),
		byReducedKey: make(map[string]entry, len(teams)),
		threshold:    fuzzyThreshold,
	}

	for _, t := range teams {
		if t.TeamKey == "" {
			continue
		}
		if _, ok := m.byKey[t.TeamKey]; ok {
			log.Warn().Str("team_key", t.TeamKey).Msg("Registry key collision, keeping first entry")
			continue
		}
		e := entry{key: t.TeamKey, name: t.DisplayName, reducedKey: Reduce(t.TeamKey)}
		m.byKey[t.TeamKey] = e
		m.entries = append(m.entries, e)
		if _, ok := m.byReducedKey[e.reducedKey]; !ok {
			m.byReducedKey[e.reducedKey] = e
		}
	}

	// Deterministic fuzzy scan order regardless of input order.
	sort.Slice(m.entries, func(i, j int) bool { return m.entries[i].key < m.entries[j].key })

	return m
}

// Resolve maps a raw opponent name to a registry team key. Empty or
// whitespace-only input is an error.
func (m *Matcher) Resolve(rawName string) (Result, error) {
	if strings.TrimSpace(rawName) == "" {
		return Result{}, fmt.Errorf("cannot resolve empty team name")
	}

	key := Normalize(rawName)

	if e, ok := m.byKey[key]; ok {
		return Result{TeamKey: e.key, Tier: TierExact, Confidence: 1.0}, nil
	}

	reduced := Reduce(key)
	if e, ok := m.byReducedKey[reduced]; ok {
		return Result{TeamKey: e.key, Tier: TierNormalized, Confidence: 0.95}, nil
	}

	if best, score, ok := m.bestFuzzy(reduced); ok {
		return Result{TeamKey: best.key, Tier: TierFuzzy, Confidence: score}, nil
	}

	return Result{TeamKey: models.ExternalKeyPrefix + key, Tier: TierExternal}, nil
}

// bestFuzzy scans the registry for the highest token-set similarity at or
// above the threshold. Ties go to the shorter registry name.
func (m *Matcher) bestFuzzy(reduced string) (entry, float64, bool) {
	var best entry
	bestScore := 0.0
	found := false

	for _, e := range m.entries {
		score := TokenSetSimilarity(reduced, e.reducedKey)
		if score < m.threshold {
			continue
		}
		if !found || score > bestScore ||
			(score == bestScore && len(e.name) < len(best.name)) {
			best, bestScore, found = e, score, true
		}
	}

	return best, bestScore, found
}

// ageGenderTokenRe matches tokens that encode gender or age group rather
// than identity: "b", "g", "u11", "14b", "b14", "2014b".
var ageGenderTokenRe = regexp.MustCompile(`^(?:[bg]|u\d{1,2}|\d{1,4}[bg]|[bg]\d{1,4})$`)

// clubAbbreviations folds the short forms clubs commonly use in rosters.
var clubAbbreviations = map[string]string{
	"phx":  "phoenix",
	"utd":  "united",
	"ut":   "united",
	"tuc":  "tucson",
	"az":   "arizona",
	"acad": "",
	"jrs":  "juniors",
}

// Reduce applies the normalized-tier reductions on top of a canonical key:
// gender/age tokens removed, common club abbreviations expanded. Output is a
// canonical key again (sorted tokens), so Reduce is idempotent.
func Reduce(key string) string {
	var kept []string
	for _, tok := range Tokens(key) {
		if ageGenderTokenRe.MatchString(tok) {
			continue
		}
		if full, ok := clubAbbreviations[tok]; ok {
			tok = full
		}
		if tok == "" || clubSuffixes[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	sort.Strings(kept)
	return strings.Join(kept, " ")
}
