package identity

import (
	"regexp"
	"sort"
	"strings"
)

// Team name canonicalization. The canonical key is the identity used for
// every join in the pipeline, so Normalize must be deterministic and
// idempotent: Normalize(Normalize(x)) == Normalize(x).

var (
	venueMarkerRe = regexp.MustCompile(`\s*\((h|a)\)\s*$`)
	nonAlnumRe    = regexp.MustCompile(`[^a-z0-9 ]+`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

// clubSuffixes are organizational filler tokens that carry no identity.
var clubSuffixes = map[string]bool{
	"sc":      true,
	"fc":      true,
	"cf":      true,
	"club":    true,
	"soccer":  true,
	"academy": true,
	"youth":   true,
}

// Normalize converts a raw team name to its canonical key: lowercased,
// punctuation stripped, club suffixes folded away, tokens sorted.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = venueMarkerRe.ReplaceAllString(s, "")
	s = nonAlnumRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")

	tokens := strings.Fields(s)
	kept := tokens[:0]
	for _, tok := range tokens {
		if clubSuffixes[tok] {
			continue
		}
		kept = append(kept, tok)
	}

	sort.Strings(kept)
	return strings.Join(kept, " ")
}

// Tokens returns the sorted token set of a canonical key.
func Tokens(key string) []string {
	return strings.Fields(key)
}

// TokenSetSimilarity computes intersection-over-union on the token sets of
// two canonical keys. Used by the fuzzy matcher tier.
func TokenSetSimilarity(a, b string) float64 {
	as, bs := tokenSet(a), tokenSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}

	inter := 0
	for tok := range as {
		if bs[tok] {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}

// TokenOverlap computes the fraction of query tokens present in the
// candidate. Asymmetric on purpose: search results often append venue or
// season noise that should not punish the query. Used for profile-search
// candidate selection.
func TokenOverlap(query, candidate string) float64 {
	qs, cs := tokenSet(query), tokenSet(candidate)
	if len(qs) == 0 {
		return 0
	}

	inter := 0
	for tok := range qs {
		if cs[tok] {
			inter++
		}
	}
	return float64(inter) / float64(len(qs))
}

func tokenSet(key string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(key) {
		set[tok] = true
	}
	return set
}
