package division

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/models"
)

// Registry is the single source of truth mapping a division key to its
// upstream roster URL and metadata. Loaded once at process start.
type Registry struct {
	divisions map[string]models.Division
}

// builtin covers the divisions the pipeline currently runs. The roster URL
// carries the upstream query for (country, age, gender, state).
var builtin = []models.Division{
	{Key: "az_boys_u10", Age: 10, Gender: "m", State: "az", Name: "Arizona Boys U10", Active: true,
		RosterURL: "https://rankings.gotsport.com/?team_country=USA&age=10&gender=m&state=AZ"},
	{Key: "az_boys_u11", Age: 11, Gender: "m", State: "az", Name: "Arizona Boys U11", Active: true,
		RosterURL: "https://rankings.gotsport.com/?team_country=USA&age=11&gender=m&state=AZ"},
	{Key: "az_boys_u12", Age: 12, Gender: "m", State: "az", Name: "Arizona Boys U12", Active: true,
		RosterURL: "https://rankings.gotsport.com/?team_country=USA&age=12&gender=m&state=AZ"},
	{Key: "az_boys_u13", Age: 13, Gender: "m", State: "az", Name: "Arizona Boys U13", Active: true,
		RosterURL: "https://rankings.gotsport.com/?team_country=USA&age=13&gender=m&state=AZ"},
	{Key: "az_boys_u14", Age: 14, Gender: "m", State: "az", Name: "Arizona Boys U14", Active: true,
		RosterURL: "https://rankings.gotsport.com/?team_country=USA&age=14&gender=m&state=AZ"},
}

// NewRegistry returns a registry seeded with the builtin divisions.
func NewRegistry() *Registry {
	return NewRegistryWith(builtin)
}

// NewRegistryWith builds a registry from an explicit division list. Duplicate
// keys are collapsed, first entry wins.
func NewRegistryWith(divisions []models.Division) *Registry {
	m := make(map[string]models.Division, len(divisions))
	for _, d := range divisions {
		if _, ok := m[d.Key]; ok {
			log.Warn().Str("division", d.Key).Msg("Duplicate division key, keeping first entry")
			continue
		}
		m[d.Key] = d
	}
	return &Registry{divisions: m}
}

// Get looks up a division by key.
func (r *Registry) Get(key string) (models.Division, error) {
	d, ok := r.divisions[key]
	if !ok {
		return models.Division{}, fmt.Errorf("%w: %q", models.ErrUnknownDivision, key)
	}
	return d, nil
}

// Adjacent returns the division one age step away from div in the same state
// and gender, if registered. delta is +1 for one age up, -1 for one down.
func (r *Registry) Adjacent(div models.Division, delta int) (models.Division, bool) {
	for _, d := range r.divisions {
		if d.State == div.State && d.Gender == div.Gender && d.Age == div.Age+delta {
			return d, true
		}
	}
	return models.Division{}, false
}

// Active returns all active divisions sorted by key, for scheduled runs.
func (r *Registry) Active() []models.Division {
	var out []models.Division
	for _, d := range r.divisions {
		if d.Active {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns every registered division key sorted, for CLI help output.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.divisions))
	for k := range r.divisions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
