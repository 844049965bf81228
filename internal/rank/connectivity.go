package rank

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/models"
)

// BuildConnectivity labels every roster team with its connected component in
// the opponent graph. Vertices are roster teams plus any opponent appearing
// in the match set; only roster teams are reported. Small components usually
// mean a sub-league whose SOS values are not comparable to the rest.
func BuildConnectivity(div models.Division, matches []models.MatchRow, roster []models.Team) []models.ConnectivityRow {
	index := make(map[string]int)
	keys := []string{}
	idOf := func(key string) int {
		if id, ok := index[key]; ok {
			return id
		}
		id := len(keys)
		index[key] = id
		keys = append(keys, key)
		return id
	}

	for _, t := range roster {
		idOf(t.TeamKey)
	}

	uf := newUnionFind(0)
	degree := make(map[string]map[string]bool)

	edge := func(a, b string) {
		if a == b {
			return
		}
		ia, ib := idOf(a), idOf(b)
		uf.grow(len(keys))
		uf.union(ia, ib)

		if degree[a] == nil {
			degree[a] = make(map[string]bool)
		}
		if degree[b] == nil {
			degree[b] = make(map[string]bool)
		}
		degree[a][b] = true
		degree[b][a] = true
	}

	for _, m := range matches {
		edge(m.TeamAKey, m.TeamBKey)
	}
	uf.grow(len(keys))

	// Component sizes count every vertex, external opponents included, since
	// they still connect roster teams to each other.
	sizes := make(map[int]int)
	for i := range keys {
		sizes[uf.find(i)]++
	}

	// Stable component ids: number roots by the smallest team key they hold.
	rootKeys := make(map[int]string)
	for i, k := range keys {
		r := uf.find(i)
		if cur, ok := rootKeys[r]; !ok || k < cur {
			rootKeys[r] = k
		}
	}
	roots := make([]int, 0, len(rootKeys))
	for r := range rootKeys {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return rootKeys[roots[i]] < rootKeys[roots[j]] })
	componentID := make(map[int]int, len(roots))
	for i, r := range roots {
		componentID[r] = i + 1
	}

	rows := make([]models.ConnectivityRow, 0, len(roster))
	for _, t := range roster {
		r := uf.find(index[t.TeamKey])
		row := models.ConnectivityRow{
			TeamKey:       t.TeamKey,
			ComponentID:   componentID[r],
			ComponentSize: sizes[r],
			Degree:        len(degree[t.TeamKey]),
		}
		if row.ComponentSize < 3 {
			log.Warn().
				Str("division", div.Key).
				Str("team_key", t.TeamKey).
				Int("component_size", row.ComponentSize).
				Msg("Team sits in a small opponent-graph component")
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].TeamKey < rows[j].TeamKey })
	return rows
}

// unionFind is a growable disjoint-set forest with path compression.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{}
	uf.grow(n)
	return uf
}

func (uf *unionFind) grow(n int) {
	for len(uf.parent) < n {
		uf.parent = append(uf.parent, len(uf.parent))
		uf.rank = append(uf.rank, 0)
	}
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}
