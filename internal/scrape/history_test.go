package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightsideup/youthrank/internal/models"
	"github.com/rightsideup/youthrank/internal/storage"
)

func testOptions(endpoints Endpoints) Options {
	return Options{
		Workers:         2,
		JitterMin:       0,
		JitterMax:       0,
		MaxAttempts:     3,
		FailThreshold:   0.10,
		FuzzyThreshold:  0.85,
		SearchThreshold: 0.60,
		Endpoints:       endpoints,
	}
}

func localEndpoints(base string) Endpoints {
	return Endpoints{
		HistoryURL: func(externalID string) string {
			return base + "/teams/" + externalID + "/past_matches"
		},
		SearchURL: func(query string) string {
			return base + "/search?q=" + query
		},
	}
}

func rosterTeam(name, externalID string) models.RosterTeam {
	return models.RosterTeam{
		Team: models.Team{
			TeamKey:     strings.ToLower(name),
			DisplayName: name,
			State:       "az",
			ExternalID:  externalID,
		},
		ScrapedAt: time.Now().UTC(),
	}
}

func recentDate(daysAgo int) string {
	return time.Now().UTC().AddDate(0, 0, -daysAgo).Format("2006-01-02")
}

func TestMatchScraper_HappyPath(t *testing.T) {
	history := fmt.Sprintf(`[
	  {"date": %q, "opponent": "bravo", "team_score": 2, "opponent_score": 1, "competition": "League"},
	  {"date": %q, "opponent": "Las Vegas Heat", "team_score": 0, "opponent_score": 3}
	]`, recentDate(30), recentDate(20))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/teams/111/") {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(history))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	layout := storage.NewLayout(t.TempDir(), "cache")
	cache := LoadProfileCache(layout.ProfileCachePath("az_boys_u11"))
	roster := []models.RosterTeam{rosterTeam("alpha", "111"), rosterTeam("bravo", "")}

	scraper := NewMatchScraper(testClient(), cache, layout, testOptions(localEndpoints(srv.URL)), roster, nil, nil)
	summary, err := scraper.Run(context.Background(), testDiv(srv.URL), roster, "run-1")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Attempted, "Teams without an external id are skipped")
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Rows)

	rows, err := storage.ReadGold(layout.GoldPath("az_boys_u11"))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, m := range rows {
		assert.LessOrEqual(t, m.TeamAKey, m.TeamBKey, "Gold rows keep canonical order")
	}

	var resolved, external bool
	for _, m := range rows {
		if m.Confidence == "exact" {
			resolved = true
		}
		if strings.HasPrefix(m.Confidence, "external:") {
			external = true
		}
	}
	assert.True(t, resolved, "Roster opponents resolve through the matcher")
	assert.True(t, external, "Unknown opponents are recorded as external")
}

func TestMatchScraper_404InvalidatesAndResearches(t *testing.T) {
	var searches atomic.Int32
	history := fmt.Sprintf(`[{"date": %q, "opponent": "bravo", "team_score": 1, "opponent_score": 0}]`, recentDate(10))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/teams/stale/"):
			w.WriteHeader(http.StatusNotFound)
		case strings.HasPrefix(r.URL.Path, "/teams/999/"):
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(history))
		case r.URL.Path == "/search":
			searches.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"team_id": 999, "team_name": "alpha"}]`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	layout := storage.NewLayout(t.TempDir(), "cache")
	cache := LoadProfileCache(layout.ProfileCachePath("az_boys_u11"))
	cache.Put("alpha", "stale")

	roster := []models.RosterTeam{rosterTeam("alpha", "stale"), rosterTeam("bravo", "")}
	scraper := NewMatchScraper(testClient(), cache, layout, testOptions(localEndpoints(srv.URL)), roster, nil, nil)

	summary, err := scraper.Run(context.Background(), testDiv(srv.URL), roster, "run-1")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded, "Second attempt succeeds with the re-resolved profile")
	assert.Equal(t, int32(1), searches.Load(), "Exactly one fresh search after the 404")

	entry, ok := cache.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "999", entry.ExternalID, "Cache holds the re-resolved id")

	rows, err := storage.ReadGold(layout.GoldPath("az_boys_u11"))
	require.NoError(t, err)
	assert.Len(t, rows, 1, "Output contains the team's matches")

	errLog, err := os.ReadFile(layout.ErrorLogPath("az_boys_u11"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), `"status_code":404`, "Error log records the 404")
	assert.Contains(t, string(errLog), `"team_key":"alpha"`)
}

func TestMatchScraper_ThresholdExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	layout := storage.NewLayout(t.TempDir(), "cache")
	cache := LoadProfileCache(layout.ProfileCachePath("az_boys_u11"))
	roster := []models.RosterTeam{rosterTeam("alpha", "111")}

	scraper := NewMatchScraper(testClient(), cache, layout, testOptions(localEndpoints(srv.URL)), roster, nil, nil)
	summary, err := scraper.Run(context.Background(), testDiv(srv.URL), roster, "run-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrThresholdExceeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Succeeded)
}

func TestMatchScraper_ServerErrorsUseSingleRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	layout := storage.NewLayout(t.TempDir(), "cache")
	cache := LoadProfileCache(layout.ProfileCachePath("az_boys_u11"))
	roster := []models.RosterTeam{rosterTeam("alpha", "111")}

	opts := testOptions(localEndpoints(srv.URL))
	opts.FailThreshold = 1.0
	scraper := NewMatchScraper(testClient(), cache, layout, opts, roster, nil, nil)

	summary, err := scraper.Run(context.Background(), testDiv(srv.URL), roster, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, int32(3), calls.Load(),
		"The HTTP client's backoff budget is the only retry budget for server errors")
}

func TestMatchScraper_ZeroMatchesIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	layout := storage.NewLayout(t.TempDir(), "cache")
	cache := LoadProfileCache(layout.ProfileCachePath("az_boys_u11"))
	roster := []models.RosterTeam{rosterTeam("alpha", "111")}

	scraper := NewMatchScraper(testClient(), cache, layout, testOptions(localEndpoints(srv.URL)), roster, nil, nil)
	summary, err := scraper.Run(context.Background(), testDiv(srv.URL), roster, "run-1")

	require.NoError(t, err, "A team with no history is not a failure")
	assert.Equal(t, 1, summary.ZeroMatch)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
}

func TestMatchScraper_InvalidRowsDropped(t *testing.T) {
	history := fmt.Sprintf(`[
	  {"date": %q, "opponent": "bravo", "team_score": 1, "opponent_score": 0},
	  {"date": %q, "opponent": "", "team_score": 1, "opponent_score": 0},
	  {"date": %q, "opponent": "charlie", "team_score": -2, "opponent_score": 0},
	  {"date": "not-a-date", "opponent": "delta", "team_score": 1, "opponent_score": 1}
	]`, recentDate(5), recentDate(6), recentDate(7))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(history))
	}))
	defer srv.Close()

	layout := storage.NewLayout(t.TempDir(), "cache")
	cache := LoadProfileCache(layout.ProfileCachePath("az_boys_u11"))
	roster := []models.RosterTeam{rosterTeam("alpha", "111"), rosterTeam("bravo", "")}

	scraper := NewMatchScraper(testClient(), cache, layout, testOptions(localEndpoints(srv.URL)), roster, nil, nil)
	summary, err := scraper.Run(context.Background(), testDiv(srv.URL), roster, "run-1")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Rows, "Only the schema-valid row survives")
	assert.Equal(t, 1, summary.Succeeded, "Bad rows do not fail the team")
}

func TestMatchScraper_CancellationStopsDispatch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	layout := storage.NewLayout(t.TempDir(), "cache")
	cache := LoadProfileCache(layout.ProfileCachePath("az_boys_u11"))

	var roster []models.RosterTeam
	for i := 0; i < 50; i++ {
		roster = append(roster, rosterTeam(fmt.Sprintf("team%02d", i), fmt.Sprintf("%d", i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := testOptions(localEndpoints(srv.URL))
	opts.FailThreshold = 1.0
	scraper := NewMatchScraper(testClient(), cache, layout, opts, roster, nil, nil)
	summary, err := scraper.Run(ctx, testDiv(srv.URL), roster, "run-1")

	require.NoError(t, err)
	assert.Less(t, summary.Attempted, 50, "No new work is dispatched after cancellation")
}
