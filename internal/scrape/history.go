package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/identity"
	"github.com/rightsideup/youthrank/internal/metrics"
	"github.com/rightsideup/youthrank/internal/models"
	"github.com/rightsideup/youthrank/internal/storage"
)

// Endpoints builds the upstream URLs Stage 2 talks to. Tests point these at
// local servers.
type Endpoints struct {
	HistoryURL func(externalID string) string
	SearchURL  func(query string) string
}

// DefaultEndpoints returns the production upstream endpoints.
func DefaultEndpoints() Endpoints {
	const base = "https://rankings.gotsport.com"
	return Endpoints{
		HistoryURL: func(externalID string) string {
			return base + "/api/v1/teams/" + externalID + "/past_matches"
		},
		SearchURL: func(query string) string {
			return base + "/api/v1/team_search?search=" + url.QueryEscape(query)
		},
	}
}

// Options holds the Stage 2 tuning knobs.
type Options struct {
	Workers         int
	JitterMin       time.Duration
	JitterMax       time.Duration
	MaxAttempts     int
	FailThreshold   float64
	FuzzyThreshold  float64
	SearchThreshold float64
	HistoryWindow   time.Duration
	Endpoints       Endpoints
}

// MatchScraper fetches each roster team's past-match history, resolves
// opponents against the division's rosters and writes the gold match CSV.
type MatchScraper struct {
	client *Client
	cache  *ProfileCache
	layout storage.Layout
	opts   Options

	matcher     *identity.Matcher
	ownKeys     map[string]bool
	olderKeys   map[string]bool
	youngerKeys map[string]bool
	stateByKey  map[string]string
}

// NewMatchScraper creates a Stage 2 scraper. The opponent registry is the
// union of the division's roster and the adjacent-age rosters; age context is
// tagged from which roster a resolved opponent came from.
func NewMatchScraper(client *Client, cache *ProfileCache, layout storage.Layout, opts Options,
	roster []models.RosterTeam, older, younger []models.Team) *MatchScraper {

	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 18 * 30 * 24 * time.Hour
	}
	if opts.Endpoints.HistoryURL == nil {
		opts.Endpoints = DefaultEndpoints()
	}

	s := &MatchScraper{
		client:      client,
		cache:       cache,
		layout:      layout,
		opts:        opts,
		ownKeys:     make(map[string]bool),
		olderKeys:   make(map[string]bool),
		youngerKeys: make(map[string]bool),
		stateByKey:  make(map[string]string),
	}

	var registry []models.Team
	for _, t := range roster {
		s.ownKeys[t.TeamKey] = true
		s.stateByKey[t.TeamKey] = t.State
		registry = append(registry, t.Team)
	}
	for _, t := range older {
		if !s.ownKeys[t.TeamKey] {
			s.olderKeys[t.TeamKey] = true
			registry = append(registry, t)
		}
		if _, ok := s.stateByKey[t.TeamKey]; !ok {
			s.stateByKey[t.TeamKey] = t.State
		}
	}
	for _, t := range younger {
		if !s.ownKeys[t.TeamKey] && !s.olderKeys[t.TeamKey] {
			s.youngerKeys[t.TeamKey] = true
			registry = append(registry, t)
		}
		if _, ok := s.stateByKey[t.TeamKey]; !ok {
			s.stateByKey[t.TeamKey] = t.State
		}
	}

	s.matcher = identity.NewMatcher(registry, opts.FuzzyThreshold)
	return s
}

type teamResult struct {
	teamKey string
	rows    []models.MatchRow
	err     error
}

// Run scrapes match histories for every roster team that carries an external
// id, using a bounded worker pool. Partial results are written whenever at
// least one team succeeded; ErrThresholdExceeded is returned when the failed
// fraction exceeds the configured limit.
func (s *MatchScraper) Run(ctx context.Context, div models.Division, roster []models.RosterTeam, runID string) (models.ScrapeSummary, error) {
	start := time.Now()

	var work []models.RosterTeam
	skipped := 0
	for _, t := range roster {
		if !t.HasExternalID() {
			// Flagged external_id_missing by Stage 1; nothing to fetch.
			skipped++
			continue
		}
		work = append(work, t)
	}

	log.Info().
		Str("division", div.Key).
		Str("run_id", runID).
		Int("teams", len(work)).
		Int("skipped", skipped).
		Int("workers", s.opts.Workers).
		Msg("Scraping match histories")

	jobs := make(chan models.RosterTeam)
	results := make(chan teamResult)

	var wg sync.WaitGroup
	for w := 0; w < s.opts.Workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for team := range jobs {
				s.sleepJitter(ctx, rng)
				rows, err := s.scrapeTeam(ctx, div, team, runID)
				results <- teamResult{teamKey: team.TeamKey, rows: rows, err: err}
			}
		}(w)
	}

	// Feed jobs; stop dispatching once cancelled, in-flight work finishes.
	go func() {
		defer close(jobs)
		for _, team := range work {
			select {
			case <-ctx.Done():
				return
			case jobs <- team:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	summary := models.ScrapeSummary{
		RunID:     runID,
		Division:  div.Key,
		StartedAt: start.UTC(),
	}

	var allRows []models.MatchRow
	for res := range results {
		summary.Attempted++
		switch {
		case res.err != nil:
			summary.Failed++
			metrics.TeamHistoryOutcomes.WithLabelValues(div.Key, "failed").Inc()
		case len(res.rows) == 0:
			// A successful fetch with no games is not an error.
			summary.ZeroMatch++
			summary.Succeeded++
			metrics.TeamHistoryOutcomes.WithLabelValues(div.Key, "zero_match").Inc()
		default:
			summary.Succeeded++
			allRows = append(allRows, res.rows...)
			metrics.TeamHistoryOutcomes.WithLabelValues(div.Key, "succeeded").Inc()
		}
	}

	summary.Rows = len(allRows)
	summary.Duration = time.Since(start).Seconds()

	if summary.Succeeded > 0 {
		if err := storage.WriteGold(s.layout.GoldPath(div.Key), allRows); err != nil {
			return summary, fmt.Errorf("gold write for %s failed: %w", div.Key, err)
		}
		metrics.MatchRowsEmitted.WithLabelValues(div.Key).Add(float64(len(allRows)))
	}

	if err := s.cache.Save(); err != nil {
		log.Error().Err(err).Msg("Failed to persist profile cache")
	}

	if err := storage.WriteSummary(s.layout.SummaryPath(div.Key), summary); err != nil {
		log.Error().Err(err).Msg("Failed to write scrape summary")
	}

	if err := storage.AppendEvent(s.layout.EventLogPath(), storage.EventEntry{
		RunID:    runID,
		Division: div.Key,
		Stage:    "matches",
		Teams:    summary.Attempted,
		Rows:     summary.Rows,
		Failed:   summary.Failed,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to append match scrape event")
	}

	log.Info().
		Str("division", div.Key).
		Int("attempted", summary.Attempted).
		Int("succeeded", summary.Succeeded).
		Int("zero_match", summary.ZeroMatch).
		Int("failed", summary.Failed).
		Int("rows", summary.Rows).
		Dur("elapsed", time.Since(start)).
		Msg("Match scrape complete")

	if summary.Attempted > 0 && summary.FailureRate() > s.opts.FailThreshold {
		return summary, fmt.Errorf("%w: %d/%d teams failed",
			models.ErrThresholdExceeded, summary.Failed, summary.Attempted)
	}

	return summary, nil
}

func (s *MatchScraper) sleepJitter(ctx context.Context, rng *rand.Rand) {
	span := s.opts.JitterMax - s.opts.JitterMin
	delay := s.opts.JitterMin
	if span > 0 {
		delay += time.Duration(rng.Int63n(int64(span)))
	}
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// scrapeTeam fetches one team's history. The HTTP client owns the retry and
// backoff budget for transient failures; the loop here exists only for 404s,
// which invalidate the profile cache entry and force a fresh search before
// the next fetch.
func (s *MatchScraper) scrapeTeam(ctx context.Context, div models.Division, team models.RosterTeam, runID string) ([]models.MatchRow, error) {
	externalID := team.ExternalID
	if e, ok := s.cache.Get(team.TeamKey); ok {
		externalID = e.ExternalID
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if externalID == "" {
			id, err := s.resolveProfile(ctx, team)
			if err != nil {
				s.logTeamError(div, team.TeamKey, runID, attempt, 0, "profile not found: "+err.Error())
				return nil, fmt.Errorf("team %s: %w", team.TeamKey, err)
			}
			externalID = id
		}

		histURL := s.opts.Endpoints.HistoryURL(externalID)
		resp, err := s.client.Get(ctx, histURL)
		if err != nil {
			if IsNotFound(err) {
				s.cache.Invalidate(team.TeamKey)
				s.logTeamError(div, team.TeamKey, runID, attempt, 404, "history endpoint returned 404")
				externalID = ""
				lastErr = err
				continue
			}
			status := 0
			var se *StatusError
			if errors.As(err, &se) {
				status = se.StatusCode
			}
			s.logTeamError(div, team.TeamKey, runID, attempt, status, err.Error())
			return nil, fmt.Errorf("team %s: %w", team.TeamKey, err)
		}

		rows := s.parseHistory(div, team, histURL, resp.Body, runID)
		s.cache.Put(team.TeamKey, externalID)
		return rows, nil
	}

	return nil, fmt.Errorf("team %s failed after %d attempts: %w", team.TeamKey, s.opts.MaxAttempts, lastErr)
}

// resolveProfile queries the platform search endpoint and selects the best
// candidate by tiered matching with the relaxed search threshold.
func (s *MatchScraper) resolveProfile(ctx context.Context, team models.RosterTeam) (string, error) {
	resp, err := s.client.Get(ctx, s.opts.Endpoints.SearchURL(team.DisplayName))
	if err != nil {
		return "", fmt.Errorf("profile search failed: %w", err)
	}

	var candidates []rosterTeamInput
	if err := json.Unmarshal(resp.Body, &candidates); err != nil {
		var envelope struct {
			Data []rosterTeamInput `json:"data"`
		}
		if err2 := json.Unmarshal(resp.Body, &envelope); err2 != nil || envelope.Data == nil {
			return "", fmt.Errorf("failed to decode search response: %w", err)
		}
		candidates = envelope.Data
	}

	queryKey := team.TeamKey
	queryReduced := identity.Reduce(queryKey)

	bestID := ""
	bestScore := -1.0
	for _, c := range candidates {
		name := c.TeamName
		if name == "" {
			name = c.Name
		}
		id := c.TeamID.String()
		if id == "" {
			id = c.ID.String()
		}
		if name == "" || id == "" {
			continue
		}

		candKey := identity.Normalize(name)
		// Exact beats normalized beats fuzzy overlap.
		var score float64
		switch {
		case candKey == queryKey:
			score = 2.0
		case identity.Reduce(candKey) == queryReduced:
			score = 1.5
		default:
			score = identity.TokenOverlap(queryReduced, identity.Reduce(candKey))
			if score < s.opts.SearchThreshold {
				continue
			}
		}

		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}

	if bestID == "" {
		return "", fmt.Errorf("no search candidate at or above overlap %.2f for %q",
			s.opts.SearchThreshold, team.DisplayName)
	}

	s.cache.Put(team.TeamKey, bestID)
	return bestID, nil
}

// matchInput is one row of the upstream past-match payload.
type matchInput struct {
	Date        string `json:"date"`
	Opponent    string `json:"opponent"`
	OpponentID  string `json:"opponent_id"`
	TeamScore   *int   `json:"team_score"`
	OppScore    *int   `json:"opponent_score"`
	Competition string `json:"competition"`
}

// parseHistory turns the upstream payload into canonical match rows.
// Schema-invalid rows are dropped and logged; the team's other rows proceed.
func (s *MatchScraper) parseHistory(div models.Division, team models.RosterTeam, sourceURL string, body []byte, runID string) []models.MatchRow {
	var inputs []matchInput
	if err := json.Unmarshal(body, &inputs); err != nil {
		var envelope struct {
			PastMatches []matchInput `json:"past_matches"`
		}
		if err2 := json.Unmarshal(body, &envelope); err2 != nil || envelope.PastMatches == nil {
			s.logTeamError(div, team.TeamKey, runID, 0, 0, "history payload not decodable")
			return nil
		}
		inputs = envelope.PastMatches
	}

	now := time.Now().UTC()
	oldest := now.Add(-s.opts.HistoryWindow)

	var rows []models.MatchRow
	for _, in := range inputs {
		if strings.TrimSpace(in.Opponent) == "" || in.TeamScore == nil || in.OppScore == nil {
			s.logTeamError(div, team.TeamKey, runID, 0, 0, "match row missing required fields, dropped")
			continue
		}
		if *in.TeamScore < 0 || *in.OppScore < 0 {
			s.logTeamError(div, team.TeamKey, runID, 0, 0, "match row has negative score, dropped")
			continue
		}

		date, err := time.Parse("2006-01-02", in.Date)
		if err != nil {
			s.logTeamError(div, team.TeamKey, runID, 0, 0, fmt.Sprintf("match row has bad date %q, dropped", in.Date))
			continue
		}
		if date.Before(oldest) || date.After(now.Add(24*time.Hour)) {
			continue
		}

		res, err := s.matcher.Resolve(in.Opponent)
		if err != nil {
			s.logTeamError(div, team.TeamKey, runID, 0, 0, "opponent name did not normalize, dropped")
			continue
		}
		metrics.RecordResolution(string(res.Tier))

		confidence := res.ConfidenceLabel()
		if res.Tier == identity.TierExternal && in.OpponentID != "" {
			confidence = "external:" + in.OpponentID
		}

		row := models.MatchRow{
			Date:        date,
			TeamAKey:    team.TeamKey,
			TeamAName:   team.DisplayName,
			TeamBKey:    res.TeamKey,
			TeamBName:   strings.TrimSpace(in.Opponent),
			ScoreA:      *in.TeamScore,
			ScoreB:      *in.OppScore,
			Competition: strings.TrimSpace(in.Competition),
			SourceURL:   sourceURL,
			AgeContext:  s.ageContext(res.TeamKey),
			Confidence:  confidence,
		}
		row.Canonicalize()
		rows = append(rows, row)
	}

	return rows
}

// ageContext reports which roster the resolved opponent key belongs to.
func (s *MatchScraper) ageContext(teamKey string) models.AgeContext {
	switch {
	case s.ownKeys[teamKey]:
		return models.AgeOwn
	case s.olderKeys[teamKey]:
		return models.AgeOlder
	case s.youngerKeys[teamKey]:
		return models.AgeYounger
	default:
		return models.AgeUnknown
	}
}

func (s *MatchScraper) logTeamError(div models.Division, teamKey, runID string, attempt, status int, reason string) {
	metrics.RecordError("match_scraper", "team_error")
	if err := storage.AppendError(s.layout.ErrorLogPath(div.Key), storage.ErrorEntry{
		RunID:      runID,
		Division:   div.Key,
		TeamKey:    teamKey,
		Attempt:    attempt,
		StatusCode: status,
		Reason:     reason,
	}); err != nil {
		log.Error().Err(err).Str("team_key", teamKey).Msg("Failed to append scrape error entry")
	}
}
