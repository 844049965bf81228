package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/config"
	"github.com/rightsideup/youthrank/internal/division"
	"github.com/rightsideup/youthrank/internal/metrics"
	"github.com/rightsideup/youthrank/internal/models"
	"github.com/rightsideup/youthrank/internal/rank"
	"github.com/rightsideup/youthrank/internal/scrape"
	"github.com/rightsideup/youthrank/internal/storage"
)

// Pipeline wires the scraper stages and the ranking engine together for one
// division at a time. Each public method is a complete CLI operation.
type Pipeline struct {
	cfg      *config.Config
	registry *division.Registry
	layout   storage.Layout
	client   *scrape.Client
}

// New builds a pipeline from the process configuration.
func New(cfg *config.Config, registry *division.Registry) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		layout:   storage.NewLayout(cfg.DataDir, cfg.CacheDir),
		client:   scrape.NewClient(cfg.HTTPUserAgent, cfg.HTTPTimeout, cfg.MaxRetries, cfg.RetryBackoff),
	}
}

// Layout exposes the artifact layout, mostly for the CLI's summary output.
func (p *Pipeline) Layout() storage.Layout { return p.layout }

// ScrapeTeams runs Stage 1 for a division and writes the bronze roster.
func (p *Pipeline) ScrapeTeams(ctx context.Context, divisionKey string) error {
	div, err := p.registry.Get(divisionKey)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	scraper := scrape.NewRosterScraper(p.client, p.layout)
	_, err = scraper.Run(ctx, div, runID)
	return err
}

// ScrapeMatches runs Stage 2 for a division, reading the bronze roster
// written by a previous ScrapeTeams run.
func (p *Pipeline) ScrapeMatches(ctx context.Context, divisionKey string) error {
	div, err := p.registry.Get(divisionKey)
	if err != nil {
		return err
	}

	roster, err := storage.ReadBronze(p.layout.BronzePath(div.Key))
	if err != nil {
		return fmt.Errorf("bronze roster for %s unavailable (run scrape-teams first): %w", div.Key, err)
	}

	runID := uuid.NewString()
	older, younger := p.adjacentRosters(div)

	cache := scrape.LoadProfileCache(p.layout.ProfileCachePath(div.Key))
	scraper := scrape.NewMatchScraper(p.client, cache, p.layout, scrape.Options{
		Workers:         p.cfg.MaxWorkers,
		JitterMin:       p.cfg.RequestJitterMin,
		JitterMax:       p.cfg.RequestJitterMax,
		MaxAttempts:     p.cfg.MaxRetries,
		FailThreshold:   p.cfg.FailThreshold,
		FuzzyThreshold:  p.cfg.FuzzyMatchThreshold,
		SearchThreshold: p.cfg.SearchSelectThreshold,
		Endpoints:       scrape.DefaultEndpoints(),
	}, roster, older, younger)

	_, err = scraper.Run(ctx, div, roster, runID)
	return err
}

// Rank runs the ranking engine over the gold matches and writes the rankings
// and connectivity CSVs.
func (p *Pipeline) Rank(divisionKey string) error {
	div, err := p.registry.Get(divisionKey)
	if err != nil {
		return err
	}

	roster, err := storage.ReadBronze(p.layout.BronzePath(div.Key))
	if err != nil {
		return fmt.Errorf("bronze roster for %s unavailable: %w", div.Key, err)
	}

	matches, err := storage.ReadGold(p.layout.GoldPath(div.Key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("gold matches for %s unavailable (run scrape-matches first): %w", div.Key, err)
		}
		return err
	}

	older, younger := p.adjacentRosters(div)

	engine := rank.NewEngine(rank.ParamsFromConfig(p.cfg))
	rows, summary, err := engine.Rank(div, matches, teamsOf(roster), older, younger)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		log.Warn().Str("division", div.Key).Msg("Ranking produced no rows, nothing written")
		return nil
	}

	if err := storage.WriteRankings(p.layout.RankingsPath(div.Key), rows); err != nil {
		return err
	}

	connectivity := rank.BuildConnectivity(div, matches, teamsOf(roster))
	if err := storage.WriteConnectivity(p.layout.ConnectivityPath(div.Key), connectivity); err != nil {
		return err
	}

	if !summary.Converged && summary.Iterations > 0 {
		log.Warn().
			Str("division", div.Key).
			Int("iterations", summary.Iterations).
			Float64("final_delta", summary.FinalDelta).
			Msg("Rating solver terminated by iteration cap")
	}

	return nil
}

// RunAll runs roster scrape, match scrape and ranking back to back for one
// division, sharing a single run id across the stages.
func (p *Pipeline) RunAll(ctx context.Context, divisionKey string) error {
	div, err := p.registry.Get(divisionKey)
	if err != nil {
		return err
	}

	start := time.Now()
	runID := uuid.NewString()
	log.Info().
		Str("division", div.Key).
		Str("run_id", runID).
		Msg("Starting full pipeline run")

	rosterScraper := scrape.NewRosterScraper(p.client, p.layout)
	roster, err := rosterScraper.Run(ctx, div, runID)
	if err != nil {
		metrics.PipelineRunsTotal.WithLabelValues(div.Key, "roster_failed").Inc()
		return err
	}

	older, younger := p.adjacentRosters(div)

	cache := scrape.LoadProfileCache(p.layout.ProfileCachePath(div.Key))
	matchScraper := scrape.NewMatchScraper(p.client, cache, p.layout, scrape.Options{
		Workers:         p.cfg.MaxWorkers,
		JitterMin:       p.cfg.RequestJitterMin,
		JitterMax:       p.cfg.RequestJitterMax,
		MaxAttempts:     p.cfg.MaxRetries,
		FailThreshold:   p.cfg.FailThreshold,
		FuzzyThreshold:  p.cfg.FuzzyMatchThreshold,
		SearchThreshold: p.cfg.SearchSelectThreshold,
		Endpoints:       scrape.DefaultEndpoints(),
	}, roster, older, younger)

	if _, err := matchScraper.Run(ctx, div, roster, runID); err != nil {
		metrics.PipelineRunsTotal.WithLabelValues(div.Key, "matches_failed").Inc()
		return err
	}

	if err := p.Rank(div.Key); err != nil {
		metrics.PipelineRunsTotal.WithLabelValues(div.Key, "rank_failed").Inc()
		return err
	}

	metrics.PipelineRunsTotal.WithLabelValues(div.Key, "success").Inc()
	log.Info().
		Str("division", div.Key).
		Str("run_id", runID).
		Dur("elapsed", time.Since(start)).
		Msg("Full pipeline run complete")
	return nil
}

// adjacentRosters loads the one-age-up and one-age-down bronze rosters when
// they exist, for cross-age opponent resolution. Missing files are fine.
func (p *Pipeline) adjacentRosters(div models.Division) (older, younger []models.Team) {
	if adj, ok := p.registry.Adjacent(div, +1); ok {
		older = p.loadRosterTeams(adj.Key)
	}
	if adj, ok := p.registry.Adjacent(div, -1); ok {
		younger = p.loadRosterTeams(adj.Key)
	}
	return older, younger
}

func (p *Pipeline) loadRosterTeams(divisionKey string) []models.Team {
	rows, err := storage.ReadBronze(p.layout.BronzePath(divisionKey))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Debug().Err(err).Str("division", divisionKey).Msg("Adjacent roster unreadable, skipping")
		}
		return nil
	}
	return teamsOf(rows)
}

func teamsOf(roster []models.RosterTeam) []models.Team {
	teams := make([]models.Team, 0, len(roster))
	for _, t := range roster {
		teams = append(teams, t.Team)
	}
	return teams
}
