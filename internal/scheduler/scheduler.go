package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/config"
	"github.com/rightsideup/youthrank/internal/division"
	"github.com/rightsideup/youthrank/internal/pipeline"
)

// Scheduler runs the full pipeline for every active division on a cron
// schedule. A run that is still in progress when the next tick fires is not
// overlapped; the tick is skipped instead.
type Scheduler struct {
	cfg      *config.Config
	registry *division.Registry
	pipe     *pipeline.Pipeline
	cron     *cron.Cron
	running  atomic.Bool
}

// NewScheduler creates a scheduler instance.
func NewScheduler(cfg *config.Config, registry *division.Registry, pipe *pipeline.Pipeline) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		pipe:     pipe,
		cron:     cron.New(),
	}
}

// Start registers the pipeline cron job and starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Msg("Scheduler starting...")

	if _, err := s.cron.AddFunc(s.cfg.PipelineCron, func() {
		s.runAll(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule pipeline run: %w", err)
	}

	s.cron.Start()
	log.Info().
		Str("schedule", s.cfg.PipelineCron).
		Int("divisions", len(s.registry.Active())).
		Msg("Pipeline runs scheduled")

	return nil
}

// Stop stops the cron scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler...")
	<-s.cron.Stop().Done()
	log.Info().Msg("Scheduler stopped")
}

// runAll processes every active division sequentially; one division failing
// does not stop the others.
func (s *Scheduler) runAll(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		log.Warn().Msg("Previous pipeline run still in progress, skipping tick")
		return
	}
	defer s.running.Store(false)

	for _, div := range s.registry.Active() {
		if ctx.Err() != nil {
			return
		}
		if err := s.pipe.RunAll(ctx, div.Key); err != nil {
			log.Error().Err(err).Str("division", div.Key).Msg("Scheduled pipeline run failed")
		}
	}
}
