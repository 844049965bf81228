// Command youthrank runs the division scraping pipeline and ranking engine.
//
// Usage:
//
//	youthrank <scrape-teams|scrape-matches|rank|all|schedule> --division <key> [flags]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/config"
	"github.com/rightsideup/youthrank/internal/division"
	"github.com/rightsideup/youthrank/internal/models"
	"github.com/rightsideup/youthrank/internal/pipeline"
	"github.com/rightsideup/youthrank/internal/scheduler"
)

const (
	exitOK                = 0
	exitOther             = 1
	exitInvalidArgs       = 2
	exitUnknownDivision   = 3
	exitThresholdExceeded = 4
	exitMalformedInput    = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	setupLogger()

	if len(os.Args) < 2 {
		usage()
		return exitInvalidArgs
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	divisionKey := fs.String("division", "", "division key, e.g. az_boys_u11")
	workers := fs.Int("workers", 0, "override worker pool size")
	timeoutSeconds := fs.Int("timeout-seconds", 0, "override HTTP timeout")
	windowDays := fs.Int("window-days", 0, "override ranking window in days")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return exitInvalidArgs
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return exitOther
	}
	if *workers > 0 {
		cfg.MaxWorkers = *workers
	}
	if *timeoutSeconds > 0 {
		cfg.HTTPTimeout = time.Duration(*timeoutSeconds) * time.Second
	}
	if *windowDays > 0 {
		cfg.WindowDays = *windowDays
	}

	registry := division.NewRegistry()
	pipe := pipeline.New(cfg, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal, gracefully shutting down...")
		cancel()
	}()

	switch command {
	case "scrape-teams", "scrape-matches", "rank", "all":
		if *divisionKey == "" {
			fmt.Fprintf(os.Stderr, "--division is required; known keys: %v\n", registry.Keys())
			return exitInvalidArgs
		}
	case "schedule":
	default:
		usage()
		return exitInvalidArgs
	}

	switch command {
	case "scrape-teams":
		err = pipe.ScrapeTeams(ctx, *divisionKey)
	case "scrape-matches":
		err = pipe.ScrapeMatches(ctx, *divisionKey)
	case "rank":
		err = pipe.Rank(*divisionKey)
	case "all":
		err = pipe.RunAll(ctx, *divisionKey)
	case "schedule":
		err = runScheduler(ctx, cfg, registry, pipe)
	}

	if err != nil {
		evt := log.Error().Err(err).Str("command", command)
		if *divisionKey != "" {
			evt = evt.Str("error_log", pipe.Layout().ErrorLogPath(*divisionKey))
		}
		evt.Msg("Command failed")
	}
	return exitCode(err)
}

// runScheduler starts the cron scheduler and the metrics server, then blocks
// until the process is signalled.
func runScheduler(ctx context.Context, cfg *config.Config, registry *division.Registry, pipe *pipeline.Pipeline) error {
	if cfg.EnableMetrics {
		go startMetricsServer(cfg.MetricsPort)
	}

	sched := scheduler.NewScheduler(cfg, registry, pipe)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	sched.Stop()
	return nil
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	addr := fmt.Sprintf(":%d", port)
	log.Info().Str("addr", addr).Msg("Metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, models.ErrUnknownDivision):
		return exitUnknownDivision
	case errors.Is(err, models.ErrThresholdExceeded):
		return exitThresholdExceeded
	case errors.Is(err, models.ErrMalformedInput):
		return exitMalformedInput
	default:
		return exitOther
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: youthrank <scrape-teams|scrape-matches|rank|all|schedule> --division <key> [--workers N] [--timeout-seconds N] [--window-days N]")
}

// setupLogger configures the zerolog logger
func setupLogger() {
	// Pretty console logging in development
	if os.Getenv("APP_ENV") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	level := zerolog.InfoLevel
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := zerolog.ParseLevel(lvl); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
}
