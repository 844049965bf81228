package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
// Every tuning constant of the scraper and the ranking engine lives here and
// is passed explicitly into the component constructors; nothing reads the
// environment at module scope.
type Config struct {
	// Upstream HTTP
	HTTPUserAgent string        `envconfig:"HTTP_USER_AGENT" default:"youthrank/1.0 (+pipeline)"`
	HTTPTimeout   time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	MaxRetries    int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryBackoff  time.Duration `envconfig:"RETRY_BACKOFF_BASE" default:"2s"`

	// Stage 2 worker pool
	MaxWorkers       int           `envconfig:"MAX_WORKERS" default:"6"`
	RequestJitterMin time.Duration `envconfig:"REQUEST_JITTER_MIN" default:"1.5s"`
	RequestJitterMax time.Duration `envconfig:"REQUEST_JITTER_MAX" default:"3.5s"`
	FailThreshold    float64       `envconfig:"FAIL_THRESHOLD" default:"0.10"`

	// Storage layout
	DataDir  string `envconfig:"DATA_DIR" default:"."`
	CacheDir string `envconfig:"CACHE_DIR" default:"cache"`

	// Matcher thresholds. Roster matching and profile-search candidate
	// selection intentionally use different cutoffs.
	FuzzyMatchThreshold   float64 `envconfig:"FUZZY_MATCH_THRESHOLD" default:"0.85"`
	SearchSelectThreshold float64 `envconfig:"SEARCH_SELECT_THRESHOLD" default:"0.60"`

	// Ranking engine
	WindowDays          int     `envconfig:"WINDOW_DAYS" default:"365"`
	MaxGamesForRank     int     `envconfig:"MAX_GAMES_FOR_RANK" default:"30"`
	GoalCap             int     `envconfig:"GOAL_CAP" default:"6"`
	RatingK             float64 `envconfig:"RATING_K" default:"4.0"`
	EtaBase             float64 `envconfig:"ETA_BASE" default:"0.05"`
	AdaptiveAlpha       float64 `envconfig:"ADAPTIVE_ALPHA" default:"0.5"`
	AdaptiveBeta        float64 `envconfig:"ADAPTIVE_BETA" default:"0.6"`
	AdaptiveMinGames    int     `envconfig:"ADAPTIVE_MIN_GAMES" default:"8"`
	CrossAgeBonus       float64 `envconfig:"CROSS_AGE_BONUS" default:"1.05"`
	DefaultOppStrength  float64 `envconfig:"DEFAULT_OPP_STRENGTH" default:"0.35"`
	OutlierGuardZScore  float64 `envconfig:"OUTLIER_GUARD_ZSCORE" default:"2.5"`
	MaxSOSIterations    int     `envconfig:"MAX_SOS_ITERATIONS" default:"10"`
	SOSConvergenceDelta float64 `envconfig:"SOS_CONVERGENCE_DELTA" default:"0.01"`
	ActiveMinGames      int     `envconfig:"ACTIVE_MIN_GAMES" default:"5"`
	InactiveDays        int     `envconfig:"INACTIVE_DAYS" default:"180"`

	// Application
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Scheduler
	EnableScheduler bool   `envconfig:"ENABLE_SCHEDULER" default:"false"`
	PipelineCron    string `envconfig:"PIPELINE_CRON" default:"30 10 * * *"`

	// Monitoring
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"true"`
	MetricsPort   int  `envconfig:"METRICS_PORT" default:"9090"`
}

// Load loads configuration from environment variables.
// It first attempts to load from a .env file if one exists.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be at least 1, got %d", c.MaxWorkers)
	}

	if c.RequestJitterMin > c.RequestJitterMax {
		return fmt.Errorf("REQUEST_JITTER_MIN %s exceeds REQUEST_JITTER_MAX %s",
			c.RequestJitterMin, c.RequestJitterMax)
	}

	if c.FailThreshold < 0 || c.FailThreshold > 1 {
		return fmt.Errorf("FAIL_THRESHOLD must be within [0,1], got %f", c.FailThreshold)
	}

	if c.FuzzyMatchThreshold <= 0 || c.FuzzyMatchThreshold > 1 {
		return fmt.Errorf("FUZZY_MATCH_THRESHOLD must be within (0,1], got %f", c.FuzzyMatchThreshold)
	}

	if c.MaxGamesForRank < 1 {
		return fmt.Errorf("MAX_GAMES_FOR_RANK must be at least 1, got %d", c.MaxGamesForRank)
	}

	if c.MaxSOSIterations < 1 {
		return fmt.Errorf("MAX_SOS_ITERATIONS must be at least 1, got %d", c.MaxSOSIterations)
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// MustLoad loads configuration or exits on error.
// Use this in main() where we want to fail fast.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
