package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the match engine.
// Configuration can come from a YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values. Secrets
// (passwords) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Matching   MatchingConfig   `yaml:"matching"`
	Moderation ModerationConfig `yaml:"moderation"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Anomaly    AnomalyConfig    `yaml:"anomaly"`
	Retention  RetentionConfig  `yaml:"retention"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"matchengine"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"match_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
}

// RedisConfig holds Redis configuration. Redis is optional; when Host is
// empty the engine falls back to in-process rate limiting.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// MatchingConfig holds candidate generation and lifecycle tunables.
type MatchingConfig struct {
	// TopK is the maximum number of suggestions emitted per user per run.
	TopK int `yaml:"top_k" env:"MATCH_TOP_K" env-default:"5"`
	// MinFitIndex is the floor below which candidates are not proposed.
	MinFitIndex int `yaml:"min_fit_index" env:"MATCH_MIN_FIT_INDEX" env-default:"55"`
	// SuggestionTTLHours controls how long a suggestion stays actionable.
	SuggestionTTLHours int `yaml:"suggestion_ttl_hours" env:"MATCH_SUGGESTION_TTL_HOURS" env-default:"72"`
	// AutoMatchThreshold marks suggestions at or above this fit index as
	// pre-accepted by all members. 0 disables the tier.
	AutoMatchThreshold int `yaml:"auto_match_threshold" env:"MATCH_AUTO_THRESHOLD" env-default:"0"`
	// Workers bounds the scoring worker pool during generation.
	Workers int `yaml:"workers" env:"MATCH_WORKERS" env-default:"8"`
	// DeclineAction is what the moderation guard records when a member
	// declines: "block" or "cooldown".
	DeclineAction string `yaml:"decline_action" env:"MATCH_DECLINE_ACTION" env-default:"cooldown"`
	// CooldownHours is the exclusion window for the cooldown action.
	CooldownHours int `yaml:"cooldown_hours" env:"MATCH_COOLDOWN_HOURS" env-default:"336"`
	// ExpirySweepMinutes is the interval of the expiry scheduler.
	ExpirySweepMinutes int `yaml:"expiry_sweep_minutes" env:"MATCH_EXPIRY_SWEEP_MINUTES" env-default:"15"`
	// DealbreakerKeys lists questionnaire answers treated as hard
	// constraints: two users at opposite extremes of such a dimension are
	// never proposed together regardless of overall fit.
	DealbreakerKeys []string `yaml:"dealbreaker_keys" env:"MATCH_DEALBREAKER_KEYS" env-default:"noise_tolerance,parties_frequency,alcohol_at_home"`
	// DealbreakerGap is the maximum tolerated distance on a guarded
	// dimension, on each vector's own 0-1 scale. 0 disables the check.
	DealbreakerGap float64 `yaml:"dealbreaker_gap" env:"MATCH_DEALBREAKER_GAP" env-default:"0.75"`
}

// ModerationConfig holds report handling tunables.
type ModerationConfig struct {
	// AutoBlockThreshold is the report count within the window that
	// triggers an automatic block.
	AutoBlockThreshold int `yaml:"auto_block_threshold" env:"MOD_AUTO_BLOCK_THRESHOLD" env-default:"3"`
	// ReportWindowHours is the trailing window for the threshold count.
	ReportWindowHours int `yaml:"report_window_hours" env:"MOD_REPORT_WINDOW_HOURS" env-default:"24"`
}

// ExperimentConfig holds experiment allocation tunables.
type ExperimentConfig struct {
	// SplitTolerance is the allowed deviation of sum(traffic_split) from 100.
	SplitTolerance float64 `yaml:"split_tolerance" env:"EXP_SPLIT_TOLERANCE" env-default:"0.01"`
}

// AnomalyConfig holds baselines for the anomaly detector. Current-window
// values are compared against baseline multiples per severity.
type AnomalyConfig struct {
	VerificationFailureRate float64 `yaml:"verification_failure_rate" env:"ANOMALY_VERIFICATION_FAILURE_RATE" env-default:"10"`
	MatchDeclineRate        float64 `yaml:"match_decline_rate" env:"ANOMALY_MATCH_DECLINE_RATE" env-default:"30"`
	MatchCreationRate       float64 `yaml:"match_creation_rate" env:"ANOMALY_MATCH_CREATION_RATE" env-default:"50"`
	JobFailureRate          float64 `yaml:"job_failure_rate" env:"ANOMALY_JOB_FAILURE_RATE" env-default:"5"`
	JobLatencyMinutes       float64 `yaml:"job_latency_minutes" env:"ANOMALY_JOB_LATENCY_MINUTES" env-default:"15"`
	QueueDepth              float64 `yaml:"queue_depth" env:"ANOMALY_QUEUE_DEPTH" env-default:"10"`
	// ScanIntervalMinutes is the scheduler interval; 0 disables the scheduler.
	ScanIntervalMinutes int `yaml:"scan_interval_minutes" env:"ANOMALY_SCAN_INTERVAL_MINUTES" env-default:"60"`
}

// RetentionConfig holds cohort retention horizons in days.
type RetentionConfig struct {
	HorizonsStr string `yaml:"horizons" env:"RETENTION_HORIZONS" env-default:"1,7,30,90"`
	Horizons    []int  `yaml:"-"`
}

// RateLimitConfig holds per-user sliding-window budgets for write actions.
type RateLimitConfig struct {
	WindowMinutes int `yaml:"window_minutes" env:"RATE_LIMIT_WINDOW_MINUTES" env-default:"60"`
	Respond       int `yaml:"respond" env:"RATE_LIMIT_RESPOND" env-default:"60"`
	Block         int `yaml:"block" env:"RATE_LIMIT_BLOCK" env-default:"20"`
	Report        int `yaml:"report" env:"RATE_LIMIT_REPORT" env-default:"5"`
}

// Window returns the sliding window as a duration.
func (c *RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// Load reads configuration from config.yaml with environment variable
// overrides. When config.yaml does not exist, environment variables and
// defaults alone are used.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) parseComplexFields() error {
	horizons, err := parseHorizons(c.Retention.HorizonsStr)
	if err != nil {
		return err
	}
	c.Retention.Horizons = horizons
	return nil
}

func (c *Config) validate() error {
	if c.Matching.TopK <= 0 {
		return fmt.Errorf("matching.top_k must be positive, got %d", c.Matching.TopK)
	}
	if c.Matching.MinFitIndex < 0 || c.Matching.MinFitIndex > 100 {
		return fmt.Errorf("matching.min_fit_index must be in [0,100], got %d", c.Matching.MinFitIndex)
	}
	if c.Matching.DeclineAction != "block" && c.Matching.DeclineAction != "cooldown" {
		return fmt.Errorf("matching.decline_action must be block or cooldown, got %q", c.Matching.DeclineAction)
	}
	if c.Moderation.AutoBlockThreshold < 1 {
		return fmt.Errorf("moderation.auto_block_threshold must be at least 1, got %d", c.Moderation.AutoBlockThreshold)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func parseHorizons(value string) ([]int, error) {
	parts := strings.Split(value, ",")
	horizons := make([]int, 0, len(parts))
	for _, part := range parts {
		days, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid retention horizon %q: %w", part, err)
		}
		if days <= 0 {
			return nil, fmt.Errorf("retention horizons must be positive, got %d", days)
		}
		horizons = append(horizons, days)
	}
	return horizons, nil
}
