package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures runtime configuration sourced from environment variables
// and an optional warden.yaml.
type Config struct {
	Environment string
	HTTPPort    string
	Debug       bool
	LogPath     string
	JWTSecret   string
	Database    DatabaseConfig
	Security    SecurityConfig
}

// DatabaseConfig selects the gorm driver backing the block and event stores.
type DatabaseConfig struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
}

// SecurityConfig configures the enforcement core.
type SecurityConfig struct {
	// TrustedProxies limits which peers may supply forwarded-address headers.
	// Empty means forwarded headers are always honored.
	TrustedProxies []string
	// PrivilegedActors seeds the privileged_actors table at startup.
	PrivilegedActors []string
	AutoBlock        AutoBlockConfig
	// ReconcileSchedule is a cron spec for re-hydrating the block cache from
	// the store. Empty disables the job.
	ReconcileSchedule string
	AlertURLs         []string
	// BestEffortMedium lets MEDIUM events degrade like LOW ones when the
	// ledger write fails.
	BestEffortMedium bool
	AdminRateLimit   RateLimitConfig
	// GateDisabled turns the request gate into a pass-through. Blocks are
	// still recorded and cached.
	GateDisabled bool
}

// AutoBlockConfig controls escalation of repeated attacks into blocks.
type AutoBlockConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// RateLimitConfig bounds admin API traffic per client address.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

const envPrefix = "WARDEN"

// Load reads env vars and the optional config file and falls back to defaults
// so the server can boot with zero configuration.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("warden")
	v.SetConfigType("yaml")
	if path := os.Getenv("WARDEN_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("data")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Environment: v.GetString("env"),
		HTTPPort:    v.GetString("http_port"),
		Debug:       v.GetBool("debug"),
		LogPath:     v.GetString("log_path"),
		JWTSecret:   v.GetString("jwt_secret"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("db.driver")),
			DSN:    v.GetString("db.dsn"),
		},
		Security: SecurityConfig{
			TrustedProxies:   splitList(v.GetString("security.trusted_proxies")),
			PrivilegedActors: splitList(v.GetString("security.privileged_actors")),
			AutoBlock: AutoBlockConfig{
				Enabled:   v.GetBool("security.auto_block.enabled"),
				Threshold: v.GetInt("security.auto_block.threshold"),
				Window:    v.GetDuration("security.auto_block.window"),
				Duration:  v.GetDuration("security.auto_block.duration"),
			},
			ReconcileSchedule: v.GetString("security.reconcile_schedule"),
			AlertURLs:         splitList(v.GetString("security.alert_urls")),
			BestEffortMedium:  v.GetBool("security.best_effort_medium"),
			AdminRateLimit: RateLimitConfig{
				RequestsPerSecond: v.GetFloat64("security.admin_rate_limit.rps"),
				Burst:             v.GetInt("security.admin_rate_limit.burst"),
			},
			GateDisabled: v.GetBool("security.gate_disabled"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if cfg.Database.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			return Config{}, fmt.Errorf("ensure data directory: %w", err)
		}
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("http_port", "8080")
	v.SetDefault("debug", false)
	v.SetDefault("log_path", filepath.Join("data", "logs", "warden.log"))
	v.SetDefault("jwt_secret", "")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", filepath.Join("data", "warden.db"))
	v.SetDefault("security.trusted_proxies", "")
	v.SetDefault("security.privileged_actors", "")
	v.SetDefault("security.auto_block.enabled", true)
	v.SetDefault("security.auto_block.threshold", 3)
	v.SetDefault("security.auto_block.window", 10*time.Minute)
	v.SetDefault("security.auto_block.duration", time.Hour)
	v.SetDefault("security.reconcile_schedule", "@every 5m")
	v.SetDefault("security.alert_urls", "")
	v.SetDefault("security.best_effort_medium", false)
	v.SetDefault("security.admin_rate_limit.rps", 5.0)
	v.SetDefault("security.admin_rate_limit.burst", 20)
	v.SetDefault("security.gate_disabled", false)
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if c.Environment == "production" && c.JWTSecret == "" {
		return errors.New("jwt secret is required in production")
	}
	ab := c.Security.AutoBlock
	if ab.Enabled && (ab.Threshold < 1 || ab.Window <= 0 || ab.Duration <= 0) {
		return errors.New("auto block requires a positive threshold, window and duration")
	}
	return nil
}

// splitList accepts comma separated values, the shape env vars give us.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
