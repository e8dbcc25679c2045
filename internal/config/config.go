// Package config provides configuration management for the greek watcher.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultPollInterval is used when feed.poll_interval is unset
	defaultPollInterval = "5s"
	// defaultStalenessWindow is used when feed.staleness_window is unset
	defaultStalenessWindow = "30s"
	// defaultLogLevel is used when environment.log_level is unset
	defaultLogLevel = "info"
	// defaultDashboardPort is used when dashboard.port is unset
	defaultDashboardPort = 8080
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	IG          IGConfig          `yaml:"ig"`
	Feed        FeedConfig        `yaml:"feed"`
	Solver      SolverConfig      `yaml:"solver"`
	Rates       RatesConfig       `yaml:"rates"`
	Cache       CacheConfig       `yaml:"cache"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // demo | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// IGConfig defines IG API credentials. Values normally arrive via
// ${IG_API_KEY}-style references expanded from the environment.
type IGConfig struct {
	APIKey   string `yaml:"api_key"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// FeedConfig defines polling behavior. Durations are Go duration strings.
type FeedConfig struct {
	PollInterval    string `yaml:"poll_interval"`
	StalenessWindow string `yaml:"staleness_window"`
}

// SolverConfig defines volatility solver tuning. Zero values mean the
// solver's built-in defaults.
type SolverConfig struct {
	PriceTolerance float64 `yaml:"price_tolerance"`
	MaxIterations  int     `yaml:"max_iterations"`
	BracketLow     float64 `yaml:"bracket_low"`
	BracketHigh    float64 `yaml:"bracket_high"`
	VolTolerance   float64 `yaml:"vol_tolerance"`
}

// RatesConfig defines the annualized rates stamped on snapshots.
type RatesConfig struct {
	RiskFree float64 `yaml:"risk_free"`
	Carry    float64 `yaml:"carry"`
}

// CacheConfig defines the instrument cache location. An empty path keeps
// the cache in memory only.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the HTTP dashboard settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks structural validity and fills defaults. IG credentials
// are checked separately via IGConfig.Validate, since mock runs do not
// need them.
func (c *Config) Validate() error {
	c.normalizeDefaults()

	// Environment validation
	if c.Environment.Mode != "demo" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'demo' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug, info, warn, or error")
	}

	// Feed validation
	if d, err := time.ParseDuration(c.Feed.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("feed.poll_interval must be a positive duration, got %q", c.Feed.PollInterval)
	}
	if d, err := time.ParseDuration(c.Feed.StalenessWindow); err != nil || d <= 0 {
		return fmt.Errorf("feed.staleness_window must be a positive duration, got %q", c.Feed.StalenessWindow)
	}

	// Solver validation: zeros pass through to the solver's defaults
	if c.Solver.PriceTolerance < 0 {
		return fmt.Errorf("solver.price_tolerance must be >= 0")
	}
	if c.Solver.MaxIterations < 0 {
		return fmt.Errorf("solver.max_iterations must be >= 0")
	}
	if c.Solver.BracketLow < 0 || c.Solver.BracketHigh < 0 {
		return fmt.Errorf("solver bracket bounds must be >= 0")
	}
	if c.Solver.BracketLow > 0 && c.Solver.BracketHigh > 0 &&
		c.Solver.BracketLow >= c.Solver.BracketHigh {
		return fmt.Errorf("solver.bracket_low (%v) must be < solver.bracket_high (%v)",
			c.Solver.BracketLow, c.Solver.BracketHigh)
	}
	if c.Solver.VolTolerance < 0 {
		return fmt.Errorf("solver.vol_tolerance must be >= 0")
	}

	// Rates validation: annualized decimals, sanity bounds only
	if c.Rates.RiskFree < -1 || c.Rates.RiskFree > 1 {
		return fmt.Errorf("rates.risk_free must be between -1 and 1")
	}
	if c.Rates.Carry < -1 || c.Rates.Carry > 1 {
		return fmt.Errorf("rates.carry must be between -1 and 1")
	}

	// Dashboard validation
	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

// Validate checks that the credentials needed for a live or demo session
// are present.
func (c *IGConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("ig.api_key is required")
	}
	if c.Username == "" {
		return fmt.Errorf("ig.username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("ig.password is required")
	}
	return nil
}

// IsDemo returns true if the watcher is configured against the demo API.
func (c *Config) IsDemo() bool {
	return c.Environment.Mode == "demo"
}

// PollInterval returns the configured poll interval duration.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Feed.PollInterval)
	if err != nil {
		return 5 * time.Second // default
	}
	return d
}

// StalenessWindow returns the configured staleness window duration.
func (c *Config) StalenessWindow() time.Duration {
	d, err := time.ParseDuration(c.Feed.StalenessWindow)
	if err != nil {
		return 30 * time.Second // default
	}
	return d
}

// normalizeDefaults fills unset fields with their defaults.
func (c *Config) normalizeDefaults() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = defaultLogLevel
	}
	if c.Feed.PollInterval == "" {
		c.Feed.PollInterval = defaultPollInterval
	}
	if c.Feed.StalenessWindow == "" {
		c.Feed.StalenessWindow = defaultStalenessWindow
	}
	if c.Dashboard.Enabled && c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
}
