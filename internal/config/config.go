// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// Mode selects which fetch regime a cycle runs. The two regimes are never
// blended in one run.
const (
	ModeAuthenticated = "authenticated"
	ModeScrape        = "scrape"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Search    SearchConfig    `mapstructure:"search"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	DB        DBConfig        `mapstructure:"db"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles for the admin surface.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig governs orchestration behavior.
type PipelineConfig struct {
	Mode              string `mapstructure:"mode"`
	MaxResults        int    `mapstructure:"max_results"`
	SnapshotWindow    int    `mapstructure:"snapshot_window"`
	KeywordTimeoutSec int    `mapstructure:"keyword_timeout_seconds"`
}

// SearchConfig describes the authenticated search endpoint and its quota.
type SearchConfig struct {
	Endpoint          string `mapstructure:"endpoint"`
	APIToken          string `mapstructure:"api_token"`
	RequestsPerWindow int    `mapstructure:"requests_per_window"`
	WindowSeconds     int    `mapstructure:"window_seconds"`
	SafetyMargin      int    `mapstructure:"safety_margin"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// BrowserConfig configures the headless scrape fetcher.
type BrowserConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	TargetURL       string   `mapstructure:"target_url"`
	ItemSelector    string   `mapstructure:"item_selector"`
	ContentSelector string   `mapstructure:"content_selector"`
	AuthorSelector  string   `mapstructure:"author_selector"`
	MaxParallel     int      `mapstructure:"max_parallel"`
	NavTimeoutSec   int      `mapstructure:"nav_timeout_seconds"`
	UserAgents      []string `mapstructure:"user_agents"`
}

// ScrapeTarget describes one document-fetch source. Kind is "feed" for
// RSS/Atom endpoints and "html" for selector-driven pages.
type ScrapeTarget struct {
	Name            string `mapstructure:"name"`
	Kind            string `mapstructure:"kind"`
	URL             string `mapstructure:"url"`
	ItemSelector    string `mapstructure:"item_selector"`
	ContentSelector string `mapstructure:"content_selector"`
	AuthorSelector  string `mapstructure:"author_selector"`
}

// ScrapeConfig configures the plain HTTP scrape fetchers.
type ScrapeConfig struct {
	FeedEnabled    bool           `mapstructure:"feed_enabled"`
	WebEnabled     bool           `mapstructure:"web_enabled"`
	UserAgent      string         `mapstructure:"user_agent"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	DomainRPS      float64        `mapstructure:"domain_rps"`
	FeedTargets    []ScrapeTarget `mapstructure:"feed_targets"`
	WebTargets     []ScrapeTarget `mapstructure:"web_targets"`
}

// DBConfig controls access to the persistence gateway.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// SchedulerConfig controls the recurring trigger.
type SchedulerConfig struct {
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	RunOnStart      bool `mapstructure:"run_on_start"`
}

// SentimentConfig extends the built-in lexicon.
type SentimentConfig struct {
	ExtraPositive     []string `mapstructure:"extra_positive"`
	ExtraNegative     []string `mapstructure:"extra_negative"`
	ExtraIntensifiers []string `mapstructure:"extra_intensifiers"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MENTIONWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.mode", ModeScrape)
	v.SetDefault("pipeline.max_results", 25)
	v.SetDefault("pipeline.snapshot_window", 500)
	v.SetDefault("pipeline.keyword_timeout_seconds", 90)
	v.SetDefault("search.requests_per_window", 450)
	v.SetDefault("search.window_seconds", 900)
	v.SetDefault("search.safety_margin", 10)
	v.SetDefault("search.timeout_seconds", 15)
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.max_parallel", 1)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("scrape.feed_enabled", true)
	v.SetDefault("scrape.web_enabled", true)
	v.SetDefault("scrape.user_agent", "mentionwatch-bot/1.0")
	v.SetDefault("scrape.timeout_seconds", 15)
	v.SetDefault("scrape.domain_rps", 2)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("scheduler.interval_seconds", 900)
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. A missing search
// credential in authenticated mode is fatal for the run.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Pipeline.Mode {
	case ModeAuthenticated:
		if c.Search.Endpoint == "" {
			return fmt.Errorf("search.endpoint is required in authenticated mode")
		}
		if c.Search.APIToken == "" {
			return fmt.Errorf("search.api_token is required in authenticated mode: %w",
				monitor.ErrMisconfiguredCredential)
		}
	case ModeScrape:
		if !c.Browser.Enabled && !c.Scrape.FeedEnabled && !c.Scrape.WebEnabled {
			return fmt.Errorf("scrape mode requires at least one enabled scrape source")
		}
	default:
		return fmt.Errorf("pipeline.mode must be %q or %q", ModeAuthenticated, ModeScrape)
	}
	if c.Pipeline.MaxResults <= 0 {
		return fmt.Errorf("pipeline.max_results must be > 0")
	}
	if c.Browser.Enabled && c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0 when browser is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.interval_seconds must be > 0")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.provider is postgres")
	}
	return nil
}

// EnabledSources lists the sources the current mode allows, in a stable order.
func (c Config) EnabledSources() []monitor.SourceID {
	if c.Pipeline.Mode == ModeAuthenticated {
		return []monitor.SourceID{monitor.SourceSearch}
	}
	var sources []monitor.SourceID
	if c.Scrape.FeedEnabled {
		sources = append(sources, monitor.SourceFeed)
	}
	if c.Scrape.WebEnabled {
		sources = append(sources, monitor.SourceWeb)
	}
	if c.Browser.Enabled {
		sources = append(sources, monitor.SourceBrowser)
	}
	return sources
}

// KeywordTimeout converts the per-keyword time limit into a duration.
func (c Config) KeywordTimeout() time.Duration {
	return time.Duration(c.Pipeline.KeywordTimeoutSec) * time.Second
}

// SearchWindow converts the search quota window into a duration.
func (c Config) SearchWindow() time.Duration {
	return time.Duration(c.Search.WindowSeconds) * time.Second
}
