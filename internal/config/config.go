package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Regions   RegionsConfig   `yaml:"regions" mapstructure:"regions"`
	IVC       IVCConfig       `yaml:"ivc" mapstructure:"ivc"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	RateLimit           float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst           int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeoutSecs  int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	MetricsIntervalSecs int      `yaml:"metrics_interval_secs" mapstructure:"metrics_interval_secs"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnalysisConfig holds the indicator defaults.
type AnalysisConfig struct {
	CellSize    float64   `yaml:"cell_size" mapstructure:"cell_size"`
	MaxCells    int       `yaml:"max_cells" mapstructure:"max_cells"`
	TargetClass string    `yaml:"target_class" mapstructure:"target_class"`
	KDE         KDEConfig `yaml:"kde" mapstructure:"kde"`
}

// KDEConfig holds the kernel density settings.
type KDEConfig struct {
	BandwidthKM        float64 `yaml:"bandwidth_km" mapstructure:"bandwidth_km"`
	CriticalMultiplier float64 `yaml:"critical_multiplier" mapstructure:"critical_multiplier"`
	DefaultMultiplier  float64 `yaml:"default_multiplier" mapstructure:"default_multiplier"`
	CutoffBandwidths   float64 `yaml:"cutoff_bandwidths" mapstructure:"cutoff_bandwidths"`
}

// NormalizeConfig controls record normalization.
type NormalizeConfig struct {
	DefaultEnrollment int    `yaml:"default_enrollment" mapstructure:"default_enrollment"`
	DedupePrecision   int    `yaml:"dedupe_precision" mapstructure:"dedupe_precision"`
	SynonymsFile      string `yaml:"synonyms_file" mapstructure:"synonyms_file"`
}

// RegionsConfig controls region construction and closure simulation.
type RegionsConfig struct {
	SeedClass       string         `yaml:"seed_class" mapstructure:"seed_class"`
	MaxReceivers    int            `yaml:"max_receivers" mapstructure:"max_receivers"`
	SafetyMargin    float64        `yaml:"safety_margin" mapstructure:"safety_margin"`
	DefaultCapacity int            `yaml:"default_capacity" mapstructure:"default_capacity"`
	Capacities      map[string]int `yaml:"capacities" mapstructure:"capacities"`
}

// IVCConfig controls the vulnerability index neighbor searches.
type IVCConfig struct {
	RadiusKM       float64 `yaml:"radius_km" mapstructure:"radius_km"`
	SearchRadiusKM float64 `yaml:"search_radius_km" mapstructure:"search_radius_km"`
}

// CacheConfig selects the result cache.
type CacheConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	MaxEntries int    `yaml:"max_entries" mapstructure:"max_entries"`
	TTLSecs    int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	RedisURL   string `yaml:"redis_url" mapstructure:"redis_url"`
}

// RetryConfig controls retries of store reads.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// FetchConfig controls downloads of remote import files.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// Load reads configuration from config.yaml (optional), SCHOOLMAP_*
// environment variables and defaults, in increasing order of precedence
// for env over file.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCHOOLMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("server.metrics_interval_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "schoolmap.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("analysis.cell_size", 0.01)
	v.SetDefault("analysis.max_cells", 250000)
	v.SetDefault("analysis.target_class", "critical")
	v.SetDefault("analysis.kde.bandwidth_km", 1.0)
	v.SetDefault("analysis.kde.critical_multiplier", 2.0)
	v.SetDefault("analysis.kde.default_multiplier", 1.0)
	v.SetDefault("analysis.kde.cutoff_bandwidths", 3.0)
	v.SetDefault("normalize.default_enrollment", 200)
	v.SetDefault("normalize.dedupe_precision", 4)
	v.SetDefault("normalize.synonyms_file", "")
	v.SetDefault("regions.seed_class", "critical")
	v.SetDefault("regions.max_receivers", 5)
	v.SetDefault("regions.safety_margin", 0.9)
	v.SetDefault("regions.default_capacity", 200)
	v.SetDefault("regions.capacities", map[string]int{})
	v.SetDefault("ivc.radius_km", 1.0)
	v.SetDefault("ivc.search_radius_km", 5.0)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.max_entries", 256)
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 100)
	v.SetDefault("retry.max_backoff_ms", 2000)
	v.SetDefault("fetch.user_agent", "schoolmap/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 5.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validation modes.
const (
	ModeAnalyze = "analyze"
	ModeServe   = "serve"
)

// Validate rejects settings the given mode cannot run with. Every problem
// is reported in one error.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case ModeAnalyze, ModeServe:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}
	switch c.Cache.Driver {
	case "memory", "redis", "none":
	default:
		add("cache.driver must be memory, redis or none, got %q", c.Cache.Driver)
	}
	if c.Cache.Driver == "redis" && c.Cache.RedisURL == "" {
		add("cache.redis_url is required for the redis driver")
	}
	if c.Analysis.CellSize <= 0 {
		add("analysis.cell_size must be > 0, got %g", c.Analysis.CellSize)
	}
	if c.Analysis.MaxCells <= 0 {
		add("analysis.max_cells must be > 0, got %d", c.Analysis.MaxCells)
	}
	if c.Analysis.KDE.BandwidthKM <= 0 {
		add("analysis.kde.bandwidth_km must be > 0, got %g", c.Analysis.KDE.BandwidthKM)
	}
	if c.Analysis.KDE.CutoffBandwidths < 0 {
		add("analysis.kde.cutoff_bandwidths must be >= 0, got %g", c.Analysis.KDE.CutoffBandwidths)
	}
	if c.Regions.SafetyMargin <= 0 || c.Regions.SafetyMargin > 1 {
		add("regions.safety_margin must be in (0,1], got %g", c.Regions.SafetyMargin)
	}

	if mode == ModeServe {
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if c.Server.RateLimit < 0 {
			add("server.rate_limit must be >= 0, got %g", c.Server.RateLimit)
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
