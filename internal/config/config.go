package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data    DataConfig    `yaml:"data" mapstructure:"data"`
	Fusion  FusionConfig  `yaml:"fusion" mapstructure:"fusion"`
	Ranking RankingConfig `yaml:"ranking" mapstructure:"ranking"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the source files.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
	// CatalogPath overrides the embedded source catalog.
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// FusionConfig configures table construction.
type FusionConfig struct {
	Neighbors        int         `yaml:"neighbors" mapstructure:"neighbors"`
	Aggregate        string      `yaml:"aggregate" mapstructure:"aggregate"`
	AggregateWeight  string      `yaml:"aggregate_weight" mapstructure:"aggregate_weight"`
	BuildConcurrency int         `yaml:"build_concurrency" mapstructure:"build_concurrency"`
	Wages            WagesConfig `yaml:"wages" mapstructure:"wages"`
}

// WagesConfig pins the OEWS wage cleaning constants.
type WagesConfig struct {
	HourlyCeiling float64 `yaml:"hourly_ceiling" mapstructure:"hourly_ceiling"`
	AnnualCeiling float64 `yaml:"annual_ceiling" mapstructure:"annual_ceiling"`
	HoursPerWeek  float64 `yaml:"hours_per_week" mapstructure:"hours_per_week"`
	WeeksPerYear  float64 `yaml:"weeks_per_year" mapstructure:"weeks_per_year"`
}

// RankingConfig configures scaling and scoring.
type RankingConfig struct {
	Scaler       string `yaml:"scaler" mapstructure:"scaler"`
	Metric       string `yaml:"metric" mapstructure:"metric"`
	DefaultLimit int    `yaml:"default_limit" mapstructure:"default_limit"`
}

// CacheConfig selects the fused-table cache backend.
type CacheConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // "file", "sqlite", "postgres" or "none"
	Dir    string `yaml:"dir" mapstructure:"dir"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins    []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	WarmOnStart       bool     `yaml:"warm_on_start" mapstructure:"warm_on_start"`
	RequestTimeoutSec int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// FetchConfig configures source downloads.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EXPLORER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.catalog_path", "")
	v.SetDefault("fusion.neighbors", 3)
	v.SetDefault("fusion.aggregate", "mean")
	v.SetDefault("fusion.aggregate_weight", "tot_emp")
	v.SetDefault("fusion.build_concurrency", 4)
	v.SetDefault("fusion.wages.hourly_ceiling", 115.00)
	v.SetDefault("fusion.wages.annual_ceiling", 239200.0)
	v.SetDefault("fusion.wages.hours_per_week", 40.0)
	v.SetDefault("fusion.wages.weeks_per_year", 52.0)
	v.SetDefault("ranking.scaler", "standard")
	v.SetDefault("ranking.metric", "euclidean")
	v.SetDefault("ranking.default_limit", 25)
	v.SetDefault("cache.driver", "file")
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.dsn", "")
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.warm_on_start", false)
	v.SetDefault("server.request_timeout_secs", 120)
	v.SetDefault("fetch.user_agent", "city-explorer/1.0")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 2.0)
	v.SetDefault("fetch.timeout_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks enumerated settings and numeric bounds.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Ranking.Scaler) {
	case "standard", "minmax":
	default:
		return eris.Errorf("config: ranking.scaler must be standard or minmax, got %q", c.Ranking.Scaler)
	}
	switch strings.ToLower(c.Ranking.Metric) {
	case "euclidean", "manhattan":
	default:
		return eris.Errorf("config: ranking.metric must be euclidean or manhattan, got %q", c.Ranking.Metric)
	}
	switch strings.ToLower(c.Fusion.Aggregate) {
	case "mean", "weighted":
	default:
		return eris.Errorf("config: fusion.aggregate must be mean or weighted, got %q", c.Fusion.Aggregate)
	}
	switch strings.ToLower(c.Cache.Driver) {
	case "file", "sqlite", "postgres", "none":
	default:
		return eris.Errorf("config: cache.driver must be file, sqlite, postgres or none, got %q", c.Cache.Driver)
	}
	if strings.EqualFold(c.Cache.Driver, "postgres") && strings.TrimSpace(c.Cache.DSN) == "" {
		return eris.New("config: cache.dsn is required for the postgres cache")
	}
	if c.Fusion.Neighbors <= 0 {
		return eris.Errorf("config: fusion.neighbors must be positive, got %d", c.Fusion.Neighbors)
	}
	if c.Fusion.BuildConcurrency <= 0 {
		return eris.Errorf("config: fusion.build_concurrency must be positive, got %d", c.Fusion.BuildConcurrency)
	}
	w := c.Fusion.Wages
	if w.HoursPerWeek <= 0 || w.WeeksPerYear <= 0 || w.HourlyCeiling <= 0 || w.AnnualCeiling <= 0 {
		return eris.New("config: fusion.wages values must be positive")
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
