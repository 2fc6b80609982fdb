// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/intake-cli/internal/budget"
	"github.com/sells-group/intake-cli/internal/cache"
	"github.com/sells-group/intake-cli/internal/content"
	"github.com/sells-group/intake-cli/internal/intake"
	"github.com/sells-group/intake-cli/internal/publish"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Places    PlacesConfig    `yaml:"places" mapstructure:"places"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Notion    publish.Config  `yaml:"notion" mapstructure:"notion"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Budget    budget.Config   `yaml:"budget" mapstructure:"budget"`
	Pricing   budget.Rates    `yaml:"pricing" mapstructure:"pricing"`
	Intake    intake.Config   `yaml:"intake" mapstructure:"intake"`
	Content   content.Config  `yaml:"content" mapstructure:"content"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// PlacesConfig holds Google Places API settings.
type PlacesConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// CacheConfig configures the persistent lookup cache.
type CacheConfig struct {
	Path           string `yaml:"path" mapstructure:"path"`
	SearchTTLDays  int    `yaml:"search_ttl_days" mapstructure:"search_ttl_days"`
	DetailsTTLDays int    `yaml:"details_ttl_days" mapstructure:"details_ttl_days"`
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "intake.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cache.path", "cache.db")
	v.SetDefault("cache.search_ttl_days", 7)
	v.SetDefault("cache.details_ttl_days", 30)
	v.SetDefault("budget.timezone", "")
	v.SetDefault("pricing.places.text_search", 0.032)
	v.SetDefault("pricing.places.details", 0.017)
	v.SetDefault("intake.rate_limit", 10)
	v.SetDefault("intake.accept.threshold", 0.45)
	v.SetDefault("intake.accept.weights.review_text", 0.25)
	v.SetDefault("intake.accept.weights.website", 0.25)
	v.SetDefault("intake.accept.weights.reputation", 0.30)
	v.SetDefault("intake.accept.weights.name_quality", 0.20)
	v.SetDefault("intake.accept.directory_blocklist", []string{
		"yelp.com", "yellowpages.com", "facebook.com", "tripadvisor.com",
	})
	v.SetDefault("content.model", "claude-haiku-4-5-20251001")
	v.SetDefault("content.batch_size", 4)
	v.SetDefault("content.max_tokens_per_member", 400)
	v.SetDefault("content.max_per_run", 100)
	v.SetDefault("notion.rate_limit", 3)
	v.SetDefault("notion.limit", 50)

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

	// Token rates nest per model; a flat SetDefault table fits them badly,
	// so fill from the built-in rates when the file sets none.
	if cfg.Pricing.Anthropic == nil {
		cfg.Pricing.Anthropic = budget.DefaultRates().Anthropic
	}

	return &cfg, nil
}

// Validate checks the fields required by the given command mode. Modes make
// validation proportional: `budget status` should not demand a Notion token.
func (c *Config) Validate(mode string) error {
	var problems []string

	requireStore := func() {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.SQLitePath == "" {
				problems = append(problems, "store.sqlite_path is required")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		default:
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
	}

	switch mode {
	case "intake":
		requireStore()
		if c.Places.Key == "" {
			problems = append(problems, "places.key is required")
		}
		if c.Cache.Path == "" {
			problems = append(problems, "cache.path is required")
		}
	case "content":
		requireStore()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "publish":
		requireStore()
		if c.Notion.Token == "" {
			problems = append(problems, "notion.token is required")
		}
		if c.Notion.DatabaseID == "" {
			problems = append(problems, "notion.database_id is required")
		}
	case "serve":
		requireStore()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "store":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// CacheWindows converts the configured TTLs to per-class validity windows.
func (c *Config) CacheWindows() map[cache.TTLClass]time.Duration {
	return map[cache.TTLClass]time.Duration{
		cache.ClassSearch:  time.Duration(c.Cache.SearchTTLDays) * 24 * time.Hour,
		cache.ClassDetails: time.Duration(c.Cache.DetailsTTLDays) * 24 * time.Hour,
	}
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
