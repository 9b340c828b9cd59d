package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/panel-quote/internal/fetcher"
	"github.com/sells-group/panel-quote/internal/knowledge"
	"github.com/sells-group/panel-quote/internal/pricing"
)

// Config holds the full application configuration.
type Config struct {
	Knowledge KnowledgeConfig `yaml:"knowledge" mapstructure:"knowledge"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// KnowledgeConfig lists the knowledge sources and how they are refreshed.
type KnowledgeConfig struct {
	Sources          []knowledge.SourceSpec `yaml:"sources" mapstructure:"sources"`
	StrictReferences bool                   `yaml:"strict_references" mapstructure:"strict_references"`
	// RefreshCron is a six-field cron spec. Empty disables scheduled refresh.
	RefreshCron string `yaml:"refresh_cron" mapstructure:"refresh_cron"`
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// PricingConfig sets the quotation currency and tax treatment.
type PricingConfig struct {
	Currency     string `yaml:"currency" mapstructure:"currency"`
	TaxRate      string `yaml:"tax_rate" mapstructure:"tax_rate"`
	TaxInclusive bool   `yaml:"tax_inclusive" mapstructure:"tax_inclusive"`
	MinorUnits   int    `yaml:"minor_units" mapstructure:"minor_units"`
}

// FetchConfig configures remote knowledge downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	// BreakerThreshold consecutive failures against one host stop further
	// downloads from it for BreakerResetSecs. Zero disables the breaker.
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	// FTPUser and FTPPassword apply to ftp:// sources without credentials.
	FTPUser     string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// StoreConfig configures the quotation log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	// RateLimit caps requests per minute per client IP on /v1. Zero disables.
	RateLimit int `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the working directory for config.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("PANELQUOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("knowledge.strict_references", true)
	v.SetDefault("knowledge.temp_dir", "")
	v.SetDefault("knowledge.refresh_cron", "")
	v.SetDefault("pricing.currency", "UYU")
	v.SetDefault("pricing.tax_rate", "0.22")
	v.SetDefault("pricing.tax_inclusive", true)
	v.SetDefault("pricing.minor_units", -1)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.user_agent", "panel-quote/1.0")
	v.SetDefault("fetch.rate_per_sec", 5.0)
	v.SetDefault("fetch.breaker_threshold", 3)
	v.SetDefault("fetch.breaker_reset_secs", 300)
	v.SetDefault("fetch.ftp_user", "")
	v.SetDefault("fetch.ftp_password", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "panel-quote.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on: "quote" and "kb"
// need knowledge sources and valid pricing, "serve" also needs a port and a
// store, "quotes" needs only the store.
func (c *Config) Validate(mode string) error {
	var errs []string

	needKnowledge, needStore, needServer := false, false, false
	switch mode {
	case "quote", "kb":
		needKnowledge = true
	case "serve":
		needKnowledge, needStore, needServer = true, true, true
	case "quotes":
		needStore = true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needKnowledge {
		if len(c.Knowledge.Sources) == 0 {
			errs = append(errs, "knowledge.sources is required")
		} else if err := knowledge.ValidateSpecs(c.Knowledge.Sources); err != nil {
			errs = append(errs, err.Error())
		}
		if _, err := c.Rates(); err != nil {
			errs = append(errs, err.Error())
		}
		if c.Fetch.TimeoutSecs < 0 || c.Fetch.MaxRetries < 0 || c.Fetch.RatePerSec < 0 ||
			c.Fetch.BreakerThreshold < 0 || c.Fetch.BreakerResetSecs < 0 {
			errs = append(errs, "fetch settings must be >= 0")
		}
	}
	if needStore {
		switch strings.ToLower(c.Store.Driver) {
		case "", "sqlite", "postgres", "postgresql":
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q is not sqlite or postgres", c.Store.Driver))
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	if needServer {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server.rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Rates converts the pricing section into engine rates.
func (c *Config) Rates() (pricing.Rates, error) {
	rates := pricing.DefaultRates()
	if c.Pricing.Currency != "" {
		rates.Currency = c.Pricing.Currency
	}
	if c.Pricing.TaxRate != "" {
		rate, err := decimal.NewFromString(c.Pricing.TaxRate)
		if err != nil {
			return pricing.Rates{}, eris.Wrapf(err, "config: tax rate %q", c.Pricing.TaxRate)
		}
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return pricing.Rates{}, eris.Errorf("config: tax rate %s must be in [0, 1)", rate)
		}
		rates.TaxRate = rate
	}
	rates.TaxInclusive = c.Pricing.TaxInclusive
	rates.MinorUnits = c.Pricing.MinorUnits
	return rates, nil
}

// Opener builds the knowledge document opener from the fetch section.
func (c *Config) Opener() *fetcher.Opener {
	timeout := time.Duration(c.Fetch.TimeoutSecs) * time.Second
	o := fetcher.NewOpener(
		fetcher.HTTPOptions{
			UserAgent:  c.Fetch.UserAgent,
			Timeout:    timeout,
			MaxRetries: c.Fetch.MaxRetries,
			RatePerSec: c.Fetch.RatePerSec,
		},
		fetcher.FTPOptions{Timeout: timeout, User: c.Fetch.FTPUser, Password: c.Fetch.FTPPassword},
	)
	if c.Fetch.BreakerThreshold > 0 {
		o.WithBreaker(fetcher.BreakerOptions{
			FailureThreshold: c.Fetch.BreakerThreshold,
			ResetTimeout:     time.Duration(c.Fetch.BreakerResetSecs) * time.Second,
		})
	}
	return o
}

// Loader builds a knowledge loader honouring the knowledge section.
func (c *Config) Loader() *knowledge.Loader {
	return knowledge.NewLoader(c.Opener(), c.Knowledge.StrictReferences).WithTempDir(c.Knowledge.TempDir)
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
