package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"ratewatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Predict   PredictConfig   `mapstructure:"predict"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig covers the HTTP/WebSocket surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// persistence: the pipeline runs fully in-process.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PipelineConfig holds the shared cache/history settings.
type PipelineConfig struct {
	QuoteCurrency   string `mapstructure:"quote_currency"`
	HistoryCapacity int    `mapstructure:"history_capacity"`
}

// SourcesConfig selects and parameterises rate providers.
type SourcesConfig struct {
	// Mode is "live" or "demo"; demo swaps every provider for the
	// deterministic offline synthesizer.
	Mode   string       `mapstructure:"mode"`
	Fiat   FiatSource   `mapstructure:"fiat"`
	Crypto CryptoSource `mapstructure:"crypto"`
	Oracle OracleSource `mapstructure:"oracle"`
}

// FiatSource configures the fiat rates HTTP provider.
type FiatSource struct {
	BaseURL        string        `mapstructure:"base_url"`
	BaseCurrency   string        `mapstructure:"base_currency"`
	Symbols        []string      `mapstructure:"symbols"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	APIKey         string        `mapstructure:"api_key"`
}

// CryptoSource configures the crypto price HTTP provider.
type CryptoSource struct {
	BaseURL        string            `mapstructure:"base_url"`
	Coins          map[string]string `mapstructure:"coins"`
	VsCurrency     string            `mapstructure:"vs_currency"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	APIKey         string            `mapstructure:"api_key"`
}

// OracleSource configures the on-chain price feed provider. When enabled it
// replaces the crypto HTTP provider.
type OracleSource struct {
	Enabled        bool              `mapstructure:"enabled"`
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// SchedulerConfig governs per-asset-class cadence and failure policy.
type SchedulerConfig struct {
	Fiat   ClassSchedule `mapstructure:"fiat"`
	Crypto ClassSchedule `mapstructure:"crypto"`
}

// ClassSchedule tunes one asset class's loop.
type ClassSchedule struct {
	Interval      time.Duration `mapstructure:"interval"`
	TTL           time.Duration `mapstructure:"ttl"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	JitterFrac    float64       `mapstructure:"jitter_frac"`
	DegradedAfter int           `mapstructure:"degraded_after"`
}

// BroadcastConfig bounds subscriber queues.
type BroadcastConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// AlertingConfig defines evaluation cadence and delivery routing.
type AlertingConfig struct {
	Cooldown        time.Duration  `mapstructure:"cooldown"`
	RefreshInterval time.Duration  `mapstructure:"refresh_interval"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig routes alert triggers to a Telegram chat.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// PredictConfig tunes the moving-average predictor.
type PredictConfig struct {
	ShortWindow   int           `mapstructure:"short_window"`
	LongWindow    int           `mapstructure:"long_window"`
	MaxConfidence float64       `mapstructure:"max_confidence"`
	MaxAge        time.Duration `mapstructure:"max_age"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ratewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("pipeline.quote_currency", "USD")
	v.SetDefault("pipeline.history_capacity", 720)

	v.SetDefault("sources.mode", "demo")
	v.SetDefault("sources.fiat.base_url", "https://api.exchangerate.host")
	v.SetDefault("sources.fiat.base_currency", "USD")
	v.SetDefault("sources.fiat.symbols", []string{"EUR", "GBP", "INR", "JPY"})
	v.SetDefault("sources.fiat.request_timeout", "10s")
	v.SetDefault("sources.fiat.user_agent", "ratewatch/1.0")
	v.SetDefault("sources.crypto.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("sources.crypto.coins", map[string]string{"bitcoin": "BTC", "ethereum": "ETH"})
	v.SetDefault("sources.crypto.vs_currency", "USD")
	v.SetDefault("sources.crypto.request_timeout", "10s")
	v.SetDefault("sources.crypto.user_agent", "ratewatch/1.0")
	v.SetDefault("sources.oracle.enabled", false)
	v.SetDefault("sources.oracle.request_timeout", "10s")

	v.SetDefault("scheduler.fiat.interval", "10s")
	v.SetDefault("scheduler.fiat.backoff_base", "2s")
	v.SetDefault("scheduler.fiat.backoff_max", "2m")
	v.SetDefault("scheduler.fiat.jitter_frac", 0.2)
	v.SetDefault("scheduler.fiat.degraded_after", 3)
	v.SetDefault("scheduler.crypto.interval", "5m")
	v.SetDefault("scheduler.crypto.backoff_base", "5s")
	v.SetDefault("scheduler.crypto.backoff_max", "10m")
	v.SetDefault("scheduler.crypto.jitter_frac", 0.2)
	v.SetDefault("scheduler.crypto.degraded_after", 3)

	v.SetDefault("broadcast.queue_size", 32)

	v.SetDefault("alerting.cooldown", "1h")
	v.SetDefault("alerting.refresh_interval", "30s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("predict.short_window", 12)
	v.SetDefault("predict.long_window", 48)
	v.SetDefault("predict.max_confidence", 0.9)
	v.SetDefault("predict.max_age", "15m")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Sources.Mode) {
	case "live", "demo":
	default:
		return fmt.Errorf("sources.mode must be live or demo, got %q", c.Sources.Mode)
	}
	if c.Pipeline.HistoryCapacity <= 1 {
		return fmt.Errorf("pipeline.history_capacity must be greater than one")
	}
	if c.Pipeline.QuoteCurrency == "" {
		return fmt.Errorf("pipeline.quote_currency must be set")
	}
	if c.Scheduler.Fiat.Interval <= 0 || c.Scheduler.Crypto.Interval <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than zero")
	}
	if c.Broadcast.QueueSize <= 0 {
		return fmt.Errorf("broadcast.queue_size must be greater than zero")
	}
	if c.Alerting.Cooldown <= 0 {
		return fmt.Errorf("alerting.cooldown must be greater than zero")
	}
	if c.Predict.MaxConfidence <= 0 || c.Predict.MaxConfidence >= 1 {
		return fmt.Errorf("predict.max_confidence must be within (0, 1)")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	if strings.ToLower(c.Sources.Mode) == "live" && c.Sources.Oracle.Enabled {
		if c.Sources.Oracle.RPCURL == "" {
			return fmt.Errorf("sources.oracle.rpc_url must be set")
		}
		if len(c.Sources.Oracle.Feeds) == 0 {
			return fmt.Errorf("sources.oracle.feeds must not be empty")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
