// Package config loads application configuration from file and environment
// and initializes the global logger.
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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	SMTP       SMTPConfig       `yaml:"smtp" mapstructure:"smtp"`
	Warmup     WarmupConfig     `yaml:"warmup" mapstructure:"warmup"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds the settings for the reply intent classifier's
// escalation tier.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// SMTPConfig holds the default SMTP relay settings for inboxes without
// provider OAuth credentials.
type SMTPConfig struct {
	Host           string `yaml:"host" mapstructure:"host"`
	Port           int    `yaml:"port" mapstructure:"port"`
	Username       string `yaml:"username" mapstructure:"username"`
	Password       string `yaml:"password" mapstructure:"password"`
	SendsPerMinute int    `yaml:"sends_per_minute" mapstructure:"sends_per_minute"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// WarmupConfig configures the warmup scheduler ticks.
type WarmupConfig struct {
	DispatchIntervalMins int    `yaml:"dispatch_interval_mins" mapstructure:"dispatch_interval_mins"`
	ResetIntervalSecs    int    `yaml:"reset_interval_secs" mapstructure:"reset_interval_secs"`
	TemplatesPath        string `yaml:"templates_path" mapstructure:"templates_path"`
	MaxSendAttempts      int    `yaml:"max_send_attempts" mapstructure:"max_send_attempts"`
}

// QueueConfig configures the background job runner.
type QueueConfig struct {
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
}

// MonitoringConfig configures the connection health monitor.
type MonitoringConfig struct {
	CheckIntervalHours  int    `yaml:"check_interval_hours" mapstructure:"check_interval_hours"`
	ValidateTimeoutSecs int    `yaml:"validate_timeout_secs" mapstructure:"validate_timeout_secs"`
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP API server.
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
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.sends_per_minute", 10)
	v.SetDefault("smtp.max_retries", 3)
	v.SetDefault("warmup.dispatch_interval_mins", 30)
	v.SetDefault("warmup.reset_interval_secs", 60)
	v.SetDefault("warmup.max_send_attempts", 3)
	v.SetDefault("queue.poll_interval_secs", 5)
	v.SetDefault("queue.batch_size", 20)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("monitoring.check_interval_hours", 24)
	v.SetDefault("monitoring.validate_timeout_secs", 30)

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

// Validate checks the fields required for the given run mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	common := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
		if c.Queue.Concurrency < 1 || c.Queue.Concurrency > 50 {
			problems = append(problems, "queue.concurrency must be between 1 and 50")
		}
	}

	switch mode {
	case "serve":
		common()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "warmup":
		common()
		if c.Warmup.DispatchIntervalMins <= 0 {
			problems = append(problems, "warmup.dispatch_interval_mins must be > 0")
		}
		if c.Warmup.ResetIntervalSecs <= 0 {
			problems = append(problems, "warmup.reset_interval_secs must be > 0")
		}
	case "monitor":
		common()
		if c.Monitoring.CheckIntervalHours <= 0 {
			problems = append(problems, "monitoring.check_interval_hours must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
