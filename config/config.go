package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"helpdesk/utils"
)

const EnvPrefix = "HELPDESK"

type Config struct {
	// Server configuration
	ListenAddr  string `mapstructure:"listen_addr"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	API   APIConfig   `mapstructure:"api"`
	Token TokenConfig `mapstructure:"token"`

	// Redis configuration, optional
	Redis RedisConfig `mapstructure:"redis"`

	// PubNub configuration, optional
	PubNub PubNubConfig `mapstructure:"pubnub"`

	// Monitoring
	EnableMetrics bool `mapstructure:"enable_metrics"`

	LoginAttemptsPerMinute int `mapstructure:"login_attempts_per_minute"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TokenConfig struct {
	// Store is one of memory, file or redis.
	Store      string        `mapstructure:"store"`
	File       string        `mapstructure:"file"`
	Passphrase string        `mapstructure:"passphrase"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type PubNubConfig struct {
	SubscribeKey string `mapstructure:"subscribe_key"`
	UserID       string `mapstructure:"user_id"`
	Channel      string `mapstructure:"channel"`
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("listen_addr", "127.0.0.1:8090")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Backend
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout", "15s")

	// Token persistence
	v.SetDefault("token.store", "file")
	v.SetDefault("token.file", "")
	v.SetDefault("token.passphrase", "")
	v.SetDefault("token.ttl", "0s")

	// Redis
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "helpdesk:")

	// PubNub
	v.SetDefault("pubnub.subscribe_key", "")
	v.SetDefault("pubnub.user_id", "")
	v.SetDefault("pubnub.channel", "helpdesk-tickets")

	// Monitoring
	v.SetDefault("enable_metrics", true)
	v.SetDefault("login_attempts_per_minute", 10)
}

// LoadConfig reads defaults, then the optional file, then HELPDESK_* variables;
// nested keys use underscores, e.g. HELPDESK_API_BASE_URL.
func LoadConfig(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.PubNub.SubscribeKey != "" && cfg.PubNub.UserID == "" {
		suffix, err := utils.RandomHex(6)
		if err != nil {
			return nil, fmt.Errorf("config: pubnub user id: %w", err)
		}
		cfg.PubNub.UserID = "helpdesk-" + suffix
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		return fmt.Errorf("config: api.base_url is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("config: api.timeout must be positive, got %s", c.API.Timeout)
	}

	switch c.Token.Store {
	case "memory", "file":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("config: token.store redis needs redis.url")
		}
	default:
		return fmt.Errorf("config: unknown token.store %q (memory, file or redis)", c.Token.Store)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
