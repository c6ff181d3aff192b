package config

import (
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type WebhookConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	SignatureHeader       string `mapstructure:"signature_header"`
	RequireSignature      bool   `mapstructure:"require_signature"`
	GuardDoubleCompletion bool   `mapstructure:"guard_double_completion"`
	MaxBodyBytes          int64  `mapstructure:"max_body_bytes"`
}

type RealtimeConfig struct {
	KeepaliveInterval    time.Duration `mapstructure:"keepalive_interval"`
	ListenerMinReconnect time.Duration `mapstructure:"listener_min_reconnect"`
	ListenerMaxReconnect time.Duration `mapstructure:"listener_max_reconnect"`
}

// AlertConfig enables failure alert emails. Alerts are off unless
// smtp_host is set.
type AlertConfig struct {
	From       string   `mapstructure:"from"`
	SMTPHost   string   `mapstructure:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Recipients []string `mapstructure:"recipients"`
}

type Config struct {
	DatabaseURL    string         `mapstructure:"database_url"`
	ServerPort     string         `mapstructure:"server_port"`
	JWTSecret      string         `mapstructure:"jwt_secret"`
	LogLevel       string         `mapstructure:"log_level"`
	AllowedOrigins []string       `mapstructure:"allowed_origins"`
	Webhook        WebhookConfig  `mapstructure:"webhook"`
	Realtime       RealtimeConfig `mapstructure:"realtime"`
	Alerts         AlertConfig    `mapstructure:"alerts"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	cfg, err := Read(".", "./config")
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	return cfg
}

// Read looks for config.yaml in the given directories. Values can be
// overridden with AUTORUN_* environment variables (AUTORUN_WEBHOOK_BASE_URL).
func Read(paths ...string) (*Config, error) {
	v := viper.New()

	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("AUTORUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("webhook.base_url", "http://localhost:8080")
	v.SetDefault("webhook.signature_header", "X-Webhook-Signature")
	v.SetDefault("webhook.require_signature", false)
	v.SetDefault("webhook.guard_double_completion", true)
	v.SetDefault("webhook.max_body_bytes", 1<<20)
	v.SetDefault("realtime.keepalive_interval", 30*time.Second)
	v.SetDefault("realtime.listener_min_reconnect", time.Second)
	v.SetDefault("realtime.listener_max_reconnect", 30*time.Second)
	v.SetDefault("alerts.smtp_port", 587)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if config.JWTSecret == "" {
		return nil, errors.New("jwt_secret must be set")
	}
	config.Webhook.BaseURL = strings.TrimRight(strings.TrimSpace(config.Webhook.BaseURL), "/")
	if config.Webhook.MaxBodyBytes <= 0 {
		config.Webhook.MaxBodyBytes = 1 << 20
	}

	return &config, nil
}
