package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dorumdorum/chatlink/pkg/log"
)

type Config struct {
	Server    ServerConfig
	Stream    StreamConfig
	Transport TransportConfig
	Directory DirectoryConfig
	Log       log.Config
}

type ServerConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	StreamPath string `mapstructure:"stream_path"`
	WSURL      string `mapstructure:"ws_url"`
}

type StreamConfig struct {
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCeiling time.Duration `mapstructure:"backoff_ceiling"`
}

type TransportConfig struct {
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type DirectoryConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, rely on defaults and env vars.
	}

	// Set defaults
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.stream_path", "/notifications/stream")
	v.SetDefault("server.ws_url", "ws://localhost:8080/ws/chat")
	v.SetDefault("stream.backoff_base", "1s")
	v.SetDefault("stream.backoff_ceiling", "30s")
	v.SetDefault("transport.retry_delay", "3s")
	v.SetDefault("transport.max_retries", 10)
	v.SetDefault("transport.ping_interval", "30s")
	v.SetDefault("transport.pong_wait", "60s")
	v.SetDefault("transport.write_wait", "10s")
	v.SetDefault("transport.max_message_size", 4096)
	v.SetDefault("directory.timeout", "10s")
	v.SetDefault("directory.page_size", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chatlink")

	// Override from environment
	v.BindEnv("server.base_url", "CHATLINK_BASE_URL")
	v.BindEnv("server.ws_url", "CHATLINK_WS_URL")
	v.BindEnv("log.level", "CHATLINK_LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Stream.BackoffBase = parseDuration(v, "stream.backoff_base", time.Second)
	cfg.Stream.BackoffCeiling = parseDuration(v, "stream.backoff_ceiling", 30*time.Second)
	cfg.Transport.RetryDelay = parseDuration(v, "transport.retry_delay", 3*time.Second)
	cfg.Transport.PingInterval = parseDuration(v, "transport.ping_interval", 30*time.Second)
	cfg.Transport.PongWait = parseDuration(v, "transport.pong_wait", 60*time.Second)
	cfg.Transport.WriteWait = parseDuration(v, "transport.write_wait", 10*time.Second)
	cfg.Directory.Timeout = parseDuration(v, "directory.timeout", 10*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
