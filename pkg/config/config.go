package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Hub       HubConfig       `mapstructure:"hub"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Processor ProcessorConfig `mapstructure:"processor"`
}

type AppConfig struct {
	Port          string        `mapstructure:"port"`
	Env           string        `mapstructure:"env"` // e.g., "local", "prod"
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// UpstreamConfig describes the external trade feed and the fixed watch-list.
type UpstreamConfig struct {
	URL              string        `mapstructure:"url"`
	Token            string        `mapstructure:"token"`
	Symbols          []string      `mapstructure:"symbols"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
}

type EnrichConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
	QueueSize  int `mapstructure:"queue_size"`
}

type HubConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	OverflowLimit int           `mapstructure:"overflow_limit"`
	MaxBatch      int           `mapstructure:"max_batch"`
	StallTimeout  time.Duration `mapstructure:"stall_timeout"`
}

type GatewayConfig struct {
	WriteWait  time.Duration `mapstructure:"write_wait"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
}

type GeneratorConfig struct {
	Port         string        `mapstructure:"port"`
	Interval     time.Duration `mapstructure:"interval"`
	MaxBatch     int           `mapstructure:"max_batch"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type ProcessorConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment so APP_PORT etc. are real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper only maps flat env vars onto nested keys it knows about
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.shutdown_grace", 5*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.development", false)

	v.SetDefault("upstream.url", "ws://localhost:9090/")
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.symbols", []string{"AAPL", "MSFT", "AMZN", "GOOG", "TSLA"})
	v.SetDefault("upstream.handshake_timeout", 10*time.Second)
	v.SetDefault("upstream.read_timeout", 60*time.Second)
	v.SetDefault("upstream.initial_backoff", 1*time.Second)
	v.SetDefault("upstream.max_backoff", 30*time.Second)

	v.SetDefault("enrich.num_workers", 4)
	v.SetDefault("enrich.queue_size", 1024)

	v.SetDefault("hub.queue_size", 256)
	v.SetDefault("hub.overflow_limit", 64)
	v.SetDefault("hub.max_batch", 128)
	v.SetDefault("hub.stall_timeout", 10*time.Second)

	v.SetDefault("gateway.write_wait", 5*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.ping_period", 50*time.Second)

	v.SetDefault("generator.port", ":9090")
	v.SetDefault("generator.interval", 100*time.Millisecond)
	v.SetDefault("generator.max_batch", 5)
	v.SetDefault("generator.ping_interval", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 1*time.Hour)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "enriched_ticks")
	v.SetDefault("kafka.group_id", "tick-snapshot-group")

	v.SetDefault("processor.num_workers", 4)
}

// Normalize upper-cases and de-duplicates the watch-list, keeping first-seen order.
func (c *Config) Normalize() {
	seen := make(map[string]bool, len(c.Upstream.Symbols))
	symbols := make([]string, 0, len(c.Upstream.Symbols))
	for _, s := range c.Upstream.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	c.Upstream.Symbols = symbols
}

func (c *Config) Validate() error {
	if len(c.Upstream.Symbols) == 0 {
		return errors.New("upstream symbols cannot be empty")
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("upstream url must use ws or wss, got %q", u.Scheme)
	}
	if c.Upstream.InitialBackoff <= 0 || c.Upstream.MaxBackoff < c.Upstream.InitialBackoff {
		return fmt.Errorf("invalid upstream backoff: initial %s, max %s", c.Upstream.InitialBackoff, c.Upstream.MaxBackoff)
	}
	if c.Enrich.NumWorkers <= 0 || c.Enrich.QueueSize <= 0 {
		return errors.New("enrich workers and queue size must be positive")
	}
	if c.Hub.QueueSize <= 0 || c.Hub.OverflowLimit <= 0 || c.Hub.MaxBatch <= 0 || c.Hub.StallTimeout <= 0 {
		return errors.New("hub queue size, overflow limit, max batch and stall timeout must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers cannot be empty")
	}
	return nil
}
