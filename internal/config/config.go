package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/GeniusSecret1117/zeroloss-backend/libs/config"
	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers         []string
	PlacementsTopic string
}

type BinanceConfig struct {
	BaseURL      string
	UseTestnet   bool
	RecvWindowMS int64
	ClockMaxAge  time.Duration
	PollInterval time.Duration
	PollAttempts int
	FilterTTL    time.Duration
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	App       base.AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Binance   BinanceConfig
	RateLimit RateLimitConfig
	JWTSecret string
	// VaultKey is the credential encryption key as 64 hex chars.
	VaultKey string
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("ZL_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("ZL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("ZL_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.placements_topic", "trading.placements")
	v.SetDefault("binance.recv_window_ms", 5000)
	v.SetDefault("binance.clock_max_age", "5m")
	v.SetDefault("binance.poll_interval", "1s")
	v.SetDefault("binance.poll_attempts", 10)
	v.SetDefault("binance.filter_ttl", "1h")
	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.window", "1m")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("DB_HOST", envString("POSTGRES_HOST", "localhost")),
			Port:     envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:     envString("DB_NAME", envString("POSTGRES_DB", "zeroloss")),
			User:     envString("DB_USER", envString("POSTGRES_USER", "zeroloss")),
			Password: envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "zeroloss")),
			SSLMode:  envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", ""),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:         envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			PlacementsTopic: envString("KAFKA_PLACEMENTS_TOPIC", v.GetString("kafka.placements_topic")),
		},
		Binance: BinanceConfig{
			BaseURL:      envString("BINANCE_BASE_URL", v.GetString("binance.base_url")),
			UseTestnet:   envBool("BINANCE_TESTNET", v.GetBool("binance.testnet")),
			RecvWindowMS: int64(envInt("BINANCE_RECV_WINDOW_MS", v.GetInt("binance.recv_window_ms"))),
			ClockMaxAge:  envDuration("BINANCE_CLOCK_MAX_AGE", v.GetDuration("binance.clock_max_age")),
			PollInterval: envDuration("BINANCE_POLL_INTERVAL", v.GetDuration("binance.poll_interval")),
			PollAttempts: envInt("BINANCE_POLL_ATTEMPTS", v.GetInt("binance.poll_attempts")),
			FilterTTL:    envDuration("BINANCE_FILTER_TTL", v.GetDuration("binance.filter_ttl")),
		},
		RateLimit: RateLimitConfig{
			Limit:  envInt("RATE_LIMIT", v.GetInt("rate_limit.limit")),
			Window: envDuration("RATE_LIMIT_WINDOW", v.GetDuration("rate_limit.window")),
		},
		JWTSecret: envString("JWT_SECRET", v.GetString("jwt_secret")),
		VaultKey:  envString("VAULT_KEY", v.GetString("vault_key")),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	if len(cfg.VaultKey) != 64 {
		return nil, fmt.Errorf("vault key must be 64 hex chars")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Binance.PollAttempts <= 0 {
		return nil, fmt.Errorf("poll attempts must be positive")
	}
	if cfg.RateLimit.Limit <= 0 || cfg.RateLimit.Window <= 0 {
		return nil, fmt.Errorf("rate limit and window must be positive")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv("ZL_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv("ZL_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv("ZL_" + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv("ZL_" + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	for _, lookup := range []string{"ZL_" + key, key} {
		v := os.Getenv(lookup)
		if v == "" {
			continue
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
