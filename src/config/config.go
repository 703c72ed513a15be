package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	SinkRedis = "redis"
	SinkKafka = "kafka"
	SinkBoth  = "both"
	SinkNone  = "none"
)

type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
}

type EngineConfig struct {
	Markets           []string `mapstructure:"markets"`
	QuoteAsset        string   `mapstructure:"quote_asset"`
	MatchPolicy       string   `mapstructure:"match_policy"` // book_order or price_time
	PricePrecision    int32    `mapstructure:"price_precision"`
	QuantityPrecision int32    `mapstructure:"quantity_precision"`
	SeedUsers         []string `mapstructure:"seed_users"`
	SeedBalance       string   `mapstructure:"seed_balance"`
	RecordSink        string   `mapstructure:"record_sink"`
}

type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	QueueKey       string        `mapstructure:"queue_key"`
	RecordsKey     string        `mapstructure:"records_key"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	ConnectRetries uint64        `mapstructure:"connect_retries"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type SnapshotConfig struct {
	Backend  string        `mapstructure:"backend"` // file or pebble
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
	Restore  bool          `mapstructure:"restore"`
}

type HTTPConfig struct {
	Port                  string        `mapstructure:"port"`
	OpsPort               string        `mapstructure:"ops_port"`
	ResponseTimeout       time.Duration `mapstructure:"response_timeout"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitMax          int           `mapstructure:"rate_limit_max"`
	RateLimitWindow       time.Duration `mapstructure:"rate_limit_window"`
	RateLimitDisabled     bool          `mapstructure:"rate_limit_disabled"`
	MaxConcurrentRequests int64         `mapstructure:"max_concurrent_requests"`
	MaintenanceMode       bool          `mapstructure:"maintenance_mode"`
	RequestLogging        bool          `mapstructure:"request_logging"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"` // "pretty" for console output
}

// Load reads .env (if present) into the environment, then resolves every
// key from the environment or its default. Keys map to env names by
// replacing dots with underscores: snapshot.interval is SNAPSHOT_INTERVAL.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, relying on environment")
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	// the original deployment toggled restore with WITH_SNAPSHOT
	if err := v.BindEnv("snapshot.restore", "SNAPSHOT_RESTORE", "WITH_SNAPSHOT"); err != nil {
		return nil, err
	}
	// short names used by earlier deployments stay accepted
	for key, env := range map[string]string{
		"http.port":                    "PORT",
		"http.max_concurrent_requests": "MAX_CONCURRENT_REQUESTS",
		"http.maintenance_mode":        "MAINTENANCE_MODE",
		"http.rate_limit_disabled":     "RATE_LIMIT_DISABLED",
		"http.rate_limit_max":          "RATE_LIMIT_MAX",
		"http.rate_limit_window":       "RATE_LIMIT_WINDOW",
		"http.shutdown_timeout":        "SHUTDOWN_TIMEOUT",
	} {
		upper := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, upper, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.markets", []string{"BTC"})
	v.SetDefault("engine.quote_asset", "USDC")
	v.SetDefault("engine.match_policy", "book_order")
	v.SetDefault("engine.price_precision", 2)
	v.SetDefault("engine.quantity_precision", 8)
	v.SetDefault("engine.seed_users", []string{"1", "2", "5"})
	v.SetDefault("engine.seed_balance", "10000000")
	v.SetDefault("engine.record_sink", SinkRedis)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue_key", "messages")
	v.SetDefault("redis.records_key", "db_processor")
	v.SetDefault("redis.poll_timeout", time.Second)
	v.SetDefault("redis.connect_retries", 10)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "spot_engine_records")
	v.SetDefault("kafka.batch_timeout", 10*time.Millisecond)

	v.SetDefault("snapshot.backend", "file")
	v.SetDefault("snapshot.path", "./snapshot.json")
	v.SetDefault("snapshot.interval", 3*time.Second)
	v.SetDefault("snapshot.restore", true)

	v.SetDefault("http.port", "3000")
	v.SetDefault("http.ops_port", "8081")
	v.SetDefault("http.response_timeout", 5*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.rate_limit_max", 100)
	v.SetDefault("http.rate_limit_window", time.Second)
	v.SetDefault("http.rate_limit_disabled", false)
	v.SetDefault("http.max_concurrent_requests", 0)
	v.SetDefault("http.maintenance_mode", false)
	v.SetDefault("http.request_logging", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.format", "")
}

var ErrInvalidConfig = errors.New("invalid config")

func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Engine.MatchPolicy {
	case "book_order", "price_time":
	default:
		add("engine.match_policy %q: want book_order or price_time", c.Engine.MatchPolicy)
	}
	if len(c.Engine.Markets) == 0 {
		add("engine.markets cannot be empty")
	}
	if c.Engine.QuoteAsset == "" {
		add("engine.quote_asset cannot be empty")
	}
	if c.Engine.PricePrecision < 0 || c.Engine.QuantityPrecision < 0 {
		add("engine precisions cannot be negative")
	}
	if _, err := decimal.NewFromString(c.Engine.SeedBalance); err != nil {
		add("engine.seed_balance %q is not a decimal", c.Engine.SeedBalance)
	}
	switch c.Engine.RecordSink {
	case SinkRedis, SinkNone:
	case SinkKafka, SinkBoth:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			add("kafka brokers and topic are required for record sink %q", c.Engine.RecordSink)
		}
	default:
		add("engine.record_sink %q: want redis, kafka, both or none", c.Engine.RecordSink)
	}

	switch c.Snapshot.Backend {
	case "file", "pebble":
	default:
		add("snapshot.backend %q: want file or pebble", c.Snapshot.Backend)
	}
	if c.Snapshot.Interval <= 0 {
		add("snapshot.interval must be positive")
	}
	if c.Snapshot.Path == "" {
		add("snapshot.path cannot be empty")
	}
	if c.Redis.PollTimeout <= 0 {
		add("redis.poll_timeout must be positive")
	}
	if c.HTTP.ResponseTimeout <= 0 {
		add("http.response_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// SeedAmount is the parsed seed balance; Validate guarantees it parses.
func (c EngineConfig) SeedAmount() decimal.Decimal {
	d, _ := decimal.NewFromString(c.SeedBalance)
	return d
}
