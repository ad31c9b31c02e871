// Package config loads chainlock settings from TOML files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend names.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendNATS      = "nats"
	BackendKafka     = "kafka"
	BackendNone      = "none"
	BackendRistretto = "ristretto"
)

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Redis holds redis connection settings.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Lock configures the lock table.
type Lock struct {
	Backend   string   `toml:"backend"`
	KeyPrefix string   `toml:"key_prefix"`
	PollMin   Duration `toml:"poll_min"`
	PollMax   Duration `toml:"poll_max"`
	Redis     Redis    `toml:"redis"`
}

// Bus configures release notifications.
type Bus struct {
	Backend          string   `toml:"backend"`
	Redis            Redis    `toml:"redis"`
	NATSURL          string   `toml:"nats_url"`
	KafkaBrokers     []string `toml:"kafka_brokers"`
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerTimeout   Duration `toml:"breaker_timeout"`
}

// Price configures the price client.
type Price struct {
	BaseURL  string   `toml:"base_url"`
	Timeout  Duration `toml:"timeout"`
	Cache    string   `toml:"cache"`
	CacheTTL Duration `toml:"cache_ttl"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level"`
}

// Config is the root of a chainlock configuration file.
type Config struct {
	Lock  Lock  `toml:"lock"`
	Bus   Bus   `toml:"bus"`
	Price Price `toml:"price"`
	Log   Log   `toml:"log"`
}

// Default returns a configuration that runs fully in memory.
func Default() Config {
	return Config{
		Lock: Lock{
			Backend:   BackendMemory,
			KeyPrefix: "chainlock:",
			PollMin:   Duration{100 * time.Millisecond},
			PollMax:   Duration{500 * time.Millisecond},
		},
		Bus: Bus{
			Backend:          BackendMemory,
			BreakerThreshold: 5,
			BreakerTimeout:   Duration{10 * time.Second},
		},
		Price: Price{
			BaseURL:  "https://api.coingecko.com/api/v3",
			Timeout:  Duration{10 * time.Second},
			Cache:    BackendMemory,
			CacheTTL: Duration{time.Minute},
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML text on top of Default, rejects unknown keys and
// validates the result.
func Parse(data string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config: unknown keys %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.Lock.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("config: lock.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown lock backend %q", c.Lock.Backend)
	}
	if c.Lock.PollMin.Duration <= 0 || c.Lock.PollMax.Duration < c.Lock.PollMin.Duration {
		return fmt.Errorf("config: invalid lock poll interval %s..%s", c.Lock.PollMin, c.Lock.PollMax)
	}

	switch c.Bus.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Bus.Redis.Addr == "" && c.Lock.Redis.Addr == "" {
			return fmt.Errorf("config: bus.redis.addr is required for the redis bus")
		}
	case BackendNATS:
		if c.Bus.NATSURL == "" {
			return fmt.Errorf("config: bus.nats_url is required for the nats bus")
		}
	case BackendKafka:
		if len(c.Bus.KafkaBrokers) == 0 {
			return fmt.Errorf("config: bus.kafka_brokers is required for the kafka bus")
		}
	default:
		return fmt.Errorf("config: unknown bus backend %q", c.Bus.Backend)
	}

	switch c.Price.Cache {
	case BackendNone, BackendMemory, BackendRistretto:
	default:
		return fmt.Errorf("config: unknown price cache %q", c.Price.Cache)
	}
	if c.Price.Cache != BackendNone && c.Price.CacheTTL.Duration < 0 {
		return fmt.Errorf("config: negative price.cache_ttl")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps the level name to a slog.Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return lvl, nil
}

// BusRedis returns the redis settings of the bus, falling back to the lock
// table connection.
func (c Config) BusRedis() Redis {
	if c.Bus.Redis.Addr != "" {
		return c.Bus.Redis
	}
	return c.Lock.Redis
}
