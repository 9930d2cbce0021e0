package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port            string        `env:"PORT"             envDefault:"8080"`
	Env             string        `env:"ENV"              envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Redis     RedisConfig
	Hash      HashConfig
	Reconcile ReconcileConfig
}

// RedisConfig holds the connection settings for the backing key-value store.
type RedisConfig struct {
	Addr        string        `env:"REDIS_ADDR"         envDefault:"127.0.0.1:6379"`
	Password    string        `env:"REDIS_PASSWORD"`
	DB          int           `env:"REDIS_DB"           envDefault:"0"`
	DialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	KeyPrefix   string        `env:"REDIS_KEY_PREFIX"`
}

// HashConfig holds the argon2id cost parameters used for new password hashes.
type HashConfig struct {
	MemoryKiB   uint32 `env:"HASH_MEMORY_KIB"  envDefault:"65536"`
	Iterations  uint32 `env:"HASH_ITERATIONS"  envDefault:"3"`
	Parallelism uint8  `env:"HASH_PARALLELISM" envDefault:"2"`
}

// ReconcileConfig controls the orphaned profile sweep. An Interval of zero
// disables it.
type ReconcileConfig struct {
	Interval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"0s"`
	Grace    time.Duration `env:"RECONCILE_GRACE"    envDefault:"5m"`
}

// Load parses the process environment into a Config and validates it.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports the first setting that is out of range.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR must not be empty")
	}
	if c.Hash.Iterations == 0 {
		return errors.New("HASH_ITERATIONS must be at least 1")
	}
	if c.Hash.Parallelism == 0 {
		return errors.New("HASH_PARALLELISM must be at least 1")
	}
	// argon2 requires at least 8 KiB of memory per lane.
	if c.Hash.MemoryKiB < 8*uint32(c.Hash.Parallelism) {
		return fmt.Errorf("HASH_MEMORY_KIB must be at least %d", 8*uint32(c.Hash.Parallelism))
	}
	if c.Reconcile.Interval < 0 || c.Reconcile.Grace < 0 {
		return errors.New("RECONCILE_INTERVAL and RECONCILE_GRACE must not be negative")
	}
	// A zero grace lets the sweep race registrations that are still in flight.
	if c.Reconcile.Interval > 0 && c.Reconcile.Grace == 0 {
		return errors.New("RECONCILE_GRACE must be positive when RECONCILE_INTERVAL is set")
	}

	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}
