package flagkit

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/flagkit/flagkit-go-client/eventlogger"
	"github.com/flagkit/flagkit-go-client/storage"
)

// EnvConfig is the client configuration read from the environment.
type EnvConfig struct {
	SDKKey             string        `env:"FLAGKIT_SDK_KEY"`
	API                string        `env:"FLAGKIT_API"`
	FallbackURLs       []string      `env:"FLAGKIT_FALLBACK_URLS" envSeparator:","`
	EnvironmentTier    string        `env:"FLAGKIT_ENVIRONMENT_TIER"`
	RequestTimeout     time.Duration `env:"FLAGKIT_REQUEST_TIMEOUT" envDefault:"10s"`
	InitTimeout        time.Duration `env:"FLAGKIT_INIT_TIMEOUT" envDefault:"3s"`
	RefreshInterval    time.Duration `env:"FLAGKIT_REFRESH_INTERVAL" envDefault:"10s"`
	FlushInterval      time.Duration `env:"FLAGKIT_FLUSH_INTERVAL" envDefault:"10s"`
	MaxQueueSize       int           `env:"FLAGKIT_MAX_QUEUE_SIZE" envDefault:"50"`
	DisableLogging     bool          `env:"FLAGKIT_DISABLE_LOGGING"`
	AlwaysLog          bool          `env:"FLAGKIT_ALWAYS_LOG"`
	DisableCompression bool          `env:"FLAGKIT_DISABLE_COMPRESSION"`
	DisableErrorReport bool          `env:"FLAGKIT_DISABLE_ERROR_REPORTING"`
	// StorageDir selects a FileProvider rooted at the directory.
	StorageDir string `env:"FLAGKIT_STORAGE_DIR"`
	// BadgerDir selects an embedded BadgerProvider. It wins over StorageDir.
	BadgerDir string `env:"FLAGKIT_BADGER_DIR"`
	// RedisURL selects a RedisProvider. It wins over every other storage setting.
	RedisURL string `env:"FLAGKIT_REDIS_URL"`
}

// LoadEnvConfig loads the optional dotenv files, .env by default, and parses the environment.
// Missing dotenv files are not an error.
func LoadEnvConfig(files ...string) (EnvConfig, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return EnvConfig{}, fmt.Errorf("loading dotenv: %w", err)
	}
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return EnvConfig{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// LoadEnvOptions turns the environment into client options.
func LoadEnvOptions(files ...string) (EnvConfig, []Option, error) {
	cfg, err := LoadEnvConfig(files...)
	if err != nil {
		return cfg, nil, err
	}
	opts, err := cfg.Options()
	return cfg, opts, err
}

// Options converts the configuration into client options.
func (cfg EnvConfig) Options() ([]Option, error) {
	opts := []Option{
		WithAPI(cfg.API),
		WithFallbackURLs(cfg.FallbackURLs...),
		WithRequestTimeout(cfg.RequestTimeout),
		WithInitTimeout(cfg.InitTimeout),
		WithRefreshInterval(cfg.RefreshInterval),
		WithFlushInterval(cfg.FlushInterval),
		WithMaxQueueSize(cfg.MaxQueueSize),
	}
	if cfg.EnvironmentTier != "" {
		opts = append(opts, WithEnvironmentTier(cfg.EnvironmentTier))
	}
	if cfg.DisableLogging {
		opts = append(opts, WithDisableLogging())
	}
	if cfg.AlwaysLog {
		opts = append(opts, WithLoggingPolicy(eventlogger.PolicyAlways))
	}
	if cfg.DisableCompression {
		opts = append(opts, WithDisableCompression())
	}
	if cfg.DisableErrorReport {
		opts = append(opts, WithDisableErrorReporting())
	}

	switch {
	case cfg.RedisURL != "":
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing FLAGKIT_REDIS_URL: %w", err)
		}
		opts = append(opts, WithStorageProvider(storage.NewRedisProvider(redis.NewClient(redisOpts), "")))
	case cfg.BadgerDir != "":
		provider, err := storage.NewBadgerProvider(storage.BadgerConfig{Path: cfg.BadgerDir})
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStorageProvider(provider))
	case cfg.StorageDir != "":
		provider, err := storage.NewFileProvider(cfg.StorageDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStorageProvider(provider))
	}
	return opts, nil
}
