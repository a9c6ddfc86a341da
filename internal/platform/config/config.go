package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAPIURL is the fallback backend base URL when GABIZAP_API_URL is unset.
const DefaultAPIURL = "http://localhost:8000"

// Token store backends.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config captures everything the client needs to reach the backend and persist its session.
type Config struct {
	API           API
	Store         Store
	Redis         RedisConfig
	RestorePolicy string
	Log           Log
	MetricsFile   string
}

// API is the single backend base URL shared by the credential and capture endpoints.
type API struct {
	BaseURL string
	Timeout time.Duration
}

// Store selects where the session token is persisted.
type Store struct {
	Backend string
	Dir     string
}

// RedisConfig configures the shared token store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TokenTTL     time.Duration
}

type Log struct {
	Level  string
	Format string
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	timeout, err := durationEnv("GABIZAP_HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	ttl, err := durationEnv("GABIZAP_REDIS_TOKEN_TTL", 0)
	if err != nil {
		return Config{}, err
	}
	poolSize, err := intEnv("GABIZAP_REDIS_POOL_SIZE", 4)
	if err != nil {
		return Config{}, err
	}

	backend := strings.ToLower(envOr("GABIZAP_TOKEN_STORE", StoreFile))
	switch backend {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return Config{}, fmt.Errorf("GABIZAP_TOKEN_STORE: unknown backend %q", backend)
	}

	cfg := Config{
		API: API{
			BaseURL: strings.TrimRight(envOr("GABIZAP_API_URL", DefaultAPIURL), "/"),
			Timeout: timeout,
		},
		Store: Store{
			Backend: backend,
			Dir:     envOr("GABIZAP_STATE_DIR", defaultStateDir()),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("GABIZAP_REDIS_URL"),
			PoolSize:     poolSize,
			MinIdleConns: 1,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			TokenTTL:     ttl,
		},
		RestorePolicy: envOr("GABIZAP_RESTORE_POLICY", "verify"),
		Log: Log{
			Level:  envOr("LOG_LEVEL", "warn"),
			Format: envOr("LOG_FORMAT", "text"),
		},
		MetricsFile: os.Getenv("GABIZAP_METRICS_FILE"),
	}

	if cfg.Store.Backend == StoreRedis && cfg.Redis.URL == "" {
		return Config{}, errors.New("GABIZAP_REDIS_URL is required when GABIZAP_TOKEN_STORE=redis")
	}
	return cfg, nil
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gabizap")
	}
	return filepath.Join(os.TempDir(), "gabizap")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
