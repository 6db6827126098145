// Package config reads the service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Config holds every setting main needs to wire the service.
type Config struct {
	Debug bool
	Port  string

	StorageConnection string
	TasksTable        string
	UsersTable        string
	ImageContainer    string
	CleanupQueue      string

	Redis         *redis.Options
	TasksCacheTTL time.Duration
	DeduperTTL    time.Duration

	SessionSecret []byte
	SessionTTL    time.Duration

	JWKSURL      string
	AuthAudience string
	AuthIssuer   string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	CleanupWorkers int
	AllowOrigins   []string
}

const (
	defaultPort           = "8080"
	defaultTasksCacheTTL  = 30 * time.Second
	defaultDeduperTTL     = 24 * time.Hour
	defaultSessionTTL     = 7 * 24 * time.Hour
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultCleanupWorkers = 2
)

// Load reads a .env file when one exists and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	cfg := Config{
		Port:              defaultPort,
		StorageConnection: get("STORAGE_CONNECTION_STRING"),
		TasksTable:        get("TASKS_TABLE"),
		UsersTable:        get("USERS_TABLE"),
		ImageContainer:    get("IMAGE_CONTAINER"),
		CleanupQueue:      get("IMAGE_CLEANUP_QUEUE"),
		JWKSURL:           get("AUTH_JWKS_URL"),
		AuthAudience:      get("AUTH_AUDIENCE"),
		AuthIssuer:        get("AUTH_ISSUER"),
		OpenAIKey:         get("OPENAI_API_KEY"),
		OpenAIBaseURL:     get("OPENAI_BASE_URL"),
		OpenAIModel:       defaultOpenAIModel,
		AllowOrigins:      []string{"*"},
	}
	if dbg, err := strconv.ParseBool(get("DEBUG")); err == nil {
		cfg.Debug = dbg
	}
	if v := get("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = v
	}
	if v := get("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := get("CORS_ALLOW_ORIGINS"); v != "" {
		cfg.AllowOrigins = splitList(v)
	}

	if cfg.StorageConnection == "" || cfg.TasksTable == "" {
		return Config{}, errors.New("missing storage config")
	}
	if cfg.UsersTable != "" && cfg.JWKSURL == "" {
		secret := get("SESSION_SECRET")
		if secret == "" {
			return Config{}, errors.New("missing SESSION_SECRET")
		}
		cfg.SessionSecret = []byte(secret)
	}
	if cfg.UsersTable == "" && cfg.JWKSURL == "" {
		return Config{}, errors.New("missing auth config: set USERS_TABLE or AUTH_JWKS_URL")
	}

	redisConn := get("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		return Config{}, errors.New("missing redis config")
	}
	cfg.Redis = ParseRedis(redisConn)

	var err error
	if cfg.TasksCacheTTL, err = duration(get, "TASKS_CACHE_TTL", defaultTasksCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.DeduperTTL, err = duration(get, "DEDUPER_TTL", defaultDeduperTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = duration(get, "SESSION_TTL", defaultSessionTTL); err != nil {
		return Config{}, err
	}

	cfg.CleanupWorkers = defaultCleanupWorkers
	if v := get("CLEANUP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CLEANUP_WORKERS: %w", err)
		}
		if n <= 0 {
			return Config{}, errors.New("invalid CLEANUP_WORKERS: must be greater than zero")
		}
		cfg.CleanupWorkers = n
	}
	return cfg, nil
}

// Images reports whether the blob store and its cleanup queue are configured.
func (c Config) Images() bool { return c.ImageContainer != "" && c.CleanupQueue != "" }

// LLM reports whether summaries go to a language model.
func (c Config) LLM() bool { return c.OpenAIKey != "" }

// ParseRedis accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func ParseRedis(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}

func duration(get func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
