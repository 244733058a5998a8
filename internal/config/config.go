// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/llm"
	"github.com/abhisek/pathwise/internal/validate"
)

// MemoryDatabase selects the in-memory record store.
const MemoryDatabase = ":memory:"

// Config holds everything the engine needs to start.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig

	// LogMode is "development" or "production".
	LogMode string `validate:"oneof=development production dev prod"`

	// CatalogPath is a YAML catalog file. Empty uses the built-in catalog.
	CatalogPath string

	LLM llm.Config `validate:"-"`
}

type ServerConfig struct {
	Addr            string        `validate:"required"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

type DatabaseConfig struct {
	// Path is a SQLite file, or MemoryDatabase. Empty uses the per-user
	// default location.
	Path string
}

type RedisConfig struct {
	// URL enables unlock event publishing when set.
	URL     string `validate:"omitempty,url"`
	Channel string `validate:"required"`
}

// EngineConfig carries the tunables of the learning services.
type EngineConfig struct {
	GapThreshold     float64       `validate:"gt=0,lte=1"`
	MaxWriteRetries  int           `validate:"gte=1,lte=50"`
	MaxExploredNodes int           `validate:"gte=1"`
	PlanningWeeks    int           `validate:"gte=1,lte=520"`
	PassingScore     float64       `validate:"gte=0,lte=100"`
	AssessmentLimit  time.Duration `validate:"gt=0"`
}

// DefaultConfig returns a Config that runs with no environment at all.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Channel: "pathwise.unlocks",
		},
		Engine: EngineConfig{
			GapThreshold:     0.6,
			MaxWriteRetries:  5,
			MaxExploredNodes: 5000,
			PlanningWeeks:    4,
			PassingScore:     70,
			AssessmentLimit:  30 * time.Minute,
		},
		LogMode: "development",
		LLM:     llm.Config{Provider: "none"},
	}
}

// Load reads .env (if present) and PATHWISE_* variables over the defaults.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error

	cfg.Server.Addr = getEnv("PATHWISE_HTTP_ADDR", cfg.Server.Addr)
	if cfg.Server.ShutdownTimeout, err = getDuration("PATHWISE_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	cfg.Database.Path = getEnv("PATHWISE_DB", cfg.Database.Path)
	cfg.Redis.URL = getEnv("PATHWISE_REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Channel = getEnv("PATHWISE_REDIS_CHANNEL", cfg.Redis.Channel)
	cfg.LogMode = getEnv("PATHWISE_LOG_MODE", cfg.LogMode)
	cfg.CatalogPath = getEnv("PATHWISE_CATALOG", cfg.CatalogPath)

	e := &cfg.Engine
	if e.GapThreshold, err = getFloat("PATHWISE_GAP_THRESHOLD", e.GapThreshold); err != nil {
		return Config{}, err
	}
	if e.MaxWriteRetries, err = getInt("PATHWISE_MAX_WRITE_RETRIES", e.MaxWriteRetries); err != nil {
		return Config{}, err
	}
	if e.MaxExploredNodes, err = getInt("PATHWISE_MAX_EXPLORED_NODES", e.MaxExploredNodes); err != nil {
		return Config{}, err
	}
	if e.PlanningWeeks, err = getInt("PATHWISE_PLANNING_WEEKS", e.PlanningWeeks); err != nil {
		return Config{}, err
	}
	if e.PassingScore, err = getFloat("PATHWISE_PASSING_SCORE", e.PassingScore); err != nil {
		return Config{}, err
	}
	if e.AssessmentLimit, err = getDuration("PATHWISE_ASSESSMENT_TIME_LIMIT", e.AssessmentLimit); err != nil {
		return Config{}, err
	}

	cfg.LLM = llmConfig()
	return cfg, nil
}

// llmConfig prefers an explicit PATHWISE_LLM_PROVIDER, then any standard
// provider key in the environment. With neither, content analysis runs on
// rules alone.
func llmConfig() llm.Config {
	if os.Getenv("PATHWISE_LLM_PROVIDER") != "" {
		return llm.ConfigFromEnv()
	}
	if cfg, ok := llm.DiscoverConfig(); ok {
		return cfg
	}
	cfg := llm.DefaultConfig()
	cfg.Provider = "none"
	return cfg
}

// Validate reports the first class of problems as a configuration error.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperr.Configuration("invalid configuration: %v", err)
	}
	return c.LLM.Validate()
}

// Production reports whether logs should use the production encoder.
func (c Config) Production() bool {
	return c.LogMode == "production" || c.LogMode == "prod"
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Configuration("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperr.Configuration("%s: %q is not a number", key, v)
	}
	return f, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, apperr.Configuration("%s: %q is not a duration", key, v)
	}
	return d, nil
}
