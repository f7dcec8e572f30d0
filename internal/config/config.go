package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the genrelay server.
type Config struct {
	// Provider selects the generation backend: "deevid" or "mock".
	Provider   string
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Jobs       JobsConfig
	Deevid     DeevidConfig
	ElevenLabs ElevenLabsConfig
	Artifacts  ArtifactConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	LogLevel        string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectRetries  int
	ConnectWait     time.Duration
	MigrationsDir   string
}

// RedisConfig points at the cache. The server needs Redis 7 or newer.
type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	AdminAPIKey string
	// SealKey encrypts credential secrets at rest.
	SealKey [32]byte
}

// PollBudget bounds the status loop for one job kind.
type PollBudget struct {
	Interval      time.Duration
	MaxIterations int
}

type JobsConfig struct {
	MaxConcurrent int
	ImagePoll     PollBudget
	VideoPoll     PollBudget
}

type DeevidConfig struct {
	AuthURL string
	APIURL  string
	AnonKey string
	Timeout time.Duration
}

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type ArtifactConfig struct {
	Dir     string
	BaseURL string
}

const minAdminKeyLen = 16

var validProviders = map[string]bool{
	"deevid": true,
	"mock":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from the environment and returns a validated Config.
// Values from .env / .env.local are applied first without overriding variables
// already set, and GENRELAY_CONFIG may point at an additional config file.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("GENRELAY_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt(v, "GENRELAY_PORT", 8080),
			Env:             v.GetString("GENRELAY_ENV"),
			LogLevel:        strings.ToLower(v.GetString("LOG_LEVEL")),
			RateLimitPerMin: envInt(v, "RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    envInt(v, "DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt(v, "DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration(v, "DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectRetries:  envInt(v, "DATABASE_CONNECT_RETRIES", 3),
			ConnectWait:     envDuration(v, "DATABASE_CONNECT_WAIT", 10*time.Second),
			MigrationsDir:   v.GetString("MIGRATIONS_DIR"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Auth: AuthConfig{
			AdminAPIKey: v.GetString("ADMIN_API_KEY"),
		},
		Jobs: JobsConfig{
			MaxConcurrent: envInt(v, "MAX_CONCURRENT_JOBS", 10),
			ImagePoll: PollBudget{
				Interval:      envDuration(v, "IMAGE_POLL_INTERVAL", 2*time.Second),
				MaxIterations: envInt(v, "IMAGE_POLL_ITERATIONS", 300),
			},
			VideoPoll: PollBudget{
				Interval:      envDuration(v, "VIDEO_POLL_INTERVAL", 5*time.Second),
				MaxIterations: envInt(v, "VIDEO_POLL_ITERATIONS", 120),
			},
		},
		Deevid: DeevidConfig{
			AuthURL: v.GetString("DEEVID_AUTH_URL"),
			APIURL:  v.GetString("DEEVID_API_URL"),
			AnonKey: v.GetString("DEEVID_ANON_KEY"),
			Timeout: envDuration(v, "DEEVID_TIMEOUT", 30*time.Second),
		},
		ElevenLabs: ElevenLabsConfig{
			APIKey:  v.GetString("ELEVENLABS_API_KEY"),
			BaseURL: v.GetString("ELEVENLABS_BASE_URL"),
			Timeout: envDuration(v, "ELEVENLABS_TIMEOUT", 60*time.Second),
		},
		Artifacts: ArtifactConfig{
			Dir:     v.GetString("ARTIFACT_DIR"),
			BaseURL: strings.TrimRight(v.GetString("ARTIFACT_BASE_URL"), "/"),
		},
		Provider: strings.ToLower(v.GetString("GENERATION_PROVIDER")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	key, err := parseSealKey(v.GetString("CREDENTIAL_SEAL_KEY"))
	if err != nil {
		return nil, err
	}
	cfg.Auth.SealKey = key

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("GENERATION_PROVIDER", "deevid")
	v.SetDefault("GENRELAY_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("DEEVID_AUTH_URL", "https://sp.deevid.ai/auth/v1")
	v.SetDefault("DEEVID_API_URL", "https://api.deevid.ai")
	v.SetDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1")
	v.SetDefault("ARTIFACT_DIR", "./artifacts")
	v.SetDefault("ARTIFACT_BASE_URL", "http://localhost:8080/artifacts")
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Auth.AdminAPIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required")
	}
	if len(c.Auth.AdminAPIKey) < minAdminKeyLen {
		return fmt.Errorf("ADMIN_API_KEY must be at least %d characters", minAdminKeyLen)
	}

	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Jobs.ImagePoll.MaxIterations <= 0 || c.Jobs.VideoPoll.MaxIterations <= 0 {
		return fmt.Errorf("poll iteration budgets must be positive")
	}

	if !validProviders[c.Provider] {
		return fmt.Errorf("GENERATION_PROVIDER must be one of deevid, mock; got %q", c.Provider)
	}
	if c.Provider == "deevid" && c.Deevid.AnonKey == "" {
		return fmt.Errorf("DEEVID_ANON_KEY is required")
	}
	for name, u := range map[string]string{
		"DEEVID_AUTH_URL":     c.Deevid.AuthURL,
		"DEEVID_API_URL":      c.Deevid.APIURL,
		"ELEVENLABS_BASE_URL": c.ElevenLabs.BaseURL,
	} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}

	return nil
}

// parseSealKey accepts a 32-byte key encoded as hex or standard base64.
func parseSealKey(raw string) ([32]byte, error) {
	var key [32]byte
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return key, fmt.Errorf("CREDENTIAL_SEAL_KEY is required")
	}

	decoded, err := hex.DecodeString(raw)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(raw)
	}
	if err != nil || len(decoded) != len(key) {
		return key, fmt.Errorf("CREDENTIAL_SEAL_KEY must encode exactly 32 bytes as hex or base64")
	}
	copy(key[:], decoded)
	return key, nil
}

func envInt(v *viper.Viper, key string, defaultVal int) int {
	s := v.GetString(key)
	if s == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	s := v.GetString(key)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
