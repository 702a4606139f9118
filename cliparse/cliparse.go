// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces every environment variable read by Load
const EnvPrefix = "PKARENA_"

type Config struct {
	Port         int    `koanf:"port"`
	DatabaseURL  string `koanf:"database_url"`
	DatabaseType string `koanf:"database_type"`
	LogLevel     string `koanf:"log_level"`

	// Secrets (prefer env variables, but allow CLI for dev)
	JWTSecret  string `koanf:"jwt_secret"`
	IPHashSalt string `koanf:"ip_hash_salt"`

	AccessTokenTTL     time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `koanf:"refresh_token_ttl"`
	RememberMeTTL      time.Duration `koanf:"remember_me_ttl"`
	LockTTL            time.Duration `koanf:"lock_ttl"`
	LockSweepInterval  time.Duration `koanf:"lock_sweep_interval"`
	ActiveJudgeWindow  time.Duration `koanf:"active_judge_window"`
	DefaultJudgeLimit  int           `koanf:"default_judge_limit"`
	DefaultTeamMembers int           `koanf:"default_team_members"`

	// Registration for privileged roles requires these codes; empty disables the role
	JudgeInviteCode string `koanf:"judge_invite_code"`
	AdminInviteCode string `koanf:"admin_invite_code"`

	UploadDir      string   `koanf:"upload_dir"`
	MaxUploadBytes int64    `koanf:"max_upload_bytes"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Defaults returns the configuration used when nothing else is set
func Defaults() Config {
	return Config{
		Port:               3001,
		DatabaseURL:        "file:pkarena.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		DatabaseType:       "sqlite",
		LogLevel:           "info",
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    7 * 24 * time.Hour,
		RememberMeTTL:      30 * 24 * time.Hour,
		LockTTL:            10 * time.Minute,
		LockSweepInterval:  30 * time.Second,
		ActiveJudgeWindow:  15 * time.Minute,
		DefaultJudgeLimit:  5,
		DefaultTeamMembers: 5,
		UploadDir:          "uploads",
		MaxUploadBytes:     10 << 20,
	}
}

// ParseFlags builds a Config by layering, lowest precedence first:
//  1. Defaults()
//  2. YAML file from -c or PKARENA_CONFIG
//  3. PORT / DATABASE_URL, then PKARENA_* environment variables
//  4. CLI flags
func ParseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("pk-arena", flag.ContinueOnError)

	var (
		configPath   string
		port         int
		databaseURL  string
		databaseType string
		logLevel     string
		jwtSecret    string
		ipSalt       string
	)
	fs.StringVar(&configPath, "c", "", "Path to YAML config file")
	fs.IntVar(&port, "p", 0, "Server port")
	fs.StringVar(&databaseURL, "d", "", "Database URL")
	fs.StringVar(&databaseType, "t", "", "Database type (sqlite or postgres)")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&jwtSecret, "jwt-secret", "", "JWT signing secret (prefer env)")
	fs.StringVar(&ipSalt, "ip-salt", "", "IP hash salt (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "CONFIG")
	}

	cfg, err := load(configPath)
	if err != nil {
		return Config{}, err
	}

	// Only flags that were actually passed override lower layers
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "p":
			cfg.Port = port
		case "d":
			cfg.DatabaseURL = databaseURL
		case "t":
			cfg.DatabaseType = databaseType
		case "log-level":
			cfg.LogLevel = logLevel
		case "jwt-secret":
			cfg.JWTSecret = jwtSecret
		case "ip-salt":
			cfg.IPHashSalt = ipSalt
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func load(configPath string) (Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Unprefixed names kept for platforms that inject them (PaaS, docker-compose)
	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, errors.New("invalid PORT env variable")
		}
		if err := k.Set("port", port); err != nil {
			return Config{}, err
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if err := k.Set("database_url", dbURL); err != nil {
			return Config{}, err
		}
	}

	// PKARENA_LOCK_TTL -> lock_ttl; comma-separated values become lists
	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		if key == "allowed_origins" {
			return key, strings.Split(value, ",")
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("failed to load env config: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks required settings and value ranges
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DatabaseURL == "" {
		return errors.New("database URL required (use -d or DATABASE_URL env)")
	}
	if c.DatabaseType != "sqlite" && c.DatabaseType != "postgres" {
		return fmt.Errorf("database type must be sqlite or postgres, got %q", c.DatabaseType)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	// Secrets - MUST be provided
	if c.JWTSecret == "" {
		return errors.New(EnvPrefix + "JWT_SECRET required")
	}
	if c.IPHashSalt == "" {
		return errors.New(EnvPrefix + "IP_HASH_SALT required")
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.RememberMeTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.LockTTL <= 0 {
		return errors.New("lock_ttl must be positive")
	}
	if c.LockSweepInterval <= 0 {
		return errors.New("lock_sweep_interval must be positive")
	}
	if c.DefaultJudgeLimit < 1 {
		return errors.New("default_judge_limit must be at least 1")
	}
	if c.DefaultTeamMembers < 1 {
		return errors.New("default_team_members must be at least 1")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	return nil
}

// ParseLogLevel accepts debug, info, warn/warning, error (case-insensitive)
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}
