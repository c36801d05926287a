// Package config reads the agent's settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is the runtime configuration of the sync agent.
type Config struct {
	ListenAddr string
	Debug      bool
	LogFormat  string
	Log        LogFile

	LocalDBPath   string
	LocalMaxPages int

	StorageConnectionString string
	TableServiceURL         string
	TokenFile               string
	StateTable              string

	RedisConnectionString string
	SnapshotCacheTTL      time.Duration
	IdempotencyTTL        time.Duration

	BackupDir      string
	BackupInterval time.Duration
	BackupKeep     int

	Auth0Domain   string
	Auth0Audience string
	LocalAuthMode string
	SharedSecret  string
	JWKSCacheTTL  time.Duration
}

// LogFile configures optional rotated file output.
type LogFile struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// RemoteEnabled reports whether remote sessions can be started.
func (c Config) RemoteEnabled() bool {
	if c.StateTable == "" || c.RedisConnectionString == "" {
		return false
	}
	return c.StorageConnectionString != "" || (c.TableServiceURL != "" && c.TokenFile != "")
}

// Issuer returns the expected token issuer for the Auth0 tenant.
func (c Config) Issuer() string {
	if c.Auth0Domain == "" {
		return ""
	}
	return "https://" + c.Auth0Domain + "/"
}

// JWKSURL returns the key set location of the Auth0 tenant.
func (c Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	c := Config{
		ListenAddr:              envOr("LISTEN_ADDR", "127.0.0.1:8080"),
		LogFormat:               strings.ToLower(os.Getenv("LOG_FORMAT")),
		LocalDBPath:             envOr("LOCAL_DB_PATH", "jello.db"),
		StorageConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		TableServiceURL:         os.Getenv("TABLE_SERVICE_URL"),
		TokenFile:               os.Getenv("TOKEN_FILE"),
		StateTable:              envOr("STATE_TABLE", "JelloState"),
		RedisConnectionString:   os.Getenv("REDIS_CONNECTION_STRING"),
		BackupDir:               os.Getenv("BACKUP_DIR"),
		Auth0Domain:             os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience:           os.Getenv("AUTH0_AUDIENCE"),
		Log:                     LogFile{Path: os.Getenv("LOG_FILE")},
	}

	var err error
	if c.Debug, err = boolEnv("DEBUG", false); err != nil {
		return c, err
	}
	if c.Log.Compress, err = boolEnv("LOG_COMPRESS", true); err != nil {
		return c, err
	}
	ints := []struct {
		name string
		def  int
		min  int
		dst  *int
	}{
		{"LOCAL_MAX_PAGES", 0, 0, &c.LocalMaxPages},
		{"BACKUP_KEEP", 30, 1, &c.BackupKeep},
		{"LOG_MAX_SIZE_MB", 10, 1, &c.Log.MaxSizeMB},
		{"LOG_MAX_BACKUPS", 5, 0, &c.Log.MaxBackups},
		{"LOG_MAX_AGE_DAYS", 28, 0, &c.Log.MaxAgeDays},
	}
	for _, v := range ints {
		if *v.dst, err = intEnv(v.name, v.def, v.min); err != nil {
			return c, err
		}
	}
	durations := []struct {
		name string
		def  time.Duration
		dst  *time.Duration
	}{
		{"SNAPSHOT_CACHE_TTL", 5 * time.Minute, &c.SnapshotCacheTTL},
		{"IDEMPOTENCY_TTL", 24 * time.Hour, &c.IdempotencyTTL},
		{"BACKUP_INTERVAL", 24 * time.Hour, &c.BackupInterval},
		{"JWKS_CACHE_TTL", 15 * time.Minute, &c.JWKSCacheTTL},
	}
	for _, v := range durations {
		if *v.dst, err = durationEnv(v.name, v.def); err != nil {
			return c, err
		}
	}

	if err := c.loadAuthMode(); err != nil {
		return c, err
	}
	return c, nil
}

// loadAuthMode accepts LOCAL_AUTH_MODE=hs256 with LOCAL_AUTH_SHARED_SECRET,
// or the older AUTH0_TEST_MODE=1 with TEST_JWT_SECRET.
func (c *Config) loadAuthMode() error {
	if mode := strings.ToLower(os.Getenv("LOCAL_AUTH_MODE")); mode != "" {
		if mode != "hs256" {
			return fmt.Errorf("unsupported LOCAL_AUTH_MODE %q", mode)
		}
		c.LocalAuthMode = mode
		c.SharedSecret = os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if c.SharedSecret == "" {
			return errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		return nil
	}
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		c.LocalAuthMode = "hs256"
		c.SharedSecret = os.Getenv("TEST_JWT_SECRET")
		if c.SharedSecret == "" {
			return errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
	}
	return nil
}

// RedisOptions parses REDIS_CONNECTION_STRING. Both redis:// URLs and the
// Azure style "host:port,password=...,ssl=true" are accepted.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("missing redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	if opts.Addr == "" {
		return nil, errors.New("invalid redis connection string")
	}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(v, "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func boolEnv(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func intEnv(name string, def, lo int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n < lo {
		return def, fmt.Errorf("invalid %s: must be at least %d", name, lo)
	}
	return n, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return def, fmt.Errorf("invalid %s: must be greater than zero", name)
	}
	return d, nil
}
