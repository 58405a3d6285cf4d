package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/stolot0mt0m/genspark-sync-lite/internal/logging"
)

const (
	// StateFileName is the bbolt database kept inside the sync root.
	StateFileName = ".genspark_sync.db"

	// LegacyStateFileName is the flat JSON state written by older releases.
	LegacyStateFileName = ".genspark_sync_state.json"

	// maxRemoteDepth caps how many folder levels below the remote root are
	// listed per cycle. Each level costs one list call per folder.
	maxRemoteDepth = 8
)

// Config holds all environment-based configuration for genspark-sync.
type Config struct {
	// Local directory mirrored to AI Drive. Required.
	SyncDir string `env:"GENSPARK_SYNC_DIR"`

	// Session cookie copied from a signed-in browser. Required.
	Cookie string `env:"GENSPARK_COOKIE"`

	BaseURL string `env:"GENSPARK_BASE_URL" envDefault:"https://www.genspark.ai"`

	// Strategy for ambiguous and conflicting paths: local, remote or ask.
	Strategy string `env:"GENSPARK_STRATEGY" envDefault:"local"`

	PollInterval time.Duration `env:"GENSPARK_POLL_INTERVAL" envDefault:"30s"`

	// GraceWindow is how long a finished download keeps suppressing
	// watcher events for its path.
	GraceWindow time.Duration `env:"GENSPARK_GRACE_WINDOW" envDefault:"3s"`

	Debounce time.Duration `env:"GENSPARK_DEBOUNCE" envDefault:"2s"`

	// RemoteDepth is the number of folder levels listed below the remote root.
	RemoteDepth int `env:"GENSPARK_REMOTE_DEPTH" envDefault:"1"`

	// Extra gitignore-style patterns, comma separated.
	Ignore []string `env:"GENSPARK_IGNORE" envSeparator:","`

	// Watch enables the filesystem notifier alongside the poller.
	Watch bool `env:"GENSPARK_WATCH" envDefault:"true"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogLevel overrides the environment's default level when set.
	LogLevel string `env:"GENSPARK_LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. The session cookie grants full drive
// access, so group or world readable files are worth flagging.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Vault.resolve relies on string prefix checks, which only hold for
	// absolute roots.
	absDir, err := filepath.Abs(cfg.SyncDir)
	if err != nil {
		return nil, fmt.Errorf("resolving sync dir to absolute path: %w", err)
	}

	cfg.SyncDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SyncDir == "" {
		return fmt.Errorf("GENSPARK_SYNC_DIR is required")
	}

	if c.Cookie == "" {
		return fmt.Errorf("GENSPARK_COOKIE is required")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("GENSPARK_BASE_URL must be an absolute URL, got %q", c.BaseURL)
	}

	switch c.Strategy {
	case "local", "remote", "ask":
	default:
		return fmt.Errorf("GENSPARK_STRATEGY must be one of local, remote, ask; got %q", c.Strategy)
	}

	if c.PollInterval < time.Second {
		return fmt.Errorf("GENSPARK_POLL_INTERVAL must be at least 1s, got %s", c.PollInterval)
	}

	if c.GraceWindow < 0 {
		return fmt.Errorf("GENSPARK_GRACE_WINDOW must not be negative")
	}

	if c.Debounce <= 0 {
		return fmt.Errorf("GENSPARK_DEBOUNCE must be positive")
	}

	if c.RemoteDepth < 0 || c.RemoteDepth > maxRemoteDepth {
		return fmt.Errorf("GENSPARK_REMOTE_DEPTH must be between 0 and %d, got %d", maxRemoteDepth, c.RemoteDepth)
	}

	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("GENSPARK_LOG_LEVEL: %w", err)
		}
	}

	return nil
}

// StatePath returns the location of the bbolt state database.
func (c *Config) StatePath() string {
	return filepath.Join(c.SyncDir, StateFileName)
}

// LegacyStatePath returns the location of the pre-bbolt JSON state file.
func (c *Config) LegacyStatePath() string {
	return filepath.Join(c.SyncDir, LegacyStateFileName)
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
