package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	apperrors "github.com/alexjbarnes/folder-mirror/internal/errors"
	"github.com/alexjbarnes/folder-mirror/internal/remote"
	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Confirmation policies for AwaitConfirmation decisions.
const (
	ConfirmPrompt = "prompt"
	ConfirmDeny   = "deny"
	ConfirmAllow  = "allow"
)

// Config holds all environment-based configuration for folder-mirror.
type Config struct {
	// MappingFile lists local=remote pairs, one per line (or YAML).
	MappingFile string `env:"MAPPING_FILE" envDefault:"folders.conf"`

	// StatePath is the bbolt database holding the remote inventory cache.
	// Defaults to ~/.folder-mirror/state.db.
	StatePath string `env:"STATE_PATH"`

	// Per-folder log files are written here and trimmed to LogMaxSize.
	LogDir     string `env:"LOG_DIR" envDefault:"mirror_logs"`
	LogMaxSize string `env:"LOG_MAX_SIZE" envDefault:"10MB"`

	// DeleteThreshold is the deletion fraction above which a sync needs
	// confirmation.
	DeleteThreshold float64 `env:"DELETE_THRESHOLD" envDefault:"0.2"`

	// Debounce is the flat quiet period after the first change event.
	Debounce        time.Duration `env:"DEBOUNCE" envDefault:"5s"`
	WatchRetryDelay time.Duration `env:"WATCH_RETRY_DELAY" envDefault:"10s"`

	// ConfirmPolicy is one of prompt, deny or allow.
	ConfirmPolicy string `env:"CONFIRM_POLICY" envDefault:"prompt"`

	// ShutdownTimeout bounds how long shutdown waits for in-flight syncs.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10m"`

	// Transfer retry and per-operation timeout.
	SyncRetries int           `env:"SYNC_RETRIES" envDefault:"10"`
	SyncTimeout time.Duration `env:"SYNC_TIMEOUT" envDefault:"30s"`

	RclonePath string `env:"RCLONE_PATH" envDefault:"rclone"`

	// S3-compatible endpoint settings for s3:// targets.
	S3Endpoint  string `env:"S3_ENDPOINT" envDefault:"s3.amazonaws.com"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3Region    string `env:"S3_REGION"`
	S3Insecure  bool   `env:"S3_INSECURE" envDefault:"false"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	logMaxBytes int64
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. The file may carry S3 credentials.
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
		return nil, fmt.Errorf("%w: parsing config: %w", apperrors.ErrConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: validating config: %w", apperrors.ErrConfig, err)
	}

	if cfg.LogDir != "" {
		absDir, err := filepath.Abs(cfg.LogDir)
		if err != nil {
			return nil, fmt.Errorf("resolving log dir to absolute path: %w", err)
		}

		cfg.LogDir = absDir
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MappingFile == "" {
		return fmt.Errorf("MAPPING_FILE must not be empty")
	}

	if c.DeleteThreshold < 0 || c.DeleteThreshold > 1 {
		return fmt.Errorf("DELETE_THRESHOLD must be between 0 and 1, got %v", c.DeleteThreshold)
	}

	if c.Debounce < 0 {
		return fmt.Errorf("DEBOUNCE must not be negative")
	}

	if c.WatchRetryDelay <= 0 {
		return fmt.Errorf("WATCH_RETRY_DELAY must be positive")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}

	if c.SyncRetries < 0 {
		return fmt.Errorf("SYNC_RETRIES must not be negative")
	}

	if c.SyncTimeout <= 0 {
		return fmt.Errorf("SYNC_TIMEOUT must be positive")
	}

	switch c.ConfirmPolicy {
	case ConfirmPrompt, ConfirmDeny, ConfirmAllow:
	default:
		return fmt.Errorf("CONFIRM_POLICY must be one of prompt, deny, allow; got %q", c.ConfirmPolicy)
	}

	n, err := humanize.ParseBytes(c.LogMaxSize)
	if err != nil {
		return fmt.Errorf("LOG_MAX_SIZE: %w", err)
	}

	c.logMaxBytes = int64(n)

	return nil
}

// LogMaxBytes returns LOG_MAX_SIZE in bytes.
func (c *Config) LogMaxBytes() int64 {
	return c.logMaxBytes
}

// S3Options returns the settings for s3:// targets.
func (c *Config) S3Options() remote.S3Options {
	return remote.S3Options{
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Region:    c.S3Region,
		Insecure:  c.S3Insecure,
	}
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
