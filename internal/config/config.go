// Package config loads caskr settings from CASKR_* environment variables.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/caskr/internal/platform"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "CASKR_"

type Config struct {
	// Prefix is the install root; binaries go to Prefix/bin.
	Prefix     string        `env:"PREFIX"`
	CacheDir   string        `env:"CACHE_DIR"`
	StateDir   string        `env:"STATE_DIR"`
	Retries    int           `env:"RETRIES,default=3"`
	Timeout    time.Duration `env:"TIMEOUT,default=5m"`
	GitHubAPI  string        `env:"GITHUB_API,default=https://api.github.com"`
	NoProgress bool          `env:"NO_PROGRESS,default=false"`
	Log        *Log          `env:",prefix=LOG_"`
}

type Log struct {
	Format string `env:"FORMAT,default=console"`
	Level  string `env:"LEVEL,default=info"`
}

func (cfg *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("prefix", cfg.Prefix)
	enc.AddString("cache_dir", cfg.CacheDir)
	enc.AddString("state_dir", cfg.StateDir)
	enc.AddInt("retries", cfg.Retries)
	enc.AddDuration("timeout", cfg.Timeout)
	return nil
}

// BinDir returns the directory binaries are installed into.
func (cfg *Config) BinDir() string {
	return filepath.Join(cfg.Prefix, "bin")
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration from l, which is consulted with
// EnvPrefix already applied.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &cfg, envconfig.PrefixLookuper(EnvPrefix, l)); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.Retries < 0 {
		return nil, fmt.Errorf("load config: %sRETRIES must not be negative", EnvPrefix)
	}

	return &cfg, nil
}

// ApplyDefaults fills unset directories from the platform and home
// directory. Lookups of XDG_CACHE_HOME and XDG_STATE_HOME go through getenv.
func (cfg *Config) ApplyDefaults(info *platform.Info, home string, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix(info)
	}

	if cfg.CacheDir == "" {
		if xdg := getenv("XDG_CACHE_HOME"); xdg != "" {
			cfg.CacheDir = filepath.Join(xdg, "caskr")
		} else {
			cfg.CacheDir = filepath.Join(home, ".cache", "caskr")
		}
	}

	if cfg.StateDir == "" {
		if xdg := getenv("XDG_STATE_HOME"); xdg != "" {
			cfg.StateDir = filepath.Join(xdg, "caskr")
		} else {
			cfg.StateDir = filepath.Join(home, ".local", "state", "caskr")
		}
	}
}

// DefaultPrefix mirrors Homebrew: /opt/homebrew on Apple Silicon and
// /usr/local everywhere else.
func DefaultPrefix(info *platform.Info) string {
	if info != nil && info.IsAppleSilicon() {
		return "/opt/homebrew"
	}
	return "/usr/local"
}
