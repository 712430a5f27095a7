// Package config loads feedstate settings from layered JSONC files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// Errors returned by [Load].
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrDatabaseEmpty      = errors.New("database cannot be empty")
	ErrLockTimeout        = errors.New("lock_timeout must be positive")
)

// FileName is the project config file looked up in the work dir.
const FileName = ".feedstate.json"

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("lock_timeout: %w", err)
	}

	*d = Duration(v)

	return nil
}

// Config holds all configuration options.
type Config struct {
	Database             string   `json:"database"`
	LockTimeout          Duration `json:"lock_timeout"`
	Compress             bool     `json:"compress"`
	ValidateFirstRowOnly bool     `json:"validate_first_row_only"`

	// Resolved, not serialized.
	EffectiveCwd string  `json:"-"`
	DatabaseAbs  string  `json:"-"`
	Sources      Sources `json:"-"`
}

// Sources records which config files were loaded.
type Sources struct {
	Global  string
	Project string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:    "feedstate.db",
		LockTimeout: Duration(10 * time.Second),
	}
}

// fileConfig is one config file. Pointers tell unset keys from zero values.
type fileConfig struct {
	Database             *string   `json:"database"`
	LockTimeout          *Duration `json:"lock_timeout"`
	Compress             *bool     `json:"compress"`
	ValidateFirstRowOnly *bool     `json:"validate_first_row_only"`
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride  string // -C flag; os.Getwd() when empty
	ConfigPath       string // -c flag
	DatabaseOverride string // --db flag
	Env              map[string]string
}

// Load resolves the configuration. Later layers win:
//
//  1. [Default]
//  2. $XDG_CONFIG_HOME/feedstate/config.json or ~/.config/feedstate/config.json
//  3. .feedstate.json in the work dir, or the explicit -c file which must exist
//  4. flags
//
// The database path is resolved against the work dir.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		fc, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, fc)
			cfg.Sources.Global = path
		}
	}

	projectFile, mustExist := filepath.Join(workDir, FileName), false

	if input.ConfigPath != "" {
		projectFile, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectFile) {
			projectFile = filepath.Join(workDir, projectFile)
		}

		if _, err := os.Stat(projectFile); err != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, input.ConfigPath)
		}
	}

	fc, loaded, err := loadFile(projectFile, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, fc)
		cfg.Sources.Project = projectFile
	}

	if input.DatabaseOverride != "" {
		cfg.Database = input.DatabaseOverride
	}

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	cfg.DatabaseAbs = cfg.Database
	if !filepath.IsAbs(cfg.DatabaseAbs) {
		cfg.DatabaseAbs = filepath.Join(workDir, cfg.Database)
	}

	return cfg, nil
}

// globalPath returns the global config file path, or "" when neither
// XDG_CONFIG_HOME nor HOME is set.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "feedstate", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "feedstate", "config.json")
	}

	return ""
}

func loadFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if mustExist {
			return fileConfig{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return fileConfig{}, false, nil
	}

	fc, err := parse(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	if fc.Database != nil && *fc.Database == "" {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, ErrDatabaseEmpty)
	}

	return fc, true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	err = json.Unmarshal(standardized, &fc)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}

func merge(base Config, overlay fileConfig) Config {
	if overlay.Database != nil {
		base.Database = *overlay.Database
	}

	if overlay.LockTimeout != nil {
		base.LockTimeout = *overlay.LockTimeout
	}

	if overlay.Compress != nil {
		base.Compress = *overlay.Compress
	}

	if overlay.ValidateFirstRowOnly != nil {
		base.ValidateFirstRowOnly = *overlay.ValidateFirstRowOnly
	}

	return base
}

func validate(cfg Config) error {
	if cfg.Database == "" {
		return ErrDatabaseEmpty
	}

	if cfg.LockTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrLockTimeout, time.Duration(cfg.LockTimeout))
	}

	return nil
}
