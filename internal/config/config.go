// Package config loads the imgcache CLI configuration from layered JSONC
// files and command-line overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/imagecache/internal/logging"
)

// FileName is the project config file looked up in the working directory.
const FileName = ".imgcache.json"

// Config holds all configuration options.
type Config struct {
	Dir          string `json:"dir"`
	DiskBudget   Size   `json:"disk_budget"`             //nolint:tagliatelle // snake_case for config file
	MemoryBudget Size   `json:"memory_budget,omitempty"` //nolint:tagliatelle // snake_case for config file
	AppVersion   int    `json:"app_version,omitempty"`   //nolint:tagliatelle // snake_case for config file
	LogLevel     string `json:"log_level,omitempty"`     //nolint:tagliatelle // snake_case for config file
	LogFormat    string `json:"log_format,omitempty"`    //nolint:tagliatelle // snake_case for config file
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// LoadOptions are the inputs to [Load].
type LoadOptions struct {
	// WorkDir resolves the project config and relative --config paths.
	WorkDir string

	// ConfigPath is an explicit config file. It must exist when set.
	ConfigPath string

	// Env is consulted for XDG_CONFIG_HOME before the process environment.
	Env []string

	// Overrides are applied last. Zero fields are ignored.
	Overrides Config
}

// Default returns the default configuration. The cache lives under the user
// cache directory when one is known, else in .imgcache under the working
// directory.
func Default() Config {
	dir := ".imgcache"
	if base, err := os.UserCacheDir(); err == nil {
		dir = filepath.Join(base, "imgcache")
	}

	return Config{
		Dir:        dir,
		DiskBudget: 64 << 20,
		AppVersion: 1,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Load resolves configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/imgcache/config.json or ~/.config/imgcache/config.json)
// 3. Project config file (.imgcache.json in WorkDir, if it exists)
// 4. Explicit config file via ConfigPath (replaces the project file)
// 5. Overrides.
func Load(opts LoadOptions) (Config, Sources, error) {
	cfg := Default()

	var sources Sources

	globalCfg, globalPath, err := loadGlobal(opts.Env)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProject(opts.WorkDir, opts.ConfigPath)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, opts.Overrides)

	if cfg.Dir != "" && !filepath.IsAbs(cfg.Dir) && opts.WorkDir != "" {
		cfg.Dir = filepath.Join(opts.WorkDir, cfg.Dir)
	}

	err = Validate(cfg)
	if err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

// globalPath returns the path to the global config file, or "" if no home
// directory can be determined.
func globalPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok && after != "" {
			return filepath.Join(after, "imgcache", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "imgcache", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "imgcache", "config.json")
	}

	return ""
}

func loadGlobal(env []string) (Config, string, error) {
	path := globalPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	path := filepath.Join(workDir, FileName)
	mustExist := false

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		_, statErr := os.Stat(path)
		if statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	}

	cfg, loaded, err := loadFile(path, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile reads one config file. A missing optional file is not an error.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes a JSONC config document. Comments and trailing commas are
// allowed. An explicit empty "dir" is rejected with [ErrDirEmpty].
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, exists := raw["dir"]; exists {
		if str, ok := val.(string); ok && str == "" {
			return Config{}, ErrDirEmpty
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Dir != "" {
		base.Dir = overlay.Dir
	}

	if overlay.DiskBudget != 0 {
		base.DiskBudget = overlay.DiskBudget
	}

	if overlay.MemoryBudget != 0 {
		base.MemoryBudget = overlay.MemoryBudget
	}

	if overlay.AppVersion != 0 {
		base.AppVersion = overlay.AppVersion
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}

	return base
}

// Validate checks a merged config.
func Validate(cfg Config) error {
	switch {
	case cfg.Dir == "":
		return fmt.Errorf("%w: %w", ErrConfigInvalid, ErrDirEmpty)
	case cfg.DiskBudget <= 0:
		return fmt.Errorf("%w: disk_budget must be positive, got %s", ErrConfigInvalid, cfg.DiskBudget)
	case cfg.MemoryBudget < 0:
		return fmt.Errorf("%w: memory_budget must not be negative, got %s", ErrConfigInvalid, cfg.MemoryBudget)
	case cfg.AppVersion < 1:
		return fmt.Errorf("%w: app_version must be >= 1, got %d", ErrConfigInvalid, cfg.AppVersion)
	case cfg.LogFormat != "text" && cfg.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrConfigInvalid, cfg.LogFormat)
	}

	_, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	return nil
}

// Format returns the config as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
