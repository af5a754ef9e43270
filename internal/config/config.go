// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/grabarbiter/internal/arbiter"
	"github.com/bnema/grabarbiter/internal/touch"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that override the file,
// e.g. GRABARBITER_ENGINE_POINTER_EMULATION.
const EnvPrefix = "GRABARBITER"

// Config represents the application configuration
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Logging LoggingConfig `mapstructure:"logging"`
	Trace   TraceConfig   `mapstructure:"trace"`
	Replay  ReplayConfig  `mapstructure:"replay"`
}

// EngineConfig tunes the arbiter.
type EngineConfig struct {
	PointerEmulation bool `mapstructure:"pointer_emulation"`
	TouchHistorySize int  `mapstructure:"touch_history_size"`
	InitialSlots     int  `mapstructure:"initial_touch_slots"`
	MaxResources     int  `mapstructure:"max_resources"` // 0 means unlimited
	XI2MinorVersion  int  `mapstructure:"xi2_minor_version"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

// TraceConfig controls recording of delivered events.
type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ReplayConfig controls the scenario runner.
type ReplayConfig struct {
	Interactive   bool `mapstructure:"interactive"`
	StopOnFailure bool `mapstructure:"stop_on_failure"`
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Engine: EngineConfig{
			PointerEmulation: true,
			TouchHistorySize: 100,
			InitialSlots:     5,
			MaxResources:     0,
			XI2MinorVersion:  4,
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
		Trace: TraceConfig{
			Enabled: false,
			Path:    "grabarbiter.trace",
		},
		Replay: ReplayConfig{
			Interactive:   false,
			StopOnFailure: true,
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	// A missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}

	viper.SetConfigName("grabarbiter")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath("/etc/grabarbiter")

		// If running with sudo, try the real user's config
		if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
			viper.AddConfigPath(fmt.Sprintf("/home/%s/.config/grabarbiter", sudoUser))
		} else if home := os.Getenv("HOME"); home != "" && home != "/root" {
			viper.AddConfigPath(filepath.Join(home, ".config", "grabarbiter"))
		}

		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("engine.pointer_emulation", DefaultConfig.Engine.PointerEmulation)
	viper.SetDefault("engine.touch_history_size", DefaultConfig.Engine.TouchHistorySize)
	viper.SetDefault("engine.initial_touch_slots", DefaultConfig.Engine.InitialSlots)
	viper.SetDefault("engine.max_resources", DefaultConfig.Engine.MaxResources)
	viper.SetDefault("engine.xi2_minor_version", DefaultConfig.Engine.XI2MinorVersion)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	viper.SetDefault("trace.enabled", DefaultConfig.Trace.Enabled)
	viper.SetDefault("trace.path", DefaultConfig.Trace.Path)

	viper.SetDefault("replay.interactive", DefaultConfig.Replay.Interactive)
	viper.SetDefault("replay.stop_on_failure", DefaultConfig.Replay.StopOnFailure)

	if err := viper.ReadInConfig(); err != nil {
		// An explicit path may name a file config init has yet to write
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case e.TouchHistorySize <= 0:
		return fmt.Errorf("engine.touch_history_size must be positive, got %d", e.TouchHistorySize)
	case e.InitialSlots <= 0:
		return fmt.Errorf("engine.initial_touch_slots must be positive, got %d", e.InitialSlots)
	case e.MaxResources < 0:
		return fmt.Errorf("engine.max_resources must not be negative, got %d", e.MaxResources)
	case e.XI2MinorVersion < 0 || e.XI2MinorVersion > 4:
		return fmt.Errorf("engine.xi2_minor_version must be between 0 and 4, got %d", e.XI2MinorVersion)
	case c.Trace.Enabled && c.Trace.Path == "":
		return errors.New("trace.path is required when tracing is enabled")
	}
	return nil
}

// Options returns the arbiter options the engine section describes.
func (e EngineConfig) Options() arbiter.Options {
	opts := arbiter.DefaultOptions()
	opts.Touch = touch.Options{
		PointerEmulation: e.PointerEmulation,
		HistorySize:      e.TouchHistorySize,
		InitialSlots:     e.InitialSlots,
	}
	opts.MaxResources = e.MaxResources
	opts.XI2Minor = uint16(e.XI2MinorVersion)
	return opts
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save writes the current configuration to the config file.
func Save() error {
	return SaveTo(GetConfigPath())
}

// SaveTo writes the current configuration to path.
func SaveTo(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	c := Get()
	v := viper.New()
	v.Set("engine", map[string]any{
		"pointer_emulation":   c.Engine.PointerEmulation,
		"touch_history_size":  c.Engine.TouchHistorySize,
		"initial_touch_slots": c.Engine.InitialSlots,
		"max_resources":       c.Engine.MaxResources,
		"xi2_minor_version":   c.Engine.XI2MinorVersion,
	})
	v.Set("logging", map[string]any{
		"log_level": c.Logging.LogLevel,
	})
	v.Set("trace", map[string]any{
		"enabled": c.Trace.Enabled,
		"path":    c.Trace.Path,
	})
	v.Set("replay", map[string]any{
		"interactive":     c.Replay.Interactive,
		"stop_on_failure": c.Replay.StopOnFailure,
	})

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	// For sudo, prefer system config
	if os.Getuid() == 0 || os.Getenv("SUDO_USER") != "" {
		return "/etc/grabarbiter/grabarbiter.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/grabarbiter/grabarbiter.toml"
	}
	return filepath.Join(home, ".config", "grabarbiter", "grabarbiter.toml")
}
