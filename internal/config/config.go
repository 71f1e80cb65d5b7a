// Package config handles toolkit configuration loading and parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default configuration values.
const (
	DefaultRepeatRate     = 25 // keys per second
	DefaultRepeatDelay    = 400 * time.Millisecond
	DefaultTooltipDelay   = 500 * time.Millisecond
	DefaultResizeThrottle = ThrottleFrame
	DefaultBackend        = BackendAuto
	DefaultResizePoolSize = 6 * 1024 * 1024
	DefaultCursorTheme    = "default"
	DefaultCursorSize     = 24
	DefaultLogLevel       = "info"
)

// Resize throttle modes.
const (
	// ThrottleFrame holds a pending resize until the main surface's frame callback fires.
	ThrottleFrame = "frame"
	// ThrottleRelaxed lets a resize redraw proceed while the compositor reports an
	// interactive resize, even with a frame callback outstanding.
	ThrottleRelaxed = "relaxed"
)

// Render backends.
const (
	BackendAuto     = "auto"
	BackendShm      = "shm"
	BackendHardware = "hardware"
)

// Config represents the toolkit configuration.
type Config struct {
	Keyboard KeyboardConfig `toml:"keyboard"`
	Tooltip  TooltipConfig  `toml:"tooltip"`
	Redraw   RedrawConfig   `toml:"redraw"`
	Render   RenderConfig   `toml:"render"`
	Cursor   CursorConfig   `toml:"cursor"`
	Log      LogConfig      `toml:"log"`
}

// KeyboardConfig holds key repeat overrides. Zero values defer to the compositor.
type KeyboardConfig struct {
	RepeatRate  int      `toml:"repeat_rate"`  // keys per second, negative disables repeat
	RepeatDelay Duration `toml:"repeat_delay"` // delay before the first repeat
}

// TooltipConfig holds tooltip settings.
type TooltipConfig struct {
	Delay Duration `toml:"delay"`
}

// RedrawConfig controls redraw and resize pacing.
type RedrawConfig struct {
	ResizeThrottle string   `toml:"resize_throttle"` // frame, relaxed
	FrameTimeout   Duration `toml:"frame_timeout"`   // 0 waits forever for frame callbacks
}

// RenderConfig selects the buffer backend.
type RenderConfig struct {
	Backend        string `toml:"backend"`          // auto, shm, hardware
	ResizePoolSize int    `toml:"resize_pool_size"` // bytes
	AutoScale      bool   `toml:"auto_scale"`       // follow the highest output scale
}

// CursorConfig holds the pointer theme. Empty values fall back to desktop settings.
type CursorConfig struct {
	Theme string `toml:"theme"`
	Size  int    `toml:"size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Duration is a time.Duration read from a TOML string such as "400ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Keyboard: KeyboardConfig{},
		Tooltip: TooltipConfig{
			Delay: Duration(DefaultTooltipDelay),
		},
		Redraw: RedrawConfig{
			ResizeThrottle: DefaultResizeThrottle,
		},
		Render: RenderConfig{
			Backend:        DefaultBackend,
			ResizePoolSize: DefaultResizePoolSize,
		},
		Cursor: CursorConfig{},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// ConfigPath returns the path to the config file.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func ConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "wltoy", "config.toml")
}

// LoadConfig loads configuration from the specified path.
// If path is empty, uses the default config path.
// Returns default config if file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects unknown enumerated values.
func (c *Config) Validate() error {
	switch c.Redraw.ResizeThrottle {
	case ThrottleFrame, ThrottleRelaxed:
	case "":
		c.Redraw.ResizeThrottle = DefaultResizeThrottle
	default:
		return fmt.Errorf("redraw.resize_throttle: unknown mode %q", c.Redraw.ResizeThrottle)
	}
	switch c.Render.Backend {
	case BackendAuto, BackendShm, BackendHardware:
	case "":
		c.Render.Backend = DefaultBackend
	default:
		return fmt.Errorf("render.backend: unknown backend %q", c.Render.Backend)
	}
	if c.Render.ResizePoolSize <= 0 {
		c.Render.ResizePoolSize = DefaultResizePoolSize
	}
	if c.Redraw.FrameTimeout < 0 {
		return errors.New("redraw.frame_timeout must not be negative")
	}
	return nil
}

// Save writes the configuration to the specified path.
// Creates parent directories if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
