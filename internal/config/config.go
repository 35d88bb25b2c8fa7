// Package config handles configuration loading, validation, and management for kahani.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"kahani/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete application configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Transliteration configures the remote suggestion service.
	Transliteration TransliterationConfig `toml:"transliteration" json:"transliteration" yaml:"transliteration"`

	// Editor configures the input surfaces and autosave.
	Editor EditorConfig `toml:"editor" json:"editor" yaml:"editor"`

	// Storage configures the story store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Identity names the local writer.
	Identity IdentityConfig `toml:"identity" json:"identity" yaml:"identity"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// TransliterationConfig holds suggestion service settings.
type TransliterationConfig struct {
	// Enabled is the initial state of the transliteration switch.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Endpoint is the suggestion service URL.
	Endpoint string `toml:"endpoint" json:"endpoint" yaml:"endpoint"`

	// InputTool is the target-script code, e.g. "hi-t-i0-und" for Hindi.
	InputTool string `toml:"input_tool" json:"input_tool" yaml:"input_tool"`

	// App is the client name reported to the service.
	App string `toml:"app" json:"app" yaml:"app"`

	// NumSuggestions is the number of candidates requested per word.
	NumSuggestions int `toml:"num_suggestions" json:"num_suggestions" yaml:"num_suggestions"`

	// TimeoutMs bounds a single request.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// BreakerMaxFailures opens the circuit after this many consecutive failures.
	BreakerMaxFailures int `toml:"breaker_max_failures" json:"breaker_max_failures" yaml:"breaker_max_failures"`

	// BreakerResetSec is how long the circuit stays open.
	BreakerResetSec int `toml:"breaker_reset_sec" json:"breaker_reset_sec" yaml:"breaker_reset_sec"`
}

// EditorConfig holds input surface and autosave settings.
type EditorConfig struct {
	// SaveDebounceMs is the idle period before a pending edit is written.
	SaveDebounceMs int `toml:"save_debounce_ms" json:"save_debounce_ms" yaml:"save_debounce_ms"`

	// FlushOnClose writes pending edits when an editor session closes.
	FlushOnClose bool `toml:"flush_on_close" json:"flush_on_close" yaml:"flush_on_close"`

	// SupersedePolicy decides what happens to a pending word when the user
	// keeps typing before its transliteration arrives: "fallback" (default) or "discard".
	SupersedePolicy string `toml:"supersede_policy" json:"supersede_policy" yaml:"supersede_policy"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", "both" or "discard".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file (when Output includes a file).
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IdentityConfig names the owner of the stories written on this machine.
type IdentityConfig struct {
	// UserID is the opaque owner id. Empty means the OS user name.
	UserID string `toml:"user_id" json:"user_id" yaml:"user_id"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Transliteration: TransliterationConfig{
			Enabled:            true,
			Endpoint:           "https://inputtools.google.com/request",
			InputTool:          "hi-t-i0-und",
			App:                "kahani",
			NumSuggestions:     5,
			TimeoutMs:          3000,
			BreakerMaxFailures: 5,
			BreakerResetSec:    30,
		},
		Editor: EditorConfig{
			SaveDebounceMs:  1000,
			FlushOnClose:    true,
			SupersedePolicy: "fallback",
		},
		Storage: StorageConfig{
			Path:          filepath.Join(dir, "stories.db"),
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "kahani.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from path. A missing file yields defaults.
// The format follows the file extension: .toml, .json, .yaml/.yml.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in the format implied by its extension.
func SaveConfig(cfg *Config, path string) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the store and log file live in.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{filepath.Dir(c.Storage.Path), filepath.Dir(c.Logging.FilePath)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DataDir returns the base data directory, honouring KAHANI_DATA_DIR.
func DataDir() string {
	if envDir := os.Getenv("KAHANI_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies KAHANI_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("KAHANI_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("KAHANI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KAHANI_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("KAHANI_TRANSLITERATE_ENDPOINT"); v != "" {
		c.Transliteration.Endpoint = v
	}
	if v := os.Getenv("KAHANI_INPUT_TOOL"); v != "" {
		c.Transliteration.InputTool = v
	}
	if v := os.Getenv("KAHANI_TRANSLITERATE"); v != "" {
		switch strings.ToLower(v) {
		case "0", "false", "off", "no":
			c.Transliteration.Enabled = false
		case "1", "true", "on", "yes":
			c.Transliteration.Enabled = true
		}
	}
	if v := os.Getenv("KAHANI_USER_ID"); v != "" {
		c.Identity.UserID = v
	}
}

// Clone returns a copy of the configuration safe to hand to another goroutine.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:         c.Version,
		Transliteration: c.Transliteration,
		Editor:          c.Editor,
		Storage:         c.Storage,
		Logging:         c.Logging,
		Identity:        c.Identity,
	}
}

// SaveDebounce returns the autosave idle period.
func (c *Config) SaveDebounce() time.Duration {
	return time.Duration(c.Editor.SaveDebounceMs) * time.Millisecond
}

// RequestTimeout returns the per-request transliteration timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Transliteration.TimeoutMs) * time.Millisecond
}

// LoggingOptions converts the logging section into a logging.Config.
func (c *Config) LoggingOptions() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAge = c.Logging.MaxAgeDays
	lc.Compress = c.Logging.Compress
	return lc, nil
}
