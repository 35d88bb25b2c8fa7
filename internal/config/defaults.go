package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/kahani/
//   - Linux:   $XDG_DATA_HOME/kahani/ or ~/.local/share/kahani/
//   - Windows: %APPDATA%\kahani\
//
// Falls back to ~/.kahani when the platform is not recognised.
func PlatformDataDir() string {
	home, _ := os.UserHomeDir()

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "kahani")
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "kahani")
		}
		return filepath.Join(home, ".local", "share", "kahani")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "kahani")
		}
	}
	return filepath.Join(home, ".kahani")
}

// PlatformConfigDir returns the platform-specific config directory.
// macOS and Windows keep config next to data.
func PlatformConfigDir() string {
	if envDir := os.Getenv("KAHANI_CONFIG_DIR"); envDir != "" {
		return envDir
	}
	if runtime.GOOS != "linux" {
		return DataDir()
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kahani")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "kahani")
}

// PlatformRuntimeDir returns a per-user directory for lock files.
func PlatformRuntimeDir() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "kahani")
	}
	return filepath.Join(os.TempDir(), "kahani-"+userName())
}

func userName() string {
	for _, key := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "default"
}

// SupportedConfigFormats returns the config file extensions Load understands.
func SupportedConfigFormats() []string {
	return []string{".toml", ".json", ".yaml", ".yml"}
}

// FindConfigFile returns the first existing config file in the config dir,
// or the default TOML path when none exists.
func FindConfigFile() string {
	dir := PlatformConfigDir()
	for _, ext := range SupportedConfigFormats() {
		path := filepath.Join(dir, "config"+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ConfigPath()
}
