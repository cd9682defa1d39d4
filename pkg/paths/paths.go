// Package paths resolves per-user locations used by scanpilot.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigFileName is the name of the user configuration file.
const ConfigFileName = "config.yaml"

// ConfigDir returns the config directory for scanpilot.
// Order: XDG_CONFIG_HOME/scanpilot, platform-specific fallback.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "scanpilot")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("AppData"); appData != "" {
			return filepath.Join(appData, "scanpilot")
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "scanpilot")
}

// DefaultConfigFile returns the config file read when --config is not given.
// The file does not have to exist.
func DefaultConfigFile() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}
