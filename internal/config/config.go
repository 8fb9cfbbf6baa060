// Package config loads the launcher's own process configuration. Plugins
// carry their configuration in their descriptors; this covers only the
// service process itself.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Config holds service process settings. Defaults are always usable
// without a file on disk.
type Config struct {
	LogLevel string `json:"log_level"`

	// PluginDirs overrides the layered plugin search path. Empty means
	// the standard user/system/distribution stack.
	PluginDirs []string `json:"plugin_dirs"`
}

// Load reads configuration from configPath, falling back to
// $POP_LAUNCHER_CONFIG and then the default location. A missing file yields
// defaults; environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
	}

	if configPath == "" {
		configPath = os.Getenv("POP_LAUNCHER_CONFIG")
		if configPath == "" {
			if home, err := os.UserHomeDir(); err == nil {
				configPath = filepath.Join(home, ".config", "pop-launcher", "config.json")
			}
		}
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if level := os.Getenv("POP_LAUNCHER_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if dirs := os.Getenv("POP_LAUNCHER_PLUGIN_DIRS"); dirs != "" {
		cfg.PluginDirs = strings.Split(dirs, string(os.PathListSeparator))
	}

	return cfg, nil
}
