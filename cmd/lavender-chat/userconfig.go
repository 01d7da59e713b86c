// ABOUTME: User preference loading for the lavender-chat terminal client
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// UserConfig holds terminal client preferences, kept separate from the
// application config so they can live in the user's XDG directory.
type UserConfig struct {
	UI     UIConfig     `toml:"ui"`
	Export ExportConfig `toml:"export"`
}

type UIConfig struct {
	Color         bool   `toml:"color"`
	Prompt        string `toml:"prompt"`
	ShowFollowups bool   `toml:"show_followups"`
	ShowSources   bool   `toml:"show_sources"`
}

type ExportConfig struct {
	Dir string `toml:"dir"`
}

func defaultUserConfig() *UserConfig {
	return &UserConfig{
		UI: UIConfig{
			Color:         true,
			Prompt:        "> ",
			ShowFollowups: true,
			ShowSources:   true,
		},
		Export: ExportConfig{Dir: "."},
	}
}

// userConfigPath returns the XDG path of the preferences file.
func userConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "lavender-chat", "config.toml")
}

// loadUserConfig reads preferences, expanding environment variables.
// A missing file yields the defaults.
func loadUserConfig(path string) (*UserConfig, error) {
	cfg := defaultUserConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.UI.Prompt == "" {
		cfg.UI.Prompt = "> "
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "."
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}
