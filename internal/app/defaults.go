package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the application default paths.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	WorkDir    string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - ATTACHE_CONFIG_PATH: config file location (default: ~/.config/attache.toml)
//   - ATTACHE_HOME: base directory for attache data (default: ~/.local/share/attache)
func GetDefaults() (*Defaults, error) {
	configPath, err := envOrHome("ATTACHE_CONFIG_PATH", ".config", "attache.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := envOrHome("ATTACHE_HOME", ".local", "share", "attache")
	if err != nil {
		return nil, err
	}

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		WorkDir:    filepath.Join(baseDir, "work"),
	}, nil
}

// envOrHome returns the value of env, or the path below the user's home
// directory when env is unset.
func envOrHome(env string, rel ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, rel...)...), nil
}
