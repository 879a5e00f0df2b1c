package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables overriding the default locations.
const (
	EnvConfigPath = "SONE_CONFIG_PATH"
	EnvHome       = "SONE_HOME"
)

// Paths are the file locations a fresh installation uses.
type Paths struct {
	ConfigPath  string // ~/.config/sone.toml
	BaseDir     string // ~/.local/share/sone
	LogDir      string
	DataDir     string
	AgeIdentity string
}

// DefaultPaths resolves Paths from the environment and the home directory.
func DefaultPaths() (Paths, error) {
	var home string
	resolve := func(env string, rel ...string) (string, error) {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
		if home == "" {
			h, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			home = h
		}
		return filepath.Join(append([]string{home}, rel...)...), nil
	}

	configPath, err := resolve(EnvConfigPath, ".config", "sone.toml")
	if err != nil {
		return Paths{}, err
	}
	base, err := resolve(EnvHome, ".local", "share", "sone")
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		ConfigPath:  configPath,
		BaseDir:     base,
		LogDir:      filepath.Join(base, "log"),
		DataDir:     filepath.Join(base, "db"),
		AgeIdentity: filepath.Join(base, "age.key"),
	}, nil
}
