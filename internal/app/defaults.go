package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment
// variables first.
//
// Environment variables:
//   - CLINISTORE_CONFIG_PATH: config file location (default: ~/.config/clinistore.toml)
//   - CLINISTORE_HOME: data directory root (default: ~/.local/share/clinistore)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	dataDir, err := getDataDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"data_dir":    dataDir,
		"log_dir":     filepath.Join(dataDir, "_log"),
	}, nil
}

// getConfigPath returns the config file path, checking CLINISTORE_CONFIG_PATH
// env var first, then falling back to ~/.config/clinistore.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("CLINISTORE_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "clinistore.toml"), nil
}

// getDataDir returns the data directory root, checking CLINISTORE_HOME env
// var first, then falling back to the XDG default ~/.local/share/clinistore.
func getDataDir() (string, error) {
	if path := os.Getenv("CLINISTORE_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "clinistore"), nil
}
