package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath is the environment variable for an explicit config path.
	EnvConfigPath = "SHOPCORE_CONFIG"
	// ConfigFileName is the config file looked up in the working directory.
	ConfigFileName = "shopcore.yaml"
)

// FindConfigPath searches for a config file in priority order:
//  1. $SHOPCORE_CONFIG
//  2. ./shopcore.yaml
//  3. /etc/shopcore/config.yaml
//
// It returns "" when none exists.
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" && fileExists(path) {
		return path
	}
	if fileExists(ConfigFileName) {
		if abs, err := filepath.Abs(ConfigFileName); err == nil {
			return abs
		}
		return ConfigFileName
	}
	systemPath := filepath.Join("/etc", "shopcore", "config.yaml")
	if fileExists(systemPath) {
		return systemPath
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
