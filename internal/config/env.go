package config

import (
	"os"
	"path/filepath"
)

// EnvPrefix prefixes every environment override, e.g. TEACH_SERVER_PORT.
const EnvPrefix = "TEACH"

// FileFromEnv returns the config path from TEACH_CONFIG.
// Falls back to the provided default if not set.
func FileFromEnv(defaultPath string) string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return defaultPath
}

// Production reports whether GO_ENV selects production logging.
func Production() bool {
	return os.Getenv("GO_ENV") == "production"
}

// HomeDir returns the per-user state directory, ~/.teachable.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".teachable"
	}
	return filepath.Join(home, ".teachable")
}
