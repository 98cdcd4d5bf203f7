// Package config provides configuration utilities for the application.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ExpandPath expands ~ and environment variables in a file path.
// It handles both ~ for home directory and $VAR style environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	// First expand tilde if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	// Then expand environment variables
	return os.ExpandEnv(path)
}

// Dir returns the directory holding circ's config, database and tokens.
func Dir() string {
	return ExpandPath("~/.config/circ")
}

// DefaultTokenFile is where `circ auth sheets` saves the OAuth2 token.
func DefaultTokenFile() string {
	return filepath.Join(Dir(), "sheets-token.json")
}

// DatabasePath returns the outbox database path, from database.path or the
// default location.
func DatabasePath() string {
	if p := viper.GetString("database.path"); p != "" {
		return ExpandPath(p)
	}
	return filepath.Join(Dir(), "circ.db")
}
