package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DefaultDotEnvPaths are tried in order when LoadDotEnv gets no paths.
var DefaultDotEnvPaths = []string{".env", "env/.env"}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped and variables already set are never
// overridden (the real environment takes precedence).
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = DefaultDotEnvPaths
	}

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}
