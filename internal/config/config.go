package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads a .env file from the working directory if one exists. Values
// already present in the process environment take precedence.
func Load() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// Env returns the value of key, or def when unset or empty.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvInt returns the integer value of key, or def when unset or unparsable.
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
