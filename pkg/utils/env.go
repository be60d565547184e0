package utils

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads .env and, when env is set, .env.<env> on top of it.
// Variables already present in the process environment win.
func LoadEnv(env string) error {
	files := []string{}
	if env != "" {
		files = append(files, ".env."+strings.ToLower(env))
	}
	files = append(files, ".env")

	var loaded int
	var lastErr error
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			lastErr = err
			continue
		}
		if err := godotenv.Load(f); err != nil {
			lastErr = err
			continue
		}
		loaded++
	}
	if loaded == 0 {
		return lastErr
	}
	return nil
}

// GetEnv returns the trimmed value of key
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetIntEnv returns key as int64, 0 when unset or malformed
func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

// GetBoolEnv returns key as bool, false when unset or malformed
func GetBoolEnv(key string) bool {
	return cast.ToBool(GetEnv(key))
}

// GetFloatEnv returns key as float64, 0 when unset or malformed
func GetFloatEnv(key string) float64 {
	return cast.ToFloat64(GetEnv(key))
}
