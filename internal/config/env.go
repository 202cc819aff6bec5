package config

import (
	"os"
	"strconv"
	"time"
)

// envVar is a type constraint that matches string, int, and bool types.
type envVar interface {
	string | int | bool
}

// Env returns the value of the environment variable named by key, or
// defaultValue if the variable is not present or cannot be parsed. The type
// of the return value matches the type of defaultValue.
func Env[T envVar](key string, defaultValue T) T {
	if value := os.Getenv(key); value != "" {
		switch any(defaultValue).(type) {
		case string:
			return any(value).(T)
		case int:
			intValue, err := strconv.Atoi(value)
			if err == nil {
				return any(intValue).(T)
			}
		case bool:
			boolValue, err := strconv.ParseBool(value)
			if err == nil {
				return any(boolValue).(T)
			}
		}
	}
	return defaultValue
}

// EnvDuration returns the parsed duration from the environment variable
// named by key, or defaultValue if unset or unparseable.
func EnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
