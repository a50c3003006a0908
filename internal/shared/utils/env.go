package utils

import (
	"os"
	"strconv"
	"time"
)

// GetEnv returns the value of an environment variable or a fallback.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// GetEnvInt returns an integer environment variable or a fallback.
func GetEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvBool returns a boolean environment variable or a fallback.
func GetEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value == "true" || value == "1"
}

// GetEnvDuration returns a duration environment variable (in seconds) or a fallback.
func GetEnvDuration(key string, fallbackSeconds int) time.Duration {
	return time.Duration(GetEnvInt(key, fallbackSeconds)) * time.Second
}
