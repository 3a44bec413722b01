package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvString returns the value of an environment variable and whether it
// was set to a non-empty value.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment variable. The second return value
// reports whether the variable was set; a set but unparseable value is
// an error.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, true, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return n, true, nil
}

// EnvFloat parses a floating point environment variable with the same
// contract as EnvInt.
func EnvFloat(key string) (float64, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%s must be a number, got %q", key, value)
	}
	return f, true, nil
}
