package util

import (
	"os"
	"strconv"
)

func Getenv(name, defaultValue string) string {
	value := os.Getenv(name)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetenvBool returns defaultValue when the variable is unset or not a valid bool.
func GetenvBool(name string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(name))
	if err != nil {
		return defaultValue
	}
	return value
}
