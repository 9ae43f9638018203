// Package config provides environment-based configuration.
//
// Loads from a .env file when present (godotenv), validates required fields,
// and applies defaults for tunables.
package config
