// Package config loads and validates the gateway's runtime configuration
// from defaults, an optional YAML file, and environment variables.
package config
