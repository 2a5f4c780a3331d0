// Package config loads and validates the codevault TOML configuration.
package config
