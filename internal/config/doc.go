// Package config loads, validates, and defaults the TOML configuration for
// the soundstage daemon and CLI.
package config
