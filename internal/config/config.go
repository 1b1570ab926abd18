package config

import "github.com/spf13/viper"

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for Stride.
type Config struct {
	StateDir     string
	TickInterval int // seconds between scheduler passes
	PollInterval int // seconds between queue polls
	LogLevel     string
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/stride).
func Load() Config {
	return Config{
		StateDir:     viper.GetString("state_dir"),
		TickInterval: viper.GetInt("tick_interval"),
		PollInterval: viper.GetInt("poll_interval"),
		LogLevel:     viper.GetString("log_level"),
	}
}
