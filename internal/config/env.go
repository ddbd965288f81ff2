package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "LABELBATCH_CONFIG"
	EnvDB     = "LABELBATCH_DB"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LABELBATCH_CONFIG: override config file path
	DBPath     string // LABELBATCH_DB: override label database path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DBPath:     os.Getenv(EnvDB),
	}
}
