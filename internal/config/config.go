// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for snattach. Values are layered
// defaults -> config file -> .env file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// All keys are flat at the top level; the embedded structs only group them
// in code.
type Config struct {
	InstanceConfig
	AuthConfig
	LoggingConfig
	NetworkConfig
}

// InstanceConfig identifies the ServiceNow instance.
type InstanceConfig struct {
	InstanceURL string `toml:"instance_url"`
}

// AuthConfig holds login defaults and the credential file location.
// Username and Password only pre-fill the login prompts; the credential
// file is the source of truth for requests.
type AuthConfig struct {
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	CredentialsFile string `toml:"credentials_file"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	RequestTimeout string `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// Resolved is the effective configuration after every layer has been
// applied. Durations are parsed and paths expanded.
type Resolved struct {
	ConfigPath      string
	InstanceURL     string
	Username        string
	Password        string
	CredentialsFile string
	LogLevel        string
	RequestTimeout  time.Duration
	UserAgent       string
}
