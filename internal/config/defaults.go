package config

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultLogLevel       = "warn"
	defaultRequestTimeout = "30s"
	defaultUserAgent      = "snattach/0.1"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset keys keep their
// defaults, and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		LoggingConfig: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
		NetworkConfig: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
			UserAgent:      defaultUserAgent,
		},
	}
}
