package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values from command-line flags. Empty means the flag
// was not given.
type CLIOverrides struct {
	ConfigPath      string // --config
	InstanceURL     string // --instance
	CredentialsFile string // --credentials
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values, so the tool works without
// any config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment (with .env fallback) -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfgPath = expandTilde(cfgPath)

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	r := &Resolved{
		ConfigPath:      cfgPath,
		InstanceURL:     firstNonEmpty(cli.InstanceURL, env.InstanceURL, cfg.InstanceURL),
		Username:        firstNonEmpty(env.Username, cfg.Username),
		Password:        firstNonEmpty(env.Password, cfg.Password),
		CredentialsFile: firstNonEmpty(cli.CredentialsFile, env.CredentialsFile, cfg.CredentialsFile, DefaultCredentialsPath()),
		LogLevel:        cfg.LogLevel,
		UserAgent:       cfg.UserAgent,
	}

	r.InstanceURL = strings.TrimRight(strings.TrimSpace(r.InstanceURL), "/")
	r.CredentialsFile = expandTilde(r.CredentialsFile)

	// Already validated by Load; DefaultConfig's value always parses.
	r.RequestTimeout, _ = time.ParseDuration(cfg.RequestTimeout)

	if err := ValidateResolved(r); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return r, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
