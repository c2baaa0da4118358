package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minRequestTimeout = 1 * time.Second
	maxRequestTimeout = 10 * time.Minute
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// ErrInstanceNotConfigured is returned by RequireInstance when no instance
// URL was set by any layer.
var ErrInstanceNotConfigured = errors.New(
	"no instance URL configured: set instance_url in the config file, " +
		EnvInstanceURL + ", or --instance")

// Validate checks all configuration values and returns every error found,
// not just the first.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.InstanceURL != "" {
		if err := validateInstanceURL(cfg.InstanceURL); err != nil {
			errs = append(errs, fmt.Errorf("instance_url: %w", err))
		}
	}

	errs = append(errs, validateLogLevel(cfg.LogLevel)...)
	errs = append(errs, validateRequestTimeout(cfg.RequestTimeout)...)

	return errors.Join(errs...)
}

// ValidateResolved checks the final values after env and CLI overrides,
// which bypass the file-level checks.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.InstanceURL != "" {
		if err := validateInstanceURL(r.InstanceURL); err != nil {
			errs = append(errs, fmt.Errorf("instance URL: %w", err))
		}
	}

	if r.CredentialsFile == "" {
		errs = append(errs, errors.New("credentials file: cannot determine a default path, set "+EnvCredentialsFile))
	}

	return errors.Join(errs...)
}

// RequireInstance returns ErrInstanceNotConfigured when r has no instance URL.
func (r *Resolved) RequireInstance() error {
	if r.InstanceURL == "" {
		return ErrInstanceNotConfigured
	}

	return nil
}

func validateInstanceURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("must start with https:// or http://, got %q", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}

	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must not contain a query or fragment, got %q", raw)
	}

	return nil
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

func validateRequestTimeout(value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("request_timeout: invalid duration %q: %w", value, err)}
	}

	if d < minRequestTimeout || d > maxRequestTimeout {
		return []error{fmt.Errorf("request_timeout: must be between %s and %s, got %s",
			minRequestTimeout, maxRequestTimeout, d)}
	}

	return nil
}
