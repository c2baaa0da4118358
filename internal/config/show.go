package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated TOML-like
// summary to w. The password is never printed, only whether it is set.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n")
	ew.printf("# config file: %s\n\n", orNone(r.ConfigPath))

	ew.printf("instance_url     = %q\n", r.InstanceURL)
	ew.printf("username         = %q\n", r.Username)

	if r.Password != "" {
		ew.printf("password         = (set)\n")
	} else {
		ew.printf("password         = (not set)\n")
	}

	ew.printf("credentials_file = %q\n", r.CredentialsFile)
	ew.printf("log_level        = %q\n", r.LogLevel)
	ew.printf("request_timeout  = %q\n", r.RequestTimeout.String())
	ew.printf("user_agent       = %q\n", r.UserAgent)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}

	return s
}
