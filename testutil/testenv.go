// Package testutil provides shared test environment helpers for E2E tests
// and the credential bootstrap tool. It does not import internal/ so the
// black-box E2E suite can use it.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// AllowedInstancesEnv lists the instance URLs live tests may touch,
// comma-separated.
const AllowedInstancesEnv = "SNATTACH_ALLOWED_TEST_INSTANCES"

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	if _, err := os.Stat(envPath); err != nil {
		return
	}

	if err := godotenv.Load(envPath); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: parsing %s: %v\n", envPath, err)
		os.Exit(1)
	}
}

// ValidateAllowlist crashes the process if SNATTACH_ALLOWED_TEST_INSTANCES
// is not set or if the instance named by instanceEnvVar is not in it. Live
// tests create attachments, so they must never run against an arbitrary
// instance.
func ValidateAllowlist(instanceEnvVar string) string {
	allowlist := os.Getenv(AllowedInstancesEnv)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", AllowedInstancesEnv)
		fmt.Fprintln(os.Stderr, "Set it in .env or as an environment variable.")
		fmt.Fprintf(os.Stderr, "Example: %s=https://dev12345.service-now.com\n", AllowedInstancesEnv)
		os.Exit(1)
	}

	instance := strings.TrimRight(os.Getenv(instanceEnvVar), "/")
	if instance == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", instanceEnvVar)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimRight(strings.TrimSpace(a), "/") == instance {
			return instance
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s=%q\n",
		instanceEnvVar, instance, AllowedInstancesEnv, allowlist)
	os.Exit(1)

	return ""
}

// RequireEnv returns the value of name or crashes with a hint.
func RequireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set (add it to .env)\n", name)
		os.Exit(1)
	}

	return v
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// CredentialDir is where bootstrapped test credentials live, relative to
// the module root.
const CredentialDir = ".testdata"

// CredentialFileName is the credential file inside CredentialDir.
const CredentialFileName = "auth.json"

// FindTestCredentialDir locates .testdata/ relative to the module root.
// Crashes if the directory does not exist.
func FindTestCredentialDir(moduleRoot string) string {
	dir := filepath.Join(moduleRoot, CredentialDir)

	if _, err := os.Stat(dir); err != nil {
		fmt.Fprintln(os.Stderr, "FATAL: "+CredentialDir+"/ directory not found at "+dir)
		fmt.Fprintln(os.Stderr, "Run `go run ./cmd/integration-bootstrap` to create test credentials.")
		os.Exit(1)
	}

	return dir
}

// CopyFile copies a file from src to dst with the given permissions.
// Crashes on failure because tests cannot proceed without the file.
func CopyFile(src, dst string, perm os.FileMode) {
	data, err := os.ReadFile(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot read %s: %v\n", src, err)
		fmt.Fprintln(os.Stderr, "Run `go run ./cmd/integration-bootstrap` to create test credentials.")
		os.Exit(1)
	}

	if writeErr := os.WriteFile(dst, data, perm); writeErr != nil {
		fmt.Fprintf(os.Stderr, "FATAL: writing %s: %v\n", dst, writeErr)
		os.Exit(1)
	}
}
