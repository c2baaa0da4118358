package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig          = "SNATTACH_CONFIG"
	EnvInstanceURL     = "SNATTACH_INSTANCE_URL"
	EnvUsername        = "SNATTACH_USERNAME"
	EnvPassword        = "SNATTACH_PASSWORD"
	EnvCredentialsFile = "SNATTACH_CREDENTIALS_FILE"
)

// DotEnvFile is read from the working directory when present.
const DotEnvFile = ".env"

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath      string // SNATTACH_CONFIG
	InstanceURL     string // SNATTACH_INSTANCE_URL
	Username        string // SNATTACH_USERNAME
	Password        string // SNATTACH_PASSWORD
	CredentialsFile string // SNATTACH_CREDENTIALS_FILE
}

// ReadEnvOverrides reads the SNATTACH_* variables. Values from the dotenv
// file at dotenvPath fill in variables that are unset in the process
// environment; a real environment variable always wins. The process
// environment itself is not modified. An empty dotenvPath skips the file.
func ReadEnvOverrides(dotenvPath string, logger *slog.Logger) EnvOverrides {
	fileVars := readDotEnv(dotenvPath, logger)

	get := func(key string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}

		return fileVars[key]
	}

	return EnvOverrides{
		ConfigPath:      get(EnvConfig),
		InstanceURL:     get(EnvInstanceURL),
		Username:        get(EnvUsername),
		Password:        get(EnvPassword),
		CredentialsFile: get(EnvCredentialsFile),
	}
}

// readDotEnv parses a dotenv file. A missing file is not an error; a
// malformed one is logged and ignored.
func readDotEnv(path string, logger *slog.Logger) map[string]string {
	if path == "" {
		return nil
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("ignoring unreadable dotenv file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}

		return nil
	}

	logger.Debug("loaded dotenv file", slog.String("path", path), slog.Int("vars", len(vars)))

	return vars
}
