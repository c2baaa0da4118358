package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/snattach/internal/auth"
	"github.com/tonimelisma/snattach/internal/config"
	"github.com/tonimelisma/snattach/internal/servicenow"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath  string
	flagInstance    string
	flagCredentials string
	flagJSON        bool
	flagVerbose     bool
	flagQuiet       bool
)

// httpClientTimeout is used when the configuration carries no timeout.
const httpClientTimeout = 30 * time.Second

// promptFactory builds the Prompter used by login commands. Tests replace it.
var promptFactory = func() Prompter {
	return newTermPrompter(os.Stdin, os.Stderr)
}

// CLIFlags are the persistent flag values for one invocation.
type CLIFlags struct {
	JSON    bool
	Verbose bool
	Quiet   bool
}

// CLIContext carries everything a subcommand needs. It is built once in the
// root PersistentPreRunE and stored in the command's context.
type CLIContext struct {
	Flags        CLIFlags
	Cfg          *config.Resolved
	Logger       *slog.Logger
	InvocationID string
	HTTPClient   *http.Client
	Prompter     Prompter
	Out          io.Writer
	Err          io.Writer
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Flags.Quiet {
		fmt.Fprintf(cc.Err, format, args...)
	}
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext stored by the root pre-run hook.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snattach",
		Short: "ServiceNow attachment CLI",
		Long: "Upload, list and download ServiceNow record attachments from the command line,\n" +
			"authenticating with basic auth or OAuth2 password/refresh-token grants.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagInstance, "instance", "", "instance URL (e.g. https://dev12345.service-now.com)")
	cmd.PersistentFlags().StringVar(&flagCredentials, "credentials", "", "credential file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration and stores a CLIContext
// in the command's context for subcommands.
func loadConfig(cmd *cobra.Command) error {
	flags := CLIFlags{JSON: flagJSON, Verbose: flagVerbose, Quiet: flagQuiet}

	// Logging before config is resolved goes through a flag-only logger.
	bootLogger := buildLogger("", flags)

	env := config.ReadEnvOverrides(config.DotEnvFile, bootLogger)
	cli := config.CLIOverrides{
		ConfigPath:      flagConfigPath,
		InstanceURL:     flagInstance,
		CredentialsFile: flagCredentials,
	}

	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	invocation := uuid.NewString()
	logger := buildLogger(resolved.LogLevel, flags).With(slog.String("invocation", invocation))

	logger.Debug("configuration resolved",
		slog.String("config_path", resolved.ConfigPath),
		slog.String("instance", resolved.InstanceURL),
		slog.String("credentials_file", resolved.CredentialsFile),
		slog.String("command", cmd.CommandPath()),
	)

	cc := &CLIContext{
		Flags:        flags,
		Cfg:          resolved,
		Logger:       logger,
		InvocationID: invocation,
		HTTPClient:   defaultHTTPClient(resolved.RequestTimeout),
		Prompter:     promptFactory(),
		Out:          cmd.OutOrStdout(),
		Err:          cmd.ErrOrStderr(),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// defaultHTTPClient returns an HTTP client with the configured timeout.
func defaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = httpClientTimeout
	}

	return &http.Client{Timeout: timeout}
}

// buildLogger creates an slog.Logger from the configured level and CLI
// flags. --verbose and --quiet override the config file.
func buildLogger(configLevel string, flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn

	switch configLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(os.Stderr, hint)
	}

	os.Exit(1)
}

// errorHint suggests the next step for errors the user can fix.
func errorHint(err error) string {
	switch {
	case servicenow.IsAuthError(err):
		return "Run 'snattach login oauth' (or 'snattach login basic') to sign in again."
	case errors.Is(err, servicenow.ErrNetwork), errors.Is(err, auth.ErrNetwork):
		return "Check the instance URL and your network connection."
	default:
		return ""
	}
}
