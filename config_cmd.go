package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/snattach/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

// configJSON is the JSON schema for `config show --json`.
type configJSON struct {
	ConfigPath      string `json:"config_path"`
	InstanceURL     string `json:"instance_url"`
	Username        string `json:"username"`
	PasswordSet     bool   `json:"password_set"`
	CredentialsFile string `json:"credentials_file"`
	LogLevel        string `json:"log_level"`
	RequestTimeout  string `json:"request_timeout"`
	UserAgent       string `json:"user_agent"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())
	r := cc.Cfg

	if cc.Flags.JSON {
		return writeJSON(cc.Out, configJSON{
			ConfigPath:      r.ConfigPath,
			InstanceURL:     r.InstanceURL,
			Username:        r.Username,
			PasswordSet:     r.Password != "",
			CredentialsFile: r.CredentialsFile,
			LogLevel:        r.LogLevel,
			RequestTimeout:  r.RequestTimeout.String(),
			UserAgent:       r.UserAgent,
		})
	}

	return config.RenderEffective(r, cc.Out)
}
