package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/snattach/internal/auth"
	"github.com/tonimelisma/snattach/internal/credstore"
)

const refreshArg = "refresh"

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <basic|oauth|reset|status>",
		Short: "Manage stored credentials",
		Long: "Store basic-auth credentials, obtain OAuth2 tokens, refresh them, show\n" +
			"what is stored, or clear everything.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("authentication type %q not supported (use basic, oauth, reset or status)", args[0])
			}

			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "basic",
		Short: "Store a username and password for basic auth",
		Args:  cobra.NoArgs,
		RunE:  runLoginBasic,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "oauth [refresh]",
		Short: "Obtain OAuth2 tokens with the password grant, or refresh them",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 1 || (len(args) == 1 && args[0] != refreshArg) {
				return fmt.Errorf("usage: login oauth [%s]", refreshArg)
			}

			return nil
		},
		ValidArgs: []string{refreshArg},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runLoginOAuthRefresh(cmd)
			}

			return runLoginOAuth(cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear all stored credentials",
		Args:  cobra.NoArgs,
		RunE:  runLoginReset,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the active credential mode and which fields are stored",
		Args:  cobra.NoArgs,
		RunE:  runLoginStatus,
	})

	return cmd
}

func runLoginBasic(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())
	store := newStore(cc)

	current, err := store.Load()
	if err != nil {
		return err
	}

	username, err := cc.Prompter.Ask("Username", firstNonEmpty(current.Username, cc.Cfg.Username))
	if err != nil {
		return err
	}

	password, err := cc.Prompter.Secret("Password", cc.Cfg.Password)
	if err != nil {
		return err
	}

	// One active mode: storing basic credentials drops any tokens.
	_, err = store.Update(func(c *credstore.Credentials) {
		c.Username = username
		c.Password = password
		c.AccessToken = ""
		c.RefreshToken = ""
	})
	if err != nil {
		return err
	}

	cc.Logger.Info("stored basic credentials", slog.String("username", username))
	cc.Statusf("Stored basic auth credentials for %s.\n", username)

	return nil
}

func runLoginOAuth(cmd *cobra.Command) error {
	cc := cliContextFrom(cmd.Context())

	provider, err := newProvider(cc)
	if err != nil {
		return err
	}

	store := newStore(cc)

	current, err := store.Load()
	if err != nil {
		return err
	}

	username, err := cc.Prompter.Ask("Username", firstNonEmpty(current.Username, cc.Cfg.Username))
	if err != nil {
		return err
	}

	password, err := cc.Prompter.Secret("Password", cc.Cfg.Password)
	if err != nil {
		return err
	}

	client, err := clientCredentials(cc, current)
	if err != nil {
		return err
	}

	pair, err := provider.AcquireInitial(cmd.Context(), username, password, client)
	if err != nil {
		return err
	}

	_, err = store.Update(func(c *credstore.Credentials) {
		c.ClientID = client.ID
		c.ClientSecret = client.Secret
		c.AccessToken = pair.AccessToken
		c.RefreshToken = pair.RefreshToken
		c.Username = username
		c.Password = ""
	})
	if err != nil {
		return err
	}

	cc.Logger.Info("oauth login complete", slog.String("username", username))
	cc.Statusf("Logged in to %s as %s (OAuth).\n", cc.Cfg.InstanceURL, username)

	return nil
}

// clientCredentials returns the stored OAuth application identity, prompting
// only for the halves that are missing.
func clientCredentials(cc *CLIContext, current credstore.Credentials) (auth.ClientCredentials, error) {
	client := auth.ClientCredentials{ID: current.ClientID, Secret: current.ClientSecret}

	var err error

	if client.ID == "" {
		if client.ID, err = cc.Prompter.Ask("Client ID", ""); err != nil {
			return client, err
		}
	}

	if client.Secret == "" {
		if client.Secret, err = cc.Prompter.Secret("Client secret", ""); err != nil {
			return client, err
		}
	}

	return client, nil
}

func runLoginOAuthRefresh(cmd *cobra.Command) error {
	cc := cliContextFrom(cmd.Context())

	provider, err := newProvider(cc)
	if err != nil {
		return err
	}

	store := newStore(cc)

	current, err := store.Load()
	if err != nil {
		return err
	}

	provider.Resume(auth.TokenPair{AccessToken: current.AccessToken, RefreshToken: current.RefreshToken})

	client := auth.ClientCredentials{ID: current.ClientID, Secret: current.ClientSecret}

	pair, err := provider.Refresh(cmd.Context(), current.RefreshToken, client)
	if err != nil {
		return err
	}

	_, err = store.Update(func(c *credstore.Credentials) {
		c.AccessToken = pair.AccessToken
		c.RefreshToken = pair.RefreshToken
	})
	if err != nil {
		return err
	}

	cc.Statusf("Access token refreshed.\n")

	return nil
}

func runLoginReset(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())

	if err := newStore(cc).Reset(); err != nil {
		return err
	}

	cc.Logger.Info("credentials reset")
	cc.Statusf("Stored credentials cleared.\n")

	return nil
}

// loginStatus is the JSON schema for `login status --json`. Only presence of
// secrets is reported, never their values.
type loginStatus struct {
	Instance        string `json:"instance"`
	CredentialsFile string `json:"credentials_file"`
	Mode            string `json:"mode"`
	Username        string `json:"username,omitempty"`
	ClientID        bool   `json:"client_id_set"`
	ClientSecret    bool   `json:"client_secret_set"`
	AccessToken     bool   `json:"access_token_set"`
	RefreshToken    bool   `json:"refresh_token_set"`
	Password        bool   `json:"password_set"`
	Cookie          bool   `json:"cookie_set"`
}

func runLoginStatus(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())
	store := newStore(cc)

	creds, err := store.Load()
	if err != nil {
		var se *credstore.StorageError
		if errors.As(err, &se) {
			return fmt.Errorf("credential file %s is unreadable: %w", store.Path(), err)
		}

		return err
	}

	st := loginStatus{
		Instance:        cc.Cfg.InstanceURL,
		CredentialsFile: store.Path(),
		Mode:            string(creds.Mode()),
		Username:        creds.Username,
		ClientID:        creds.ClientID != "",
		ClientSecret:    creds.ClientSecret != "",
		AccessToken:     creds.AccessToken != "",
		RefreshToken:    creds.RefreshToken != "",
		Password:        creds.Password != "",
		Cookie:          creds.Cookie != "",
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(cc.Out)
		enc.SetIndent("", "  ")

		return enc.Encode(st)
	}

	printLoginStatus(cc, &st)

	return nil
}

func printLoginStatus(cc *CLIContext, st *loginStatus) {
	colors := useColor(cc.Out)

	mode := st.Mode
	if colors {
		switch st.Mode {
		case string(credstore.ModeNone):
			mode = text.FgYellow.Sprint(mode)
		default:
			mode = text.FgGreen.Sprint(mode)
		}
	}

	fmt.Fprintf(cc.Out, "Instance:      %s\n", orDash(st.Instance))
	fmt.Fprintf(cc.Out, "Credentials:   %s\n", st.CredentialsFile)
	fmt.Fprintf(cc.Out, "Mode:          %s\n", mode)
	fmt.Fprintf(cc.Out, "Username:      %s\n", orDash(st.Username))
	fmt.Fprintf(cc.Out, "Password:      %s\n", presence(st.Password))
	fmt.Fprintf(cc.Out, "Client ID:     %s\n", presence(st.ClientID))
	fmt.Fprintf(cc.Out, "Client secret: %s\n", presence(st.ClientSecret))
	fmt.Fprintf(cc.Out, "Access token:  %s\n", presence(st.AccessToken))
	fmt.Fprintf(cc.Out, "Refresh token: %s\n", presence(st.RefreshToken))

	if st.Cookie {
		fmt.Fprintf(cc.Out, "Cookie:        %s\n", presence(st.Cookie))
	}
}

func presence(set bool) string {
	if set {
		return "stored"
	}

	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
