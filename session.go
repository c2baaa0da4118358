package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/snattach/internal/auth"
	"github.com/tonimelisma/snattach/internal/credstore"
	"github.com/tonimelisma/snattach/internal/servicenow"
)

// errNotLoggedIn is returned when no credential mode is configured.
var errNotLoggedIn = errors.New("not logged in: run 'snattach login basic' or 'snattach login oauth' first")

// Session holds the credential store, token provider and API client for one
// invocation against the configured instance.
type Session struct {
	Store    *credstore.Store
	Provider *auth.Provider
	Client   *servicenow.Client
}

// newStore opens the credential file named by the configuration.
func newStore(cc *CLIContext) *credstore.Store {
	return credstore.New(cc.Cfg.CredentialsFile, cc.Logger)
}

// newProvider creates a token provider for the configured instance.
func newProvider(cc *CLIContext) (*auth.Provider, error) {
	if err := cc.Cfg.RequireInstance(); err != nil {
		return nil, err
	}

	return auth.NewProvider(cc.Cfg.InstanceURL, cc.HTTPClient, cc.Logger), nil
}

// NewSession loads the stored credentials and wires the executor. It fails
// early when no credential mode is active.
func NewSession(cc *CLIContext) (*Session, error) {
	provider, err := newProvider(cc)
	if err != nil {
		return nil, err
	}

	store := newStore(cc)

	creds, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	if creds.Mode() == credstore.ModeNone && creds.Cookie == "" {
		return nil, errNotLoggedIn
	}

	provider.Resume(auth.TokenPair{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken})

	cc.Logger.Debug("session ready", slog.Any("credentials", creds))

	client := servicenow.NewClient(servicenow.Options{
		BaseURL:    cc.Cfg.InstanceURL,
		HTTPClient: cc.HTTPClient,
		UserAgent:  cc.Cfg.UserAgent,
		RequestID:  cc.InvocationID,
		Logger:     cc.Logger,
	}, creds, store, provider)

	return &Session{Store: store, Provider: provider, Client: client}, nil
}
