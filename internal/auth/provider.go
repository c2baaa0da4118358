// Package auth obtains and renews OAuth2 bearer tokens from the instance's
// token endpoint using the password and refresh_token grants. It never
// prompts and never touches disk: callers supply credentials and persist the
// returned TokenPair themselves.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TokenPath is the instance-relative OAuth2 token endpoint.
const TokenPath = "/oauth_token.do"

// State is the provider's position in the token lifecycle.
type State int

// Token lifecycle states.
const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ClientCredentials is the OAuth application identity registered on the
// instance. It is collected once and stored alongside the tokens.
type ClientCredentials struct {
	ID     string
	Secret string
}

// Validate returns ErrMissingClientCredentials when either half is empty.
func (c ClientCredentials) Validate() error {
	if c.ID == "" || c.Secret == "" {
		return ErrMissingClientCredentials
	}

	return nil
}

// TokenPair is the result of a successful grant.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Provider runs the password and refresh_token grants against one instance.
type Provider struct {
	tokenURL   string
	httpClient *http.Client
	logger     *slog.Logger
	state      State
}

// NewProvider creates a Provider for the instance at instanceURL
// (e.g. "https://dev12345.service-now.com").
func NewProvider(instanceURL string, httpClient *http.Client, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Provider{
		tokenURL:   strings.TrimRight(instanceURL, "/") + TokenPath,
		httpClient: httpClient,
		logger:     logger,
	}
}

// State returns the current lifecycle state.
func (p *Provider) State() State {
	return p.state
}

// Resume seeds the state from previously stored tokens.
func (p *Provider) Resume(pair TokenPair) {
	switch {
	case pair.AccessToken != "":
		p.setState(StateAuthenticated)
	case pair.RefreshToken != "":
		p.setState(StateExpired)
	default:
		p.setState(StateUnauthenticated)
	}
}

// MarkExpired records that the server rejected the current access token.
func (p *Provider) MarkExpired() {
	if p.state == StateAuthenticated {
		p.state = StateExpired
		p.logger.Debug("access token rejected, marked expired")
	}
}

// AcquireInitial performs the password grant. The response must carry both
// an access token and a refresh token.
func (p *Provider) AcquireInitial(
	ctx context.Context, username, password string, client ClientCredentials,
) (TokenPair, error) {
	const op = "password grant"

	if err := client.Validate(); err != nil {
		return TokenPair{}, &AuthError{Op: op, Err: err}
	}

	p.logger.Info("requesting token with password grant",
		slog.String("username", username),
		slog.String("token_url", p.tokenURL),
	)

	tok, err := p.config(client).PasswordCredentialsToken(p.withClient(ctx), username, password)
	if err != nil {
		p.setState(StateUnauthenticated)
		p.logger.Warn("password grant failed", slog.String("error", err.Error()))

		return TokenPair{}, classify(ctx, op, err, ErrInvalidCredentials)
	}

	if tok.RefreshToken == "" {
		p.setState(StateUnauthenticated)

		return TokenPair{}, &AuthError{
			Op:    op,
			Err:   ErrInvalidCredentials,
			Cause: fmt.Errorf("token response missing refresh_token"),
		}
	}

	p.setState(StateAuthenticated)
	p.logger.Info("password grant succeeded", slog.Time("expiry", tok.Expiry))

	return pairFrom(tok), nil
}

// Refresh performs the refresh_token grant. On success the returned pair
// holds the new access token and the rotated refresh token (or the old one
// when the server does not rotate). Failures are not retried.
func (p *Provider) Refresh(ctx context.Context, refreshToken string, client ClientCredentials) (TokenPair, error) {
	const op = "refresh_token grant"

	if err := client.Validate(); err != nil {
		return TokenPair{}, &AuthError{Op: op, Err: err}
	}

	if refreshToken == "" {
		p.setState(StateUnauthenticated)

		return TokenPair{}, &AuthError{Op: op, Err: ErrRefreshFailed, Cause: fmt.Errorf("no refresh token stored")}
	}

	p.logger.Info("refreshing access token", slog.String("token_url", p.tokenURL))

	// An empty access token forces the token source to refresh immediately.
	src := p.config(client).TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		p.logger.Warn("refresh failed", slog.String("error", err.Error()))

		classified := classify(ctx, op, err, ErrRefreshFailed)
		if isRejection(classified) {
			p.setState(StateUnauthenticated)
		}

		return TokenPair{}, classified
	}

	p.setState(StateAuthenticated)
	p.logger.Info("fresh token acquired",
		slog.Time("expiry", tok.Expiry),
		slog.Bool("rotated", tok.RefreshToken != refreshToken),
	)

	return pairFrom(tok), nil
}

func (p *Provider) config(client ClientCredentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     client.ID,
		ClientSecret: client.Secret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// withClient makes the oauth2 package use our timeout-bearing HTTP client.
func (p *Provider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *Provider) setState(s State) {
	if p.state != s {
		p.logger.Debug("token state changed",
			slog.String("from", p.state.String()),
			slog.String("to", s.String()),
		)
	}

	p.state = s
}

func pairFrom(tok *oauth2.Token) TokenPair {
	return TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}

// isRejection reports whether err means the server refused the grant, as
// opposed to a transport failure or cancellation.
func isRejection(err error) bool {
	var ae *AuthError

	return errors.As(err, &ae) && !errors.Is(ae.Err, ErrNetwork)
}
