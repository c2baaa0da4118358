package servicenow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/snattach/internal/auth"
	"github.com/tonimelisma/snattach/internal/credstore"
)

// DefaultUserAgent is sent when Options.UserAgent is empty.
const DefaultUserAgent = "snattach/0.1"

const requestIDHeader = "X-Client-Request-Id"

// TokenRefresher renews an expired access token. *auth.Provider implements it.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string, client auth.ClientCredentials) (auth.TokenPair, error)
	MarkExpired()
}

// CredentialSaver persists the full credential record after a refresh.
// *credstore.Store implements it.
type CredentialSaver interface {
	Save(creds credstore.Credentials) error
}

// Options configures a Client. There is no package-level state: everything
// the client needs arrives here.
type Options struct {
	BaseURL    string // instance URL, e.g. "https://dev12345.service-now.com"
	HTTPClient *http.Client
	UserAgent  string
	RequestID  string // sent as X-Client-Request-Id for server-side log correlation
	Logger     *slog.Logger
}

// Client performs authenticated requests against one instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	requestID  string
	logger     *slog.Logger

	creds  credstore.Credentials
	store  CredentialSaver
	tokens TokenRefresher
}

// NewClient creates a Client using creds for authentication. store and
// tokens are only used on the 401 refresh path.
func NewClient(opts Options, creds credstore.Credentials, store CredentialSaver, tokens TokenRefresher) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		userAgent:  opts.UserAgent,
		requestID:  opts.RequestID,
		logger:     opts.Logger,
		creds:      creds,
		store:      store,
		tokens:     tokens,
	}
}

// Credentials returns the client's current credentials, including any
// tokens obtained by a refresh during this client's lifetime.
func (c *Client) Credentials() credstore.Credentials {
	return c.creds
}

// Request describes one API call. Body must be rewindable so the single
// post-refresh retry can resend it.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	Header        http.Header
	Body          io.ReadSeeker
	ContentLength int64
}

// Do executes r with the current credentials attached. On a 401 in OAuth
// mode with a refresh token available, it refreshes once, persists the new
// token pair, and retries once. A second 401 is ErrAuthenticationFailed.
// The caller closes the response body on success.
func (c *Client) Do(ctx context.Context, r *Request) (*http.Response, error) {
	resp, err := c.doOnce(ctx, r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return c.checkStatus(r, resp)
	}

	first := readErrorResponse(resp, ErrAuthenticationFailed)

	if c.creds.Mode() != credstore.ModeOAuth || c.creds.RefreshToken == "" {
		c.logger.Warn("request unauthorized, no refresh token available",
			slog.String("method", r.Method),
			slog.String("path", r.Path),
			slog.String("mode", string(c.creds.Mode())),
		)

		return nil, first
	}

	c.logger.Info("access token rejected, refreshing",
		slog.String("method", r.Method),
		slog.String("path", r.Path),
	)

	c.tokens.MarkExpired()

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	if err := rewindBody(r.Body); err != nil {
		return nil, err
	}

	resp, err = c.doOnce(ctx, r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.MarkExpired()
		c.logger.Error("request still unauthorized after token refresh",
			slog.String("method", r.Method),
			slog.String("path", r.Path),
		)

		return nil, readErrorResponse(resp, ErrAuthenticationFailed)
	}

	return c.checkStatus(r, resp)
}

// refresh obtains a new token pair and persists the whole record before the
// retry, so a rotated refresh token is never lost.
func (c *Client) refresh(ctx context.Context) error {
	client := auth.ClientCredentials{ID: c.creds.ClientID, Secret: c.creds.ClientSecret}

	pair, err := c.tokens.Refresh(ctx, c.creds.RefreshToken, client)
	if err != nil {
		return fmt.Errorf("servicenow: refreshing access token: %w", err)
	}

	c.creds.AccessToken = pair.AccessToken
	c.creds.RefreshToken = pair.RefreshToken

	if err := c.store.Save(c.creds); err != nil {
		return fmt.Errorf("servicenow: saving refreshed token: %w", err)
	}

	c.logger.Info("persisted refreshed token")

	return nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, r *Request) (*http.Response, error) {
	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	// NopCloser keeps the transport from closing a caller-owned file that the
	// retry may still need.
	var body io.Reader
	if r.Body != nil {
		body = io.NopCloser(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("servicenow: creating request: %w", err)
	}

	if r.Body != nil {
		req.ContentLength = r.ContentLength
	}

	for k, vs := range r.Header {
		req.Header[k] = append([]string(nil), vs...)
	}

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	req.Header.Set("User-Agent", c.userAgent)

	if c.requestID != "" {
		req.Header.Set(requestIDHeader, c.requestID)
	}

	c.authorize(req)

	c.logger.Debug("sending request",
		slog.String("method", r.Method),
		slog.String("path", r.Path),
		slog.String("auth_mode", string(c.creds.Mode())),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("servicenow: request canceled: %w", ctx.Err())
		}

		c.logger.Warn("request failed at transport level",
			slog.String("method", r.Method),
			slog.String("path", r.Path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, r.Method, r.Path, err)
	}

	return resp, nil
}

// authorize attaches the active credential: bearer token in OAuth mode,
// basic auth in basic mode, or the legacy session cookie when nothing else
// is configured.
func (c *Client) authorize(req *http.Request) {
	switch c.creds.Mode() {
	case credstore.ModeOAuth:
		if c.creds.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.creds.AccessToken)
		}
	case credstore.ModeBasic:
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	default:
		if c.creds.Cookie != "" {
			req.Header.Set("Cookie", c.creds.Cookie)
		}
	}
}

// checkStatus returns resp for 2xx and an *APIError otherwise.
func (c *Client) checkStatus(r *Request, resp *http.Response) (*http.Response, error) {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", r.Method),
			slog.String("path", r.Path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	apiErr := readErrorResponse(resp, ErrRequestFailed)

	c.logger.Warn("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.Path),
		slog.Int("status", resp.StatusCode),
	)

	return nil, apiErr
}

// readErrorResponse drains and closes an error response into an *APIError.
func readErrorResponse(resp *http.Response, class error) *APIError {
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		body = []byte("(failed to read response body)")
	}

	return newAPIError(resp, body, class)
}

// rewindBody seeks the request body back to the start before a retry.
func rewindBody(body io.ReadSeeker) error {
	if body == nil {
		return nil
	}

	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("servicenow: rewinding request body for retry: %w", err)
	}

	return nil
}

// IsAuthError reports whether err needs the user to log in again.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, auth.ErrRefreshFailed) ||
		errors.Is(err, auth.ErrMissingClientCredentials) ||
		errors.Is(err, auth.ErrInvalidCredentials)
}
