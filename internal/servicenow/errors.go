// Package servicenow provides an authenticated HTTP client for the ServiceNow
// REST API: attachment listing, upload and download, plus task lookup. The
// client recovers from exactly one failure class, an expired OAuth access
// token, by refreshing once and retrying the request once.
package servicenow

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Request-level failure classes. Use errors.Is(err, servicenow.ErrNetwork).
var (
	ErrNetwork              = errors.New("servicenow: network error")
	ErrRequestFailed        = errors.New("servicenow: request failed")
	ErrAuthenticationFailed = errors.New("servicenow: authentication failed")
)

// Status sentinels, wrapped alongside the failure class for finer checks.
var (
	ErrBadRequest   = errors.New("servicenow: bad request")
	ErrUnauthorized = errors.New("servicenow: unauthorized")
	ErrForbidden    = errors.New("servicenow: forbidden")
	ErrNotFound     = errors.New("servicenow: not found")
	ErrThrottled    = errors.New("servicenow: throttled")
	ErrServerError  = errors.New("servicenow: server error")
)

// APIError carries a non-2xx response: status code, status text, and the
// raw body, plus the instance's error message when the body is the standard
// {"error":{"message":..,"detail":..}} envelope.
type APIError struct {
	StatusCode    int
	StatusMessage string
	Body          string
	Message       string
	Err           error // ErrRequestFailed or ErrAuthenticationFailed
}

func (e *APIError) Error() string {
	detail := e.Message
	if detail == "" {
		detail = e.Body
	}

	if detail == "" {
		return fmt.Sprintf("servicenow: HTTP %d %s", e.StatusCode, e.StatusMessage)
	}

	return fmt.Sprintf("servicenow: HTTP %d %s: %s", e.StatusCode, e.StatusMessage, detail)
}

func (e *APIError) Unwrap() []error {
	errs := []error{e.Err}
	if s := classifyStatus(e.StatusCode); s != nil {
		errs = append(errs, s)
	}

	return errs
}

// errorEnvelope is the JSON shape ServiceNow uses for API errors.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
	Status string `json:"status"`
}

func newAPIError(resp *http.Response, body []byte, class error) *APIError {
	e := &APIError{
		StatusCode:    resp.StatusCode,
		StatusMessage: statusMessage(resp),
		Body:          string(body),
		Err:           class,
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		e.Message = env.Error.Message
		if env.Error.Detail != "" {
			e.Message += " (" + env.Error.Detail + ")"
		}
	}

	return e
}

// statusMessage strips the numeric code from resp.Status ("404 Not Found").
func statusMessage(resp *http.Response) string {
	msg := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return msg
}

// classifyStatus maps an HTTP status code to a sentinel.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
