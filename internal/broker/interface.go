// Package broker provides the IG dealing API client used to read open
// option positions and market quotes. It covers session login, the
// positions list, and per-epic market details, plus a circuit breaker
// wrapper and a mock client for offline runs.
package broker

import (
	"context"
	"errors"
	"fmt"
)

// Client is the brokerage surface the feed consumes: authenticate, list
// open positions, and quote individual markets. Implementations must be
// safe for concurrent use; Login may be called again after
// ErrSessionExpired.
type Client interface {
	Login(ctx context.Context) error
	Positions(ctx context.Context) ([]PositionRecord, error)
	MarketDetails(ctx context.Context, epic string) (*MarketDetails, error)
}

// Sentinel errors for session state. Wrapped errors carry the API detail;
// match with errors.Is.
var (
	// ErrNotAuthenticated means a request was attempted before Login.
	ErrNotAuthenticated = errors.New("not authenticated, login first")
	// ErrSessionExpired means the access token was rejected; a fresh Login
	// is required.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidCredentials means login itself was rejected. Retrying with
	// the same credentials will not help.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// IsPermanentAPIError reports whether an error is a 4xx API response that
// retrying cannot fix. 429 is excluded since rate limits clear on their
// own, and 401 is excluded because a fresh login fixes it.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 &&
			apiErr.Status != 429 && apiErr.Status != 401
	}
	return false
}
