// Package retry decorates a broker.Client with bounded retries and
// exponential backoff for transient failures. Session and permanent API
// errors pass through untouched so callers can react to them.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/rowanbeckett/greekwatch/internal/broker"
)

// Config controls retry behavior for a wrapped client.
type Config struct {
	MaxRetries     int           // retries after the first attempt
	InitialBackoff time.Duration // first wait between attempts
	MaxBackoff     time.Duration // backoff ceiling before jitter
	Timeout        time.Duration // overall budget per operation
}

// DefaultConfig suits a polling cadence of a few seconds: fail within one
// cycle rather than queueing up behind a stuck API.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	Timeout:        30 * time.Second,
}

// Client wraps a broker.Client with retry behavior.
type Client struct {
	client broker.Client
	logger *log.Logger
	config Config
}

// Ensure Client implements broker.Client at compile time.
var _ broker.Client = (*Client)(nil)

// NewClient wraps client with retry behavior. A nil logger falls back to
// the standard logger; non-positive config fields fall back to their
// DefaultConfig values.
func NewClient(client broker.Client, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		client: client,
		logger: logger,
		config: cfg,
	}
}

// Login retries transient failures; invalid credentials fail immediately.
func (c *Client) Login(ctx context.Context) error {
	_, err := retryOp(ctx, c, "login", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.client.Login(ctx)
	})
	return err
}

// Positions fetches open positions, retrying transient failures.
func (c *Client) Positions(ctx context.Context) ([]broker.PositionRecord, error) {
	return retryOp(ctx, c, "fetch positions", func(ctx context.Context) ([]broker.PositionRecord, error) {
		return c.client.Positions(ctx)
	})
}

// MarketDetails fetches market details, retrying transient failures.
func (c *Client) MarketDetails(ctx context.Context, epic string) (*broker.MarketDetails, error) {
	return retryOp(ctx, c, "fetch market details", func(ctx context.Context) (*broker.MarketDetails, error) {
		return c.client.MarketDetails(ctx, epic)
	})
}

// retryOp runs fn up to MaxRetries+1 times under the operation timeout,
// backing off between attempts while the error stays transient.
func retryOp[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff
	attempts := 0

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-opCtx.Done():
			return zero, fmt.Errorf("%s timed out after %v: %w", op, c.config.Timeout, opCtx.Err())
		default:
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled: %w", op, ctx.Err())
		}

		attempts++
		result, err := fn(opCtx)
		if err == nil {
			if attempt > 0 {
				c.logger.Printf("%s succeeded on attempt %d", op, attempt+1)
			}
			return result, nil
		}

		lastErr = err
		c.logger.Printf("%s attempt %d/%d failed: %v", op, attempt+1, c.config.MaxRetries+1, err)

		if !isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}
		c.logger.Printf("Transient error, retrying %s in %v", op, backoff)
		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-opCtx.Done():
			return zero, fmt.Errorf("%s timed out during backoff: %w", op, opCtx.Err())
		case <-ctx.Done():
			return zero, fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

// nextBackoff grows the wait by 1.5x up to MaxBackoff, then adds jitter in
// [0, backoff/4) so concurrent retries spread out.
func (c *Client) nextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// isTransientError reports whether retrying the same request can help.
// Session and credential errors are excluded: the caller has to log in
// again, not hammer the same request.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, broker.ErrNotAuthenticated) ||
		errors.Is(err, broker.ErrSessionExpired) ||
		errors.Is(err, broker.ErrInvalidCredentials) {
		return false
	}

	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	// Transport-level failures surface as plain errors.
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"network",
		"dns",
		"tcp",
		"eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
