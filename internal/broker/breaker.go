package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerClient wraps a Client with circuit breaker functionality
// so a flapping API degrades to fast failures instead of hanging every
// poll cycle.
type CircuitBreakerClient struct {
	client  Client
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerClient implements Client at compile time.
var _ Client = (*CircuitBreakerClient)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerClient creates a CircuitBreakerClient with sensible defaults.
func NewCircuitBreakerClient(client Client) *CircuitBreakerClient {
	return NewCircuitBreakerClientWithSettings(client, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerClientWithSettings creates a CircuitBreakerClient with custom settings.
func NewCircuitBreakerClientWithSettings(client Client, settings CircuitBreakerSettings) *CircuitBreakerClient {
	gbSettings := gobreaker.Settings{
		Name:        "IGCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	client Client,
	fn func(Client) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(client) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// Login wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) Login(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Login(ctx)
	})
	return err
}

// Positions wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) Positions(ctx context.Context) ([]PositionRecord, error) {
	return execBreaker(c.breaker, c.client, func(cl Client) ([]PositionRecord, error) {
		return cl.Positions(ctx)
	})
}

// MarketDetails wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) MarketDetails(ctx context.Context, epic string) (*MarketDetails, error) {
	return execBreaker(c.breaker, c.client, func(cl Client) (*MarketDetails, error) {
		return cl.MarketDetails(ctx, epic)
	})
}
