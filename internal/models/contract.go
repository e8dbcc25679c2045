// Package models defines the domain types shared across the analytics
// pipeline: option contracts, market snapshots, and computed analytics.
package models

import (
	"fmt"
	"time"
)

const hoursPerYear = 24 * 365.0

// OptionRight identifies the side of a vanilla option contract.
type OptionRight string

const (
	// RightCall represents a call option
	RightCall OptionRight = "call"
	// RightPut represents a put option
	RightPut OptionRight = "put"
)

// Valid returns true if the OptionRight is one of the defined constants.
func (r OptionRight) Valid() bool {
	switch r {
	case RightCall, RightPut:
		return true
	default:
		return false
	}
}

// Direction is the side of the open position as reported by the broker.
type Direction string

const (
	// DirectionBuy represents a long position
	DirectionBuy Direction = "BUY"
	// DirectionSell represents a short position
	DirectionSell Direction = "SELL"
)

// Valid returns true if the Direction is one of the defined constants.
func (d Direction) Valid() bool {
	switch d {
	case DirectionBuy, DirectionSell:
		return true
	default:
		return false
	}
}

// Sign returns +1 for long positions and -1 for short positions.
func (d Direction) Sign() float64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

// Contract is one tracked option instrument. Built once from broker
// instrument metadata and immutable for the session.
type Contract struct {
	ID             string      `json:"id"` // broker deal ID, unique per open position
	Epic           string      `json:"epic"`
	InstrumentName string      `json:"instrument_name"`
	UnderlyingEpic string      `json:"underlying_epic"`
	Right          OptionRight `json:"right"`
	Strike         float64     `json:"strike"`
	Expiry         time.Time   `json:"expiry"`
	Direction      Direction   `json:"direction"`
	Size           float64     `json:"size"`
	Currency       string      `json:"currency,omitempty"`
}

// Validate checks that the contract carries everything the analytics
// pipeline needs.
func (c *Contract) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("contract missing ID")
	}
	if !c.Right.Valid() {
		return fmt.Errorf("contract %s: invalid right %q", c.ID, c.Right)
	}
	if c.Strike <= 0 {
		return fmt.Errorf("contract %s: strike must be positive, got %v", c.ID, c.Strike)
	}
	if c.Expiry.IsZero() {
		return fmt.Errorf("contract %s: missing expiry", c.ID)
	}
	return nil
}

// YearsToExpiry returns the time remaining until expiry in years. The
// result is negative once the contract has expired; callers decide how
// to clamp or reject.
func (c *Contract) YearsToExpiry(now time.Time) float64 {
	return c.Expiry.Sub(now).Hours() / hoursPerYear
}

// DaysToExpiry returns whole days until expiry, floored at zero.
func (c *Contract) DaysToExpiry(now time.Time) int {
	days := int(c.Expiry.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
