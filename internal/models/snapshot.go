package models

import "time"

// MarketSnapshot is one observation of an option's market alongside its
// underlying. Snapshots are value types: identity is the contract ID plus
// the observation timestamp, nothing more.
type MarketSnapshot struct {
	ContractID string    `json:"contract_id"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Underlying float64   `json:"underlying"`
	Timestamp  time.Time `json:"timestamp"`
	// RiskFree and Carry are annualized rates, filled with configured
	// defaults when the feed has nothing better.
	RiskFree float64 `json:"risk_free"`
	Carry    float64 `json:"carry"`
}

// Mid returns the quote midpoint.
func (m *MarketSnapshot) Mid() float64 {
	return (m.Bid + m.Ask) / 2
}

// Crossed reports whether the quote is crossed (bid above ask). Crossed
// quotes are not eligible for volatility solving.
func (m *MarketSnapshot) Crossed() bool {
	return m.Bid > m.Ask
}

// Age returns how long ago the snapshot was observed.
func (m *MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(m.Timestamp)
}
