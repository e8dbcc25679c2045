package models

import "time"

// FailureReason classifies why analytics for a contract are unavailable.
type FailureReason string

const (
	// ReasonDegenerateInput covers crossed quotes, non-positive time to
	// expiry, and prices outside the no-arbitrage bounds.
	ReasonDegenerateInput FailureReason = "degenerate_input"
	// ReasonNonConvergence means the volatility solver hit its iteration
	// ceiling or its bracket collapsed without repricing within tolerance.
	ReasonNonConvergence FailureReason = "non_convergence"
	// ReasonInstrumentParse means the feed could not interpret the broker's
	// instrument metadata (name, expiry, or underlying mapping).
	ReasonInstrumentParse FailureReason = "instrument_parse"
	// ReasonNoMarketData means the position is open but no quote for it has
	// been accepted yet.
	ReasonNoMarketData FailureReason = "no_market_data"
)

// AnalyticsResult holds the per-contract numbers computed from one accepted
// snapshot. When Available is false the greeks fields are meaningless and
// Reason says why; stale volatilities are never carried forward into a new
// result.
type AnalyticsResult struct {
	ContractID string `json:"contract_id"`
	Available  bool   `json:"available"`

	ImpliedVol float64 `json:"implied_vol"` // annualized, decimal
	Delta      float64 `json:"delta"`       // in [-1, 1]
	Theta      float64 `json:"theta"`       // per calendar day, typically <= 0

	TimeToExpiry float64   `json:"time_to_expiry"` // years used in the computation
	Iterations   int       `json:"iterations"`     // solver iterations attempted
	ComputedAt   time.Time `json:"computed_at"`

	Reason FailureReason `json:"reason,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

// Unavailable builds a failed result for the given contract.
func Unavailable(contractID string, at time.Time, reason FailureReason, detail string) AnalyticsResult {
	return AnalyticsResult{
		ContractID: contractID,
		Available:  false,
		ComputedAt: at,
		Reason:     reason,
		Detail:     detail,
	}
}
