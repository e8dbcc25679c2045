package pricing

import "math"

// Outcome classifies how a volatility solve ended.
type Outcome string

const (
	// OutcomeConverged means the solved vol reprices the option within the
	// configured price tolerance.
	OutcomeConverged Outcome = "converged"
	// OutcomeNoConvergence means the iteration ceiling was hit or the
	// bracket collapsed before repricing within tolerance.
	OutcomeNoConvergence Outcome = "no_convergence"
	// OutcomeDegenerateInput means the inputs admit no meaningful solve:
	// expired contract, non-positive prices, or an observed price outside
	// the no-arbitrage bounds.
	OutcomeDegenerateInput Outcome = "degenerate_input"
)

// vegaFloor is the smallest vega the Newton step will divide by. Below it
// the solver falls back to bisection for the iteration.
const vegaFloor = 1e-8

// initialVol is the first Newton guess, clamped into the bracket.
const initialVol = 0.3

// SolverConfig holds the tunables of the implied volatility search.
type SolverConfig struct {
	// PriceTolerance is relative to the observed mid, with the same value
	// as an absolute floor: tolerance = PriceTolerance * max(1, mid).
	PriceTolerance float64
	MaxIterations  int
	// BracketLow and BracketHigh bound the annualized vol search.
	BracketLow  float64
	BracketHigh float64
	// VolTolerance stops the search when the bracket narrows below it.
	VolTolerance float64
}

// DefaultSolverConfig covers liquid index and FX options comfortably:
// vols between 0.01% and 500% annualized.
var DefaultSolverConfig = SolverConfig{
	PriceTolerance: 1e-4,
	MaxIterations:  100,
	BracketLow:     1e-4,
	BracketHigh:    5.0,
	VolTolerance:   1e-6,
}

// Solution is the result of one implied volatility solve. Vol is only
// meaningful when Outcome is OutcomeConverged; Iterations reports the work
// done either way.
type Solution struct {
	Vol        float64
	Iterations int
	Outcome    Outcome
	Detail     string
}

// Solver inverts the pricing model: given an observed mid price it finds
// the volatility that reproduces it.
//
// The search is a bracketed hybrid: a Newton step whenever vega is
// numerically safe and the step stays inside the bracket, a bisection step
// otherwise. Newton alone diverges on deep out-of-the-money and near-expiry
// contracts where vega collapses; bisection alone is too slow for
// interactive refresh.
type Solver struct {
	cfg SolverConfig
}

// NewSolver builds a solver, filling any zero config fields from
// DefaultSolverConfig.
func NewSolver(cfg SolverConfig) *Solver {
	if cfg.PriceTolerance <= 0 {
		cfg.PriceTolerance = DefaultSolverConfig.PriceTolerance
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultSolverConfig.MaxIterations
	}
	if cfg.BracketLow <= 0 {
		cfg.BracketLow = DefaultSolverConfig.BracketLow
	}
	if cfg.BracketHigh <= cfg.BracketLow {
		cfg.BracketHigh = DefaultSolverConfig.BracketHigh
	}
	if cfg.VolTolerance <= 0 {
		cfg.VolTolerance = DefaultSolverConfig.VolTolerance
	}
	return &Solver{cfg: cfg}
}

// Solve finds the implied volatility for the observed mid price. It fails
// fast with OutcomeDegenerateInput when the price cannot correspond to any
// volatility, and never iterates past the configured ceiling.
func (s *Solver) Solve(p Params, mid float64) Solution {
	cfg := s.cfg

	if p.TimeToExpiry <= 0 {
		return Solution{Outcome: OutcomeDegenerateInput, Detail: "non-positive time to expiry"}
	}
	if p.Underlying <= 0 || p.Strike <= 0 {
		return Solution{Outcome: OutcomeDegenerateInput, Detail: "non-positive underlying or strike"}
	}
	if mid <= 0 {
		return Solution{Outcome: OutcomeDegenerateInput, Detail: "non-positive mid price"}
	}

	tol := cfg.PriceTolerance * math.Max(1, mid)

	if floor := DiscountedIntrinsic(p); mid < floor-tol {
		return Solution{Outcome: OutcomeDegenerateInput, Detail: "mid below intrinsic value"}
	}
	if upper := UpperBound(p); mid >= upper {
		return Solution{Outcome: OutcomeDegenerateInput, Detail: "mid above theoretical maximum"}
	}

	lo, hi := cfg.BracketLow, cfg.BracketHigh

	fLo := Price(p, lo) - mid
	if math.Abs(fLo) <= tol {
		return Solution{Vol: lo, Outcome: OutcomeConverged}
	}
	if fLo > 0 {
		// Price is real but sits below anything the bracket can reach.
		return Solution{Vol: lo, Outcome: OutcomeNoConvergence, Detail: "mid below bracket range"}
	}
	fHi := Price(p, hi) - mid
	if math.Abs(fHi) <= tol {
		return Solution{Vol: hi, Outcome: OutcomeConverged}
	}
	if fHi < 0 {
		return Solution{Vol: hi, Outcome: OutcomeNoConvergence, Detail: "mid above bracket range"}
	}

	vol := initialVol
	if vol <= lo || vol >= hi {
		vol = 0.5 * (lo + hi)
	}

	for i := 1; i <= cfg.MaxIterations; i++ {
		diff := Price(p, vol) - mid
		if math.Abs(diff) <= tol {
			return Solution{Vol: vol, Iterations: i, Outcome: OutcomeConverged}
		}

		// Price is monotone in vol, so the sign of diff tells which half
		// of the bracket keeps the root.
		if diff > 0 {
			hi = vol
		} else {
			lo = vol
		}
		if hi-lo < cfg.VolTolerance {
			return Solution{Vol: vol, Iterations: i, Outcome: OutcomeNoConvergence, Detail: "bracket collapsed"}
		}

		next := math.NaN()
		if vega := Vega(p, vol); vega >= vegaFloor {
			next = vol - diff/vega
		}
		if math.IsNaN(next) || next <= lo || next >= hi {
			next = 0.5 * (lo + hi)
		}
		vol = next
	}

	return Solution{Vol: vol, Iterations: cfg.MaxIterations, Outcome: OutcomeNoConvergence, Detail: "iteration ceiling reached"}
}
