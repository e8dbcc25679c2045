package pricing

import (
	"math"
	"testing"

	"github.com/rowanbeckett/greekwatch/internal/models"
)

func TestSolveRecoversKnownVol(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		vol    float64
	}{
		{
			name: "at the money index call",
			params: Params{
				Underlying: 100, Strike: 100, TimeToExpiry: 1.0,
				RiskFree: 0.05, Right: models.RightCall,
			},
			vol: 0.20,
		},
		{
			name: "at the money index put",
			params: Params{
				Underlying: 100, Strike: 100, TimeToExpiry: 1.0,
				RiskFree: 0.05, Right: models.RightPut,
			},
			vol: 0.20,
		},
		{
			name: "out of the money call",
			params: Params{
				Underlying: 100, Strike: 110, TimeToExpiry: 0.5,
				RiskFree: 0.02, Right: models.RightCall,
			},
			vol: 0.25,
		},
		{
			name: "deep out of the money call",
			params: Params{
				Underlying: 100, Strike: 150, TimeToExpiry: 0.25,
				RiskFree: 0.02, Right: models.RightCall,
			},
			vol: 0.35,
		},
		{
			name: "in the money put with carry",
			params: Params{
				Underlying: 95, Strike: 110, TimeToExpiry: 0.75,
				RiskFree: 0.03, Carry: 0.01, Right: models.RightPut,
			},
			vol: 0.40,
		},
		{
			name: "high vol fx style",
			params: Params{
				Underlying: 1.10, Strike: 1.12, TimeToExpiry: 0.1,
				RiskFree: 0.01, Right: models.RightCall,
			},
			vol: 0.95,
		},
		{
			name: "low vol large index",
			params: Params{
				Underlying: 21500, Strike: 21000, TimeToExpiry: 0.08,
				RiskFree: 0.04, Right: models.RightPut,
			},
			vol: 0.12,
		},
	}

	solver := NewSolver(DefaultSolverConfig)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mid := Price(tt.params, tt.vol)
			sol := solver.Solve(tt.params, mid)

			if sol.Outcome != OutcomeConverged {
				t.Fatalf("Solve() outcome = %v (%s), expected converged", sol.Outcome, sol.Detail)
			}
			if !within(sol.Vol, tt.vol, 1e-3) {
				t.Errorf("Solve() vol = %v, expected %v", sol.Vol, tt.vol)
			}
			if sol.Iterations < 1 || sol.Iterations > DefaultSolverConfig.MaxIterations {
				t.Errorf("Solve() iterations = %v, expected within [1, %v]", sol.Iterations, DefaultSolverConfig.MaxIterations)
			}
		})
	}
}

// A mid of 5.88 on a six-month at-the-money call struck at 100 with rates
// near zero implies a vol close to 20% and a delta a little above a half.
func TestSolveAtTheMoneyScenario(t *testing.T) {
	p := Params{
		Underlying: 100, Strike: 100, TimeToExpiry: 0.5,
		RiskFree: 0.01, Right: models.RightCall,
	}
	solver := NewSolver(DefaultSolverConfig)

	sol := solver.Solve(p, 5.88)
	if sol.Outcome != OutcomeConverged {
		t.Fatalf("Solve() outcome = %v (%s), expected converged", sol.Outcome, sol.Detail)
	}
	if !within(sol.Vol, 0.20, 0.005) {
		t.Errorf("Solve() vol = %v, expected 0.20 within 0.005", sol.Vol)
	}
	if delta := Delta(p, sol.Vol); !within(delta, 0.55, 0.02) {
		t.Errorf("Delta at solved vol = %v, expected 0.55 within 0.02", delta)
	}
}

func TestSolveDegenerateInput(t *testing.T) {
	base := Params{
		Underlying: 100, Strike: 100, TimeToExpiry: 0.5,
		RiskFree: 0.01, Right: models.RightCall,
	}
	itm := Params{
		Underlying: 120, Strike: 100, TimeToExpiry: 0.25,
		RiskFree: 0.02, Right: models.RightCall,
	}

	tests := []struct {
		name   string
		params Params
		mid    float64
	}{
		{"expired contract", Params{Underlying: 100, Strike: 100, TimeToExpiry: 0, Right: models.RightCall}, 5.0},
		{"negative time to expiry", Params{Underlying: 100, Strike: 100, TimeToExpiry: -0.01, Right: models.RightCall}, 5.0},
		{"zero underlying", Params{Strike: 100, TimeToExpiry: 0.5, Right: models.RightCall}, 5.0},
		{"zero strike", Params{Underlying: 100, TimeToExpiry: 0.5, Right: models.RightPut}, 5.0},
		{"zero mid", base, 0},
		{"negative mid", base, -2.5},
		{"mid below intrinsic", itm, 15.0},
		{"mid above theoretical maximum", base, 100.5},
	}

	solver := NewSolver(DefaultSolverConfig)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol := solver.Solve(tt.params, tt.mid)
			if sol.Outcome != OutcomeDegenerateInput {
				t.Errorf("Solve() outcome = %v, expected degenerate_input", sol.Outcome)
			}
			if sol.Detail == "" {
				t.Error("Solve() detail is empty, expected a reason")
			}
		})
	}
}

func TestSolveNoConvergence(t *testing.T) {
	base := Params{
		Underlying: 100, Strike: 100, TimeToExpiry: 0.5,
		Right: models.RightCall,
	}

	t.Run("mid below bracket range", func(t *testing.T) {
		// Above intrinsic but below the price at the lowest bracket vol.
		solver := NewSolver(DefaultSolverConfig)
		sol := solver.Solve(base, 0.001)
		if sol.Outcome != OutcomeNoConvergence {
			t.Errorf("Solve() outcome = %v, expected no_convergence", sol.Outcome)
		}
	})

	t.Run("mid above bracket range", func(t *testing.T) {
		// Below the theoretical maximum of 100 but above the price at the
		// highest bracket vol (~92.3).
		solver := NewSolver(DefaultSolverConfig)
		sol := solver.Solve(base, 95.0)
		if sol.Outcome != OutcomeNoConvergence {
			t.Errorf("Solve() outcome = %v, expected no_convergence", sol.Outcome)
		}
	})

	t.Run("iteration ceiling", func(t *testing.T) {
		solver := NewSolver(SolverConfig{
			PriceTolerance: 1e-15,
			MaxIterations:  2,
		})
		p := Params{
			Underlying: 100, Strike: 100, TimeToExpiry: 1.0,
			RiskFree: 0.05, Right: models.RightCall,
		}
		sol := solver.Solve(p, Price(p, 0.20))
		if sol.Outcome != OutcomeNoConvergence {
			t.Errorf("Solve() outcome = %v, expected no_convergence", sol.Outcome)
		}
		if sol.Iterations != 2 {
			t.Errorf("Solve() iterations = %v, expected 2", sol.Iterations)
		}
	})
}

func TestSolveZeroConfigUsesDefaults(t *testing.T) {
	p := Params{
		Underlying: 100, Strike: 100, TimeToExpiry: 1.0,
		RiskFree: 0.05, Right: models.RightCall,
	}
	solver := NewSolver(SolverConfig{})

	sol := solver.Solve(p, Price(p, 0.20))
	if sol.Outcome != OutcomeConverged {
		t.Fatalf("Solve() outcome = %v, expected converged", sol.Outcome)
	}
	if !within(sol.Vol, 0.20, 1e-3) {
		t.Errorf("Solve() vol = %v, expected 0.20", sol.Vol)
	}
}

func TestSolveRespectsTightBracket(t *testing.T) {
	p := Params{
		Underlying: 100, Strike: 100, TimeToExpiry: 1.0,
		RiskFree: 0.05, Right: models.RightCall,
	}
	solver := NewSolver(SolverConfig{
		BracketLow:  0.15,
		BracketHigh: 0.25,
	})

	sol := solver.Solve(p, Price(p, 0.20))
	if sol.Outcome != OutcomeConverged {
		t.Fatalf("Solve() outcome = %v, expected converged", sol.Outcome)
	}
	if sol.Vol < 0.15 || sol.Vol > 0.25 {
		t.Errorf("Solve() vol = %v, expected inside [0.15, 0.25]", sol.Vol)
	}

	// True vol above the ceiling cannot converge inside the bracket.
	sol = solver.Solve(p, Price(p, 0.50))
	if sol.Outcome != OutcomeNoConvergence {
		t.Errorf("Solve() outcome = %v, expected no_convergence", sol.Outcome)
	}
}

func TestSolveDeterministic(t *testing.T) {
	p := Params{
		Underlying: 100, Strike: 105, TimeToExpiry: 0.3,
		RiskFree: 0.02, Right: models.RightPut,
	}
	solver := NewSolver(DefaultSolverConfig)
	mid := Price(p, 0.33)

	first := solver.Solve(p, mid)
	for i := 0; i < 5; i++ {
		if got := solver.Solve(p, mid); got != first {
			t.Fatalf("Solve() = %+v, expected %+v on repeat", got, first)
		}
	}
}

func TestSolveAccuracyAgainstRoundTrip(t *testing.T) {
	// Whatever vol the solver lands on must reprice the option within the
	// configured tolerance of the observed mid.
	solver := NewSolver(DefaultSolverConfig)
	p := Params{
		Underlying: 6058, Strike: 6100, TimeToExpiry: 0.12,
		RiskFree: 0.03, Right: models.RightCall,
	}

	for _, mid := range []float64{25.0, 80.0, 140.0, 300.0} {
		sol := solver.Solve(p, mid)
		if sol.Outcome != OutcomeConverged {
			t.Fatalf("Solve(mid=%v) outcome = %v (%s), expected converged", mid, sol.Outcome, sol.Detail)
		}
		tol := DefaultSolverConfig.PriceTolerance * math.Max(1, mid)
		if got := Price(p, sol.Vol); !within(got, mid, tol) {
			t.Errorf("Price at solved vol = %v, expected %v within %v", got, mid, tol)
		}
	}
}
