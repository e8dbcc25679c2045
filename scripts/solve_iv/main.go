// solve_iv - A utility to run the volatility solver by hand.
// Feed it a quote and a contract and it prints the implied vol and greeks,
// or the theoretical price when -vol is given. Useful for checking what
// the engine would compute for a position without polling the API.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rowanbeckett/greekwatch/internal/markets"
	"github.com/rowanbeckett/greekwatch/internal/models"
	"github.com/rowanbeckett/greekwatch/internal/pricing"
)

func main() {
	var (
		mid      = flag.Float64("price", 0, "Observed option mid price")
		vol      = flag.Float64("vol", 0, "Annualized vol; when set, price the option instead of solving")
		under    = flag.Float64("under", 0, "Underlying level")
		strike   = flag.Float64("strike", 0, "Strike price")
		expiry   = flag.String("expiry", "", "Expiry as DD-MMM-YY or MMM-YY, e.g. 19-SEP-25")
		days     = flag.Float64("days", 0, "Days to expiry, used when -expiry is not set")
		right    = flag.String("right", "call", "Option right: call or put")
		riskFree = flag.Float64("rate", 0, "Annualized risk-free rate")
		carry    = flag.Float64("carry", 0, "Annualized carry rate")
	)
	flag.Parse()

	if *under <= 0 || *strike <= 0 {
		log.Fatal("-under and -strike are required and must be positive")
	}

	tte, err := timeToExpiry(*expiry, *days)
	if err != nil {
		log.Fatalf("Bad expiry: %v", err)
	}

	optRight := models.OptionRight(strings.ToLower(*right))
	if !optRight.Valid() {
		log.Fatalf("Bad right %q, expected call or put", *right)
	}

	params := pricing.Params{
		Underlying:   *under,
		Strike:       *strike,
		TimeToExpiry: tte,
		RiskFree:     *riskFree,
		Carry:        *carry,
		Right:        optRight,
	}

	fmt.Printf("%s %v @ %.6g, %.4f years to expiry\n", optRight, *strike, *under, tte)

	if *vol > 0 {
		fmt.Printf("theoretical price: %.4f\n", pricing.Price(params, *vol))
		printGreeks(params, *vol)
		return
	}

	if *mid <= 0 {
		log.Fatal("Either -price (to solve) or -vol (to price) is required")
	}

	sol := pricing.NewSolver(pricing.SolverConfig{}).Solve(params, *mid)
	if sol.Outcome != pricing.OutcomeConverged {
		log.Fatalf("Solve failed (%s): %s", sol.Outcome, sol.Detail)
	}

	fmt.Printf("implied vol: %.4f (%.2f%%), %d iterations\n", sol.Vol, sol.Vol*100, sol.Iterations)
	printGreeks(params, sol.Vol)
}

func printGreeks(params pricing.Params, vol float64) {
	fmt.Printf("delta: %.4f  theta/day: %.4f  vega: %.4f\n",
		pricing.Delta(params, vol), pricing.Theta(params, vol), pricing.Vega(params, vol))
}

func timeToExpiry(expiry string, days float64) (float64, error) {
	if expiry != "" {
		t, err := markets.ParseExpiry(expiry)
		if err != nil {
			return 0, err
		}
		tte := time.Until(t).Hours() / (24 * 365)
		if tte < pricing.MinTimeToExpiry {
			tte = pricing.MinTimeToExpiry
		}
		return tte, nil
	}
	if days <= 0 {
		return 0, fmt.Errorf("need -expiry or a positive -days")
	}
	return days / 365, nil
}
