package mock

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rowanbeckett/greekwatch/internal/broker"
	"github.com/rowanbeckett/greekwatch/internal/markets"
	"github.com/rowanbeckett/greekwatch/internal/pricing"
)

func TestLoginRequired(t *testing.T) {
	client := NewClient()
	ctx := context.Background()

	if _, err := client.Positions(ctx); !errors.Is(err, broker.ErrNotAuthenticated) {
		t.Errorf("Positions() before login error = %v, expected ErrNotAuthenticated", err)
	}
	if _, err := client.MarketDetails(ctx, "IX.D.SPTRD.IFS.IP"); !errors.Is(err, broker.ErrNotAuthenticated) {
		t.Errorf("MarketDetails() before login error = %v, expected ErrNotAuthenticated", err)
	}

	if err := client.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := client.Positions(ctx); err != nil {
		t.Errorf("Positions() after login error = %v", err)
	}
}

func TestPositionsBook(t *testing.T) {
	client := NewClient()
	ctx := context.Background()
	if err := client.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	records, err := client.Positions(ctx)
	if err != nil {
		t.Fatalf("Positions() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Positions() returned %d records, expected 3", len(records))
	}

	for _, rec := range records {
		if !markets.IsOptionEpic(rec.Market.Epic) {
			t.Errorf("epic %s not recognized as an option", rec.Market.Epic)
		}
		if rec.Market.Bid < 0 || rec.Market.Bid > rec.Market.Offer {
			t.Errorf("%s quote crossed or negative: %v/%v", rec.Market.Epic, rec.Market.Bid, rec.Market.Offer)
		}
		if _, _, err := markets.ParseOptionName(rec.Market.InstrumentName); err != nil {
			t.Errorf("ParseOptionName(%q) error = %v", rec.Market.InstrumentName, err)
		}
		expiry, err := markets.ParseExpiry(rec.Market.Expiry)
		if err != nil {
			t.Errorf("ParseExpiry(%q) error = %v", rec.Market.Expiry, err)
		} else if !expiry.After(time.Now()) {
			t.Errorf("expiry %s not in the future", expiry)
		}
		if rec.Position.DealID == "" || rec.Position.DealSize <= 0 {
			t.Errorf("position %+v missing deal details", rec.Position)
		}
	}
}

func TestMarketDetailsServesUnderlyingsAndOptions(t *testing.T) {
	client := NewClient()
	ctx := context.Background()
	if err := client.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	underlying, err := client.MarketDetails(ctx, "IX.D.SPTRD.IFS.IP")
	if err != nil {
		t.Fatalf("MarketDetails(underlying) error = %v", err)
	}
	if underlying.Snapshot.Bid <= 0 || underlying.Snapshot.Bid >= underlying.Snapshot.Offer {
		t.Errorf("underlying quote = %v/%v, expected uncrossed positive",
			underlying.Snapshot.Bid, underlying.Snapshot.Offer)
	}

	option, err := client.MarketDetails(ctx, "OP.D.US500.6100C.IP")
	if err != nil {
		t.Fatalf("MarketDetails(option) error = %v", err)
	}
	if option.Instrument.MarketID != "US 500" {
		t.Errorf("option MarketID = %q, expected US 500", option.Instrument.MarketID)
	}
	if _, ok := markets.UnderlyingEpic(option.Instrument.MarketID); !ok {
		t.Errorf("MarketID %q has no underlying epic mapping", option.Instrument.MarketID)
	}

	_, err = client.MarketDetails(ctx, "OP.D.UNKNOWN.1.IP")
	var apiErr *broker.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Errorf("MarketDetails(unknown) error = %v, expected 404 APIError", err)
	}
}

// The quotes are generated from the pricing model, so solving the mid
// back must recover the vol each position was seeded with.
func TestSolverRecoversSeededVol(t *testing.T) {
	client := NewClient()
	solver := pricing.NewSolver(pricing.DefaultSolverConfig)

	client.mu.Lock()
	defer client.mu.Unlock()
	for _, pos := range client.positions {
		bid, offer := client.optionQuote(pos)
		mid := (bid + offer) / 2

		tte := time.Until(pos.expiry).Hours() / (24 * 365)
		if tte < pricing.MinTimeToExpiry {
			tte = pricing.MinTimeToExpiry
		}
		sol := solver.Solve(pricing.Params{
			Underlying:   client.levels[pos.underlyingEpic],
			Strike:       pos.strike,
			TimeToExpiry: tte,
			Right:        pos.right,
		}, mid)

		if sol.Outcome != pricing.OutcomeConverged {
			t.Errorf("%s: solve outcome = %v (%s), expected converged", pos.epic, sol.Outcome, sol.Detail)
			continue
		}
		if math.Abs(sol.Vol-pos.vol) > 1e-3 {
			t.Errorf("%s: solved vol = %v, seeded %v", pos.epic, sol.Vol, pos.vol)
		}
	}
}

func TestFormatExpiry(t *testing.T) {
	tests := []struct {
		in       time.Time
		expected string
	}{
		{time.Date(2025, time.January, 29, 0, 0, 0, 0, time.UTC), "29-JAN-25"},
		{time.Date(2025, time.September, 5, 0, 0, 0, 0, time.UTC), "5-SEP-25"},
	}
	for _, tt := range tests {
		if got := formatExpiry(tt.in); got != tt.expected {
			t.Errorf("formatExpiry(%v) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}
