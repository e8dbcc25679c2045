// Package mock provides an offline broker.Client that synthesizes a small
// book of option positions with self-consistent quotes, for running the
// watcher without IG credentials.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/rowanbeckett/greekwatch/internal/broker"
	"github.com/rowanbeckett/greekwatch/internal/models"
	"github.com/rowanbeckett/greekwatch/internal/pricing"
	"github.com/rowanbeckett/greekwatch/internal/util"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

type mockPosition struct {
	dealID         string
	epic           string
	name           string
	marketID       string
	underlyingEpic string
	right          models.OptionRight
	strike         float64
	expiry         time.Time
	direction      string
	size           float64
	vol            float64 // the "true" vol quotes are generated from
}

// Client simulates the IG API: a small book of index option positions plus
// their underlyings, with prices random-walking between polls. Option quotes
// are generated from the pricing model, so the solver recovers the seeded
// vols and the whole pipeline can be exercised offline.
type Client struct {
	mu        sync.Mutex
	loggedIn  bool
	levels    map[string]float64 // underlying level by epic
	positions []mockPosition
	now       func() time.Time
}

// Ensure Client implements broker.Client at compile time.
var _ broker.Client = (*Client)(nil)

// NewClient seeds the simulated book: a short US 500 strangle and a long
// Germany 40 weekly call.
func NewClient() *Client {
	now := time.Now().UTC()
	monthly := now.AddDate(0, 0, 31+int(secureFloat64()*14))
	weekly := now.AddDate(0, 0, 5)

	return &Client{
		levels: map[string]float64{
			"IX.D.SPTRD.IFS.IP": 6050 + secureFloat64()*20,
			"IX.D.DAX.IFS.IP":   21450 + secureFloat64()*60,
		},
		positions: []mockPosition{
			{
				dealID:         "DIAAAAMOCK00001",
				epic:           "OP.D.US500.6100C.IP",
				name:           "US 500 6100 CALL",
				marketID:       "US 500",
				underlyingEpic: "IX.D.SPTRD.IFS.IP",
				right:          models.RightCall,
				strike:         6100,
				expiry:         monthly,
				direction:      "SELL",
				size:           2,
				vol:            0.14 + secureFloat64()*0.06,
			},
			{
				dealID:         "DIAAAAMOCK00002",
				epic:           "OP.D.US500.5800P.IP",
				name:           "US 500 5800 PUT",
				marketID:       "US 500",
				underlyingEpic: "IX.D.SPTRD.IFS.IP",
				right:          models.RightPut,
				strike:         5800,
				expiry:         monthly,
				direction:      "SELL",
				size:           2,
				vol:            0.16 + secureFloat64()*0.06,
			},
			{
				dealID:         "DIAAAAMOCK00003",
				epic:           "OP.D.DE40.21500C.IP",
				name:           "Weekly Germany 40 (Wed)21500 CALL",
				marketID:       "Germany 40",
				underlyingEpic: "IX.D.DAX.IFS.IP",
				right:          models.RightCall,
				strike:         21500,
				expiry:         weekly,
				direction:      "BUY",
				size:           1,
				vol:            0.18 + secureFloat64()*0.08,
			},
		},
		now: time.Now,
	}
}

// Login always succeeds.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

// Positions returns the simulated book, walking underlying levels a little
// between calls so successive cycles see fresh prices.
func (c *Client) Positions(ctx context.Context) ([]broker.PositionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loggedIn {
		return nil, broker.ErrNotAuthenticated
	}

	for epic, level := range c.levels {
		c.levels[epic] = level * (1 + (secureFloat64()-0.5)*0.002)
	}

	records := make([]broker.PositionRecord, 0, len(c.positions))
	for _, pos := range c.positions {
		bid, offer := c.optionQuote(pos)
		records = append(records, broker.PositionRecord{
			Market: broker.MarketData{
				Epic:           pos.epic,
				InstrumentName: pos.name,
				InstrumentType: "OPTIONS",
				Expiry:         formatExpiry(pos.expiry),
				Bid:            bid,
				Offer:          offer,
				MarketStatus:   "TRADEABLE",
			},
			Position: broker.PositionData{
				DealID:       pos.dealID,
				Direction:    pos.direction,
				DealSize:     pos.size,
				ContractSize: 1,
				OpenLevel:    util.Mid(bid, offer),
				Currency:     "USD",
				CreatedDate:  c.now().Add(-48 * time.Hour).Format("2006/01/02 15:04:05:000"),
			},
		})
	}
	return records, nil
}

// MarketDetails serves both the option epics and their underlyings.
func (c *Client) MarketDetails(ctx context.Context, epic string) (*broker.MarketDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loggedIn {
		return nil, broker.ErrNotAuthenticated
	}

	if level, ok := c.levels[epic]; ok {
		spread := level * 0.0002
		return &broker.MarketDetails{
			Instrument: broker.InstrumentData{
				Epic: epic,
				Name: epic,
				Type: "INDICES",
			},
			Snapshot: broker.PriceSnapshot{
				Bid:          level - spread/2,
				Offer:        level + spread/2,
				MarketStatus: "TRADEABLE",
			},
		}, nil
	}

	for _, pos := range c.positions {
		if pos.epic != epic {
			continue
		}
		bid, offer := c.optionQuote(pos)
		return &broker.MarketDetails{
			Instrument: broker.InstrumentData{
				Epic:     pos.epic,
				Name:     pos.name,
				MarketID: pos.marketID,
				Type:     "OPTIONS",
				Expiry:   formatExpiry(pos.expiry),
			},
			Snapshot: broker.PriceSnapshot{
				Bid:          bid,
				Offer:        offer,
				MarketStatus: "TRADEABLE",
			},
		}, nil
	}

	return nil, &broker.APIError{Status: 404, Body: fmt.Sprintf("epic %s not found", epic)}
}

// optionQuote prices a position's option off the current underlying level
// and wraps a small spread around it. Callers hold c.mu.
func (c *Client) optionQuote(pos mockPosition) (bid, offer float64) {
	tte := pos.expiry.Sub(c.now()).Hours() / (24 * 365)
	if tte < pricing.MinTimeToExpiry {
		tte = pricing.MinTimeToExpiry
	}

	mid := pricing.Price(pricing.Params{
		Underlying:   c.levels[pos.underlyingEpic],
		Strike:       pos.strike,
		TimeToExpiry: tte,
		Right:        pos.right,
	}, pos.vol)

	spread := mid * 0.02
	if spread < 0.2 {
		spread = 0.2
	}
	bid = mid - spread/2
	if bid < 0 {
		bid = 0
	}
	// IG quotes index options in 0.1 ticks.
	return util.RoundToTick(bid, 0.1), util.RoundToTick(mid+spread/2, 0.1)
}

// formatExpiry renders an expiry the way IG does, e.g. "29-JAN-25".
func formatExpiry(t time.Time) string {
	return strings.ToUpper(t.Format("2-Jan-06"))
}
