// Package feed polls the brokerage for open option positions, resolves
// each one into a tracked contract, and pairs it with a quote snapshot.
// One poll becomes one engine.Batch.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rowanbeckett/greekwatch/internal/broker"
	"github.com/rowanbeckett/greekwatch/internal/engine"
	"github.com/rowanbeckett/greekwatch/internal/markets"
	"github.com/rowanbeckett/greekwatch/internal/models"
	"github.com/rowanbeckett/greekwatch/internal/util"
)

// Options tunes a Poller.
type Options struct {
	Interval time.Duration // poll cadence
	RiskFree float64       // annualized risk-free rate stamped on snapshots
	Carry    float64       // annualized carry rate stamped on snapshots
}

// Poller drives the feed: each cycle lists open positions, resolves option
// contracts through the instrument cache, fetches every underlying quote
// once, and emits the assembled batch. Option quotes come from the
// positions response itself; only underlyings need extra requests.
type Poller struct {
	client   broker.Client
	cache    *markets.Cache
	interval time.Duration
	riskFree float64
	carry    float64
	logger   *logrus.Logger
	now      func() time.Time
}

// NewPoller wires a poller. A nil logger falls back to the standard logrus
// logger; a non-positive interval falls back to 5 seconds.
func NewPoller(client broker.Client, cache *markets.Cache, opts Options, logger *logrus.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Poller{
		client:   client,
		cache:    cache,
		interval: opts.Interval,
		riskFree: opts.RiskFree,
		carry:    opts.Carry,
		logger:   logger,
		now:      time.Now,
	}
}

// Run polls until the context is cancelled, sending one batch per cycle.
// Failed cycles are logged and the next tick tried again; invalid
// credentials abort the run since retrying them cannot help.
func (p *Poller) Run(ctx context.Context, out chan<- engine.Batch) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		batch, err := p.Cycle(ctx)
		switch {
		case err == nil:
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		case errors.Is(err, broker.ErrInvalidCredentials):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			p.logger.WithError(err).Warn("poll cycle failed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Cycle performs one poll and assembles its batch. Per-contract failures
// land in the batch's error list; only a failed positions fetch fails the
// whole cycle. An empty book yields an empty batch, which downstream
// clears the table with.
func (p *Poller) Cycle(ctx context.Context) (engine.Batch, error) {
	at := p.now().UTC()
	batch := engine.Batch{ID: uuid.NewString(), At: at}

	var records []broker.PositionRecord
	err := p.withAuth(ctx, func() error {
		var err error
		records, err = p.client.Positions(ctx)
		return err
	})
	if err != nil {
		return engine.Batch{}, fmt.Errorf("list positions: %w", err)
	}

	// Underlying quotes are fetched at most once per epic per cycle, so
	// every leg on the same index prices off the same level.
	underlyingMids := make(map[string]float64)
	underlyingErrs := make(map[string]error)

	for _, rec := range records {
		if !markets.IsOptionEpic(rec.Market.Epic) {
			p.logger.WithField("epic", rec.Market.Epic).Debug("skipping non-option position")
			continue
		}

		detail, ok := p.cache.Get(rec.Market.Epic)
		if !ok {
			var fail *resolveFailure
			detail, fail = p.resolveInstrument(ctx, rec, underlyingMids, underlyingErrs)
			if fail != nil {
				batch.Errors = append(batch.Errors, engine.ErrorEntry{
					ContractID: rec.Position.DealID,
					Reason:     fail.reason,
					Detail:     fail.err.Error(),
					At:         at,
				})
				p.logger.WithError(fail.err).WithFields(logrus.Fields{
					"epic": rec.Market.Epic,
					"name": rec.Market.InstrumentName,
				}).Warn("failed to resolve instrument")
				continue
			}
		}

		contract := contractFrom(detail, rec)
		if err := contract.Validate(); err != nil {
			batch.Errors = append(batch.Errors, engine.ErrorEntry{
				ContractID: rec.Position.DealID,
				Reason:     models.ReasonInstrumentParse,
				Detail:     err.Error(),
				At:         at,
			})
			continue
		}
		batch.Positions = append(batch.Positions, contract)

		mid, err := p.underlyingMid(ctx, detail.UnderlyingEpic, underlyingMids, underlyingErrs)
		if err != nil {
			batch.Errors = append(batch.Errors, engine.ErrorEntry{
				ContractID: contract.ID,
				Reason:     models.ReasonNoMarketData,
				Detail:     fmt.Sprintf("underlying quote: %v", err),
				At:         at,
			})
			continue
		}

		batch.Snapshots = append(batch.Snapshots, models.MarketSnapshot{
			ContractID: contract.ID,
			Bid:        rec.Market.Bid,
			Ask:        rec.Market.Offer,
			Underlying: mid,
			Timestamp:  at,
			RiskFree:   p.riskFree,
			Carry:      p.carry,
		})
	}

	p.logger.WithFields(logrus.Fields{
		"cycle_id":  batch.ID,
		"positions": len(batch.Positions),
		"snapshots": len(batch.Snapshots),
		"errors":    len(batch.Errors),
	}).Debug("feed cycle assembled")

	return batch, nil
}

// resolveFailure classifies why an instrument could not be resolved.
type resolveFailure struct {
	reason models.FailureReason
	err    error
}

// resolveInstrument builds the cached detail for an option seen for the
// first time: strike and right from the instrument name, expiry from the
// market block, underlying via the marketId mapping. The strike passes
// through the FX decimal adjustment against the live underlying level
// before it is cached, so it is only adjusted once.
func (p *Poller) resolveInstrument(ctx context.Context, rec broker.PositionRecord,
	mids map[string]float64, errs map[string]error) (markets.InstrumentDetail, *resolveFailure) {

	strike, right, err := markets.ParseOptionName(rec.Market.InstrumentName)
	if err != nil {
		return markets.InstrumentDetail{}, &resolveFailure{models.ReasonInstrumentParse, err}
	}
	expiry, err := markets.ParseExpiry(rec.Market.Expiry)
	if err != nil {
		return markets.InstrumentDetail{}, &resolveFailure{models.ReasonInstrumentParse, err}
	}

	var details *broker.MarketDetails
	err = p.withAuth(ctx, func() error {
		var err error
		details, err = p.client.MarketDetails(ctx, rec.Market.Epic)
		return err
	})
	if err != nil {
		return markets.InstrumentDetail{}, &resolveFailure{models.ReasonNoMarketData,
			fmt.Errorf("fetch instrument details: %w", err)}
	}

	underlyingEpic, ok := markets.UnderlyingEpic(details.Instrument.MarketID)
	if !ok {
		return markets.InstrumentDetail{}, &resolveFailure{models.ReasonInstrumentParse,
			fmt.Errorf("no underlying epic mapping for market %q", details.Instrument.MarketID)}
	}

	mid, err := p.underlyingMid(ctx, underlyingEpic, mids, errs)
	if err != nil {
		return markets.InstrumentDetail{}, &resolveFailure{models.ReasonNoMarketData,
			fmt.Errorf("underlying quote: %w", err)}
	}

	detail := markets.InstrumentDetail{
		Epic:           rec.Market.Epic,
		InstrumentName: rec.Market.InstrumentName,
		MarketID:       details.Instrument.MarketID,
		UnderlyingEpic: underlyingEpic,
		Right:          right,
		Strike:         markets.AdjustFXStrike(strike, mid),
		Expiry:         expiry,
		FetchedAt:      p.now().UTC(),
	}
	if err := p.cache.Put(detail); err != nil {
		p.logger.WithError(err).Warn("failed to persist instrument cache")
	}
	return detail, nil
}

// underlyingMid returns the quote midpoint for an underlying epic, served
// from the per-cycle maps when already fetched this cycle.
func (p *Poller) underlyingMid(ctx context.Context, epic string,
	mids map[string]float64, errs map[string]error) (float64, error) {

	if mid, ok := mids[epic]; ok {
		return mid, nil
	}
	if err, ok := errs[epic]; ok {
		return 0, err
	}

	var details *broker.MarketDetails
	err := p.withAuth(ctx, func() error {
		var err error
		details, err = p.client.MarketDetails(ctx, epic)
		return err
	})
	if err != nil {
		errs[epic] = err
		return 0, err
	}

	mid := util.Mid(details.Snapshot.Bid, details.Snapshot.Offer)
	mids[epic] = mid
	return mid, nil
}

// withAuth runs fn, logging in and retrying once when the session is
// missing or expired.
func (p *Poller) withAuth(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || (!errors.Is(err, broker.ErrNotAuthenticated) && !errors.Is(err, broker.ErrSessionExpired)) {
		return err
	}

	p.logger.WithError(err).Info("session missing or expired, logging in")
	if lerr := p.client.Login(ctx); lerr != nil {
		return fmt.Errorf("login: %w", lerr)
	}
	return fn()
}

func contractFrom(detail markets.InstrumentDetail, rec broker.PositionRecord) models.Contract {
	return models.Contract{
		ID:             rec.Position.DealID,
		Epic:           detail.Epic,
		InstrumentName: detail.InstrumentName,
		UnderlyingEpic: detail.UnderlyingEpic,
		Right:          detail.Right,
		Strike:         detail.Strike,
		Expiry:         detail.Expiry,
		Direction:      models.Direction(rec.Position.Direction),
		Size:           rec.Position.DealSize,
		Currency:       rec.Position.Currency,
	}
}
