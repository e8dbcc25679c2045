package engine

import (
	"context"
	"sort"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"

	"github.com/rowanbeckett/greekwatch/internal/models"
	"github.com/rowanbeckett/greekwatch/internal/pricing"
)

// TopicTableUpdated is the event bus topic a refreshed AnalyticsTable is
// published on after every processed batch.
const TopicTableUpdated = "analytics:table"

// Batch is one feed cycle: the open positions, the quotes gathered for
// them, and any per-contract failures the feed hit while gathering.
type Batch struct {
	ID        string
	At        time.Time
	Positions []models.Contract
	Snapshots []models.MarketSnapshot
	Errors    []ErrorEntry
}

// ErrorEntry is a per-contract failure surfaced in the table instead of
// aborting the cycle.
type ErrorEntry struct {
	ContractID string               `json:"contract_id"`
	Reason     models.FailureReason `json:"reason"`
	Detail     string               `json:"detail"`
	At         time.Time            `json:"at"`
}

// Row is one open position in the analytics table.
type Row struct {
	Contract   models.Contract        `json:"contract"`
	Result     models.AnalyticsResult `json:"result"`
	SnapshotAt time.Time              `json:"snapshot_at"`
	// Stale marks rows whose backing quote is older than the staleness
	// window. The numbers stay as computed at quote time; nothing is
	// extrapolated to now.
	Stale bool `json:"stale"`
	// PositionDelta is the contract delta signed by direction and scaled
	// by position size. Zero when the result is unavailable.
	PositionDelta float64 `json:"position_delta"`
}

// AnalyticsTable is the full output of one cycle, ordered by contract ID.
// The counters are cumulative across the processor's lifetime.
type AnalyticsTable struct {
	Rows        []Row        `json:"rows"`
	Errors      []ErrorEntry `json:"errors,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
	CycleID     string       `json:"cycle_id"`

	DroppedStale   uint64 `json:"dropped_stale"`
	IgnoredUnknown uint64 `json:"ignored_unknown"`
}

// Processor consumes batches, maintains the tracker, and publishes the
// resulting table. It is single-writer: one goroutine calls Run or
// ProcessBatch at a time.
type Processor struct {
	tracker   *Tracker
	solver    *pricing.Solver
	staleness time.Duration
	bus       EventBus.Bus
	logger    *logrus.Logger

	droppedStale   uint64
	ignoredUnknown uint64
}

// NewProcessor wires a processor. A nil logger falls back to the standard
// logrus logger; a nil bus disables publishing.
func NewProcessor(tracker *Tracker, solver *pricing.Solver, staleness time.Duration, bus EventBus.Bus, logger *logrus.Logger) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{
		tracker:   tracker,
		solver:    solver,
		staleness: staleness,
		bus:       bus,
		logger:    logger,
	}
}

// Run consumes batches until the context is cancelled or the channel
// closes. Each batch produces and publishes one table.
func (p *Processor) Run(ctx context.Context, batches <-chan Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			p.ProcessBatch(batch)
		}
	}
}

// ProcessBatch ingests one cycle and returns the refreshed table. Closed
// positions are dropped from tracking, unknown and non-newer snapshots are
// counted and skipped, and every open position gets exactly one row.
func (p *Processor) ProcessBatch(batch Batch) AnalyticsTable {
	open := make(map[string]models.Contract, len(batch.Positions))
	keep := make(map[string]struct{}, len(batch.Positions))
	for _, c := range batch.Positions {
		open[c.ID] = c
		keep[c.ID] = struct{}{}
	}

	if removed := p.tracker.Retain(keep); removed > 0 {
		p.logger.WithField("removed", removed).Debug("dropped closed positions from tracking")
	}

	for _, snap := range batch.Snapshots {
		contract, ok := open[snap.ContractID]
		if !ok {
			p.ignoredUnknown++
			p.logger.WithField("contract_id", snap.ContractID).Debug("ignoring snapshot for unknown contract")
			continue
		}
		if !p.tracker.Apply(contract, snap) {
			p.droppedStale++
			p.logger.WithFields(logrus.Fields{
				"contract_id": snap.ContractID,
				"timestamp":   snap.Timestamp,
			}).Debug("dropped non-newer snapshot")
			continue
		}
		p.tracker.StoreResult(contract.ID, p.compute(contract, snap, batch.At))
	}

	table := p.buildTable(batch, open)
	if p.bus != nil {
		p.bus.Publish(TopicTableUpdated, table)
	}

	available := 0
	for _, row := range table.Rows {
		if row.Result.Available {
			available++
		}
	}
	p.logger.WithFields(logrus.Fields{
		"cycle_id":  batch.ID,
		"rows":      len(table.Rows),
		"available": available,
		"errors":    len(table.Errors),
	}).Info("analytics cycle processed")

	return table
}

// compute prices one contract off one accepted snapshot.
func (p *Processor) compute(c models.Contract, snap models.MarketSnapshot, at time.Time) models.AnalyticsResult {
	if snap.Crossed() {
		return models.Unavailable(c.ID, at, models.ReasonDegenerateInput, "crossed quote")
	}

	tte := c.YearsToExpiry(snap.Timestamp)
	if tte <= 0 {
		return models.Unavailable(c.ID, at, models.ReasonDegenerateInput, "contract expired")
	}
	if tte < pricing.MinTimeToExpiry {
		tte = pricing.MinTimeToExpiry
	}

	params := pricing.Params{
		Underlying:   snap.Underlying,
		Strike:       c.Strike,
		TimeToExpiry: tte,
		RiskFree:     snap.RiskFree,
		Carry:        snap.Carry,
		Right:        c.Right,
	}

	sol := p.solver.Solve(params, snap.Mid())
	switch sol.Outcome {
	case pricing.OutcomeConverged:
		return models.AnalyticsResult{
			ContractID:   c.ID,
			Available:    true,
			ImpliedVol:   sol.Vol,
			Delta:        pricing.Delta(params, sol.Vol),
			Theta:        pricing.Theta(params, sol.Vol),
			TimeToExpiry: tte,
			Iterations:   sol.Iterations,
			ComputedAt:   at,
		}
	case pricing.OutcomeNoConvergence:
		res := models.Unavailable(c.ID, at, models.ReasonNonConvergence, sol.Detail)
		res.Iterations = sol.Iterations
		res.TimeToExpiry = tte
		return res
	default:
		res := models.Unavailable(c.ID, at, models.ReasonDegenerateInput, sol.Detail)
		res.TimeToExpiry = tte
		return res
	}
}

func (p *Processor) buildTable(batch Batch, open map[string]models.Contract) AnalyticsTable {
	rows := make([]Row, 0, len(open))
	for id, contract := range open {
		state, ok := p.tracker.Get(id)
		if !ok {
			rows = append(rows, Row{
				Contract: contract,
				Result:   models.Unavailable(id, batch.At, models.ReasonNoMarketData, "no quote accepted yet"),
				Stale:    true,
			})
			continue
		}

		row := Row{
			Contract:   state.Contract,
			Result:     state.LastResult,
			SnapshotAt: state.LastSnapshot.Timestamp,
			Stale:      batch.At.Sub(state.LastSnapshot.Timestamp) > p.staleness,
		}
		if row.Result.Available {
			row.PositionDelta = state.Contract.Direction.Sign() * state.Contract.Size * row.Result.Delta
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Contract.ID < rows[j].Contract.ID
	})

	return AnalyticsTable{
		Rows:           rows,
		Errors:         batch.Errors,
		GeneratedAt:    batch.At,
		CycleID:        batch.ID,
		DroppedStale:   p.droppedStale,
		IgnoredUnknown: p.ignoredUnknown,
	}
}
