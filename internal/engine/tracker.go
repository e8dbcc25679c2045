// Package engine turns position and quote batches into the analytics table:
// it tracks per-contract state, runs the volatility solver, and publishes a
// refreshed table after every cycle.
package engine

import (
	"sort"
	"sync"

	"github.com/rowanbeckett/greekwatch/internal/models"
)

// ContractState pairs a contract with the freshest snapshot accepted for it
// and the analytics computed from that snapshot. Version counts accepted
// snapshots; rejected ones leave it untouched.
type ContractState struct {
	Contract     models.Contract
	LastSnapshot models.MarketSnapshot
	LastResult   models.AnalyticsResult
	Version      uint64
}

// Tracker owns the per-contract state map. The processor is its only
// writer; readers get copies and can hold them across cycles safely.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]*ContractState
}

func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[string]*ContractState),
	}
}

// Apply records the snapshot when it is strictly newer than the one already
// held and reports whether it was accepted. Equal or older timestamps are
// rejected without touching state, so replayed and out-of-order quotes are
// no-ops. The contract metadata is refreshed on acceptance.
func (t *Tracker) Apply(c models.Contract, snap models.MarketSnapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[c.ID]
	if !ok {
		t.states[c.ID] = &ContractState{
			Contract:     c,
			LastSnapshot: snap,
			Version:      1,
		}
		return true
	}
	if !snap.Timestamp.After(state.LastSnapshot.Timestamp) {
		return false
	}

	state.Contract = c
	state.LastSnapshot = snap
	state.Version++
	return true
}

// StoreResult attaches the analytics computed for the contract's current
// snapshot. Unknown contracts are ignored.
func (t *Tracker) StoreResult(id string, res models.AnalyticsResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.states[id]; ok {
		state.LastResult = res
	}
}

// Get returns a copy of the state for one contract.
func (t *Tracker) Get(id string) (ContractState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.states[id]
	if !ok {
		return ContractState{}, false
	}
	return *state, true
}

// Retain drops every contract not present in keep and returns how many were
// removed. Called once per cycle with the open position set so closed
// positions stop occupying the table.
func (t *Tracker) Retain(keep map[string]struct{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id := range t.states {
		if _, ok := keep[id]; !ok {
			delete(t.states, id)
			removed++
		}
	}
	return removed
}

// States returns copies of all tracked states ordered by contract ID.
func (t *Tracker) States() []ContractState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ContractState, 0, len(t.states))
	for _, state := range t.states {
		out = append(out, *state)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Contract.ID < out[j].Contract.ID
	})
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}
