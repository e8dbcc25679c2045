package engine

import (
	"testing"
	"time"

	"github.com/rowanbeckett/greekwatch/internal/models"
)

func testContract(id string) models.Contract {
	return models.Contract{
		ID:        id,
		Epic:      "OP." + id,
		Right:     models.RightCall,
		Strike:    100,
		Expiry:    time.Date(2026, 12, 18, 23, 59, 59, 0, time.UTC),
		Direction: models.DirectionBuy,
		Size:      1,
	}
}

func testSnapshot(id string, ts time.Time) models.MarketSnapshot {
	return models.MarketSnapshot{
		ContractID: id,
		Bid:        5.0,
		Ask:        5.2,
		Underlying: 100,
		Timestamp:  ts,
	}
}

func TestTrackerApplyOrdering(t *testing.T) {
	tr := NewTracker()
	c := testContract("DEAL1")
	t1 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if !tr.Apply(c, testSnapshot(c.ID, t1)) {
		t.Fatal("Apply(first snapshot) = false, expected accepted")
	}
	state, _ := tr.Get(c.ID)
	if state.Version != 1 {
		t.Errorf("Version = %v, expected 1", state.Version)
	}

	// Strictly newer is accepted.
	t2 := t1.Add(5 * time.Second)
	if !tr.Apply(c, testSnapshot(c.ID, t2)) {
		t.Error("Apply(newer snapshot) = false, expected accepted")
	}
	state, _ = tr.Get(c.ID)
	if state.Version != 2 {
		t.Errorf("Version = %v, expected 2", state.Version)
	}

	// Duplicate timestamp is rejected.
	if tr.Apply(c, testSnapshot(c.ID, t2)) {
		t.Error("Apply(duplicate timestamp) = true, expected rejected")
	}

	// Older timestamp is rejected and the newer snapshot is kept.
	older := testSnapshot(c.ID, t1)
	older.Bid = 99
	if tr.Apply(c, older) {
		t.Error("Apply(older snapshot) = true, expected rejected")
	}
	state, _ = tr.Get(c.ID)
	if state.Version != 2 {
		t.Errorf("Version = %v after rejections, expected 2", state.Version)
	}
	if !state.LastSnapshot.Timestamp.Equal(t2) {
		t.Errorf("LastSnapshot.Timestamp = %v, expected %v", state.LastSnapshot.Timestamp, t2)
	}
	if state.LastSnapshot.Bid == 99 {
		t.Error("rejected snapshot leaked into state")
	}
}

func TestTrackerRetain(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	for _, id := range []string{"A", "B", "C"} {
		tr.Apply(testContract(id), testSnapshot(id, now))
	}

	removed := tr.Retain(map[string]struct{}{"A": {}, "C": {}})
	if removed != 1 {
		t.Errorf("Retain() removed = %v, expected 1", removed)
	}
	if tr.Len() != 2 {
		t.Errorf("Len() = %v, expected 2", tr.Len())
	}
	if _, ok := tr.Get("B"); ok {
		t.Error("Get(B) found state, expected removed")
	}
}

func TestTrackerStatesSorted(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	for _, id := range []string{"ZETA", "ALPHA", "MID"} {
		tr.Apply(testContract(id), testSnapshot(id, now))
	}

	states := tr.States()
	if len(states) != 3 {
		t.Fatalf("States() returned %v entries, expected 3", len(states))
	}
	want := []string{"ALPHA", "MID", "ZETA"}
	for i, s := range states {
		if s.Contract.ID != want[i] {
			t.Errorf("States()[%d].ID = %v, expected %v", i, s.Contract.ID, want[i])
		}
	}
}

func TestTrackerGetReturnsCopy(t *testing.T) {
	tr := NewTracker()
	c := testContract("DEAL1")
	tr.Apply(c, testSnapshot(c.ID, time.Now()))

	state, _ := tr.Get(c.ID)
	state.Version = 999
	state.LastSnapshot.Bid = -1

	fresh, _ := tr.Get(c.ID)
	if fresh.Version != 1 || fresh.LastSnapshot.Bid == -1 {
		t.Error("mutating a returned state changed tracker internals")
	}
}
