package markets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rowanbeckett/greekwatch/internal/models"
)

func testDetail(epic string) InstrumentDetail {
	return InstrumentDetail{
		Epic:           epic,
		InstrumentName: "Daily US 500 6058.0 CALL",
		MarketID:       "US 500",
		UnderlyingEpic: "IX.D.SPTRD.IFS.IP",
		Right:          models.RightCall,
		Strike:         6058.0,
		Expiry:         time.Date(2026, time.September, 18, 23, 59, 59, 0, time.UTC),
		FetchedAt:      time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.json")

	first, err := NewCache(path)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	detail := testDetail("OP.D.SPX1.6058.IP")
	if err := first.Put(detail); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	second, err := NewCache(path)
	if err != nil {
		t.Fatalf("NewCache(reopen) error = %v", err)
	}
	got, ok := second.Get(detail.Epic)
	if !ok {
		t.Fatal("Get() after reopen = not found, expected cached entry")
	}
	if got.Strike != detail.Strike || got.Right != detail.Right || !got.Expiry.Equal(detail.Expiry) {
		t.Errorf("Get() = %+v, expected %+v", got, detail)
	}
	if got.UnderlyingEpic != detail.UnderlyingEpic {
		t.Errorf("UnderlyingEpic = %v, expected %v", got.UnderlyingEpic, detail.UnderlyingEpic)
	}
}

func TestCacheMissingEntry(t *testing.T) {
	c, err := NewCache(filepath.Join(t.TempDir(), "instruments.json"))
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	if _, ok := c.Get("OP.D.UNKNOWN.1.IP"); ok {
		t.Error("Get(unknown) = found, expected miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %v, expected 0", c.Len())
	}
}

func TestCacheInMemoryWhenPathEmpty(t *testing.T) {
	c, err := NewCache("")
	if err != nil {
		t.Fatalf("NewCache(\"\") error = %v", err)
	}
	if err := c.Put(testDetail("OP.D.SPX1.6058.IP")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %v, expected 1", c.Len())
	}
}

func TestCacheCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "instruments.json")

	c, err := NewCache(path)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	if err := c.Put(testDetail("OP.D.SPX1.6058.IP")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("cache file not written: %v", err)
	}
}

func TestCacheRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCache(path); err == nil {
		t.Error("NewCache(corrupt) error = nil, expected parse error")
	}
}

func TestCacheEpicsSorted(t *testing.T) {
	c, err := NewCache("")
	if err != nil {
		t.Fatalf("NewCache(\"\") error = %v", err)
	}

	for _, epic := range []string{"OP.D.US500.6100C.IP", "OP.D.DE40.21500C.IP", "OP.D.US500.5800P.IP"} {
		if err := c.Put(testDetail(epic)); err != nil {
			t.Fatalf("Put(%s) error = %v", epic, err)
		}
	}

	got := c.Epics()
	want := []string{"OP.D.DE40.21500C.IP", "OP.D.US500.5800P.IP", "OP.D.US500.6100C.IP"}
	if len(got) != len(want) {
		t.Fatalf("Epics() returned %d epics, expected %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Epics()[%d] = %q, expected %q", i, got[i], want[i])
		}
	}
}
