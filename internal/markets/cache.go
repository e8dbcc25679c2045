package markets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rowanbeckett/greekwatch/internal/models"
)

// InstrumentDetail is everything the feed learns about one option
// instrument: the parsed strike, right and expiry plus the resolved
// underlying epic. Cached so the broker is asked once per instrument, not
// once per cycle.
type InstrumentDetail struct {
	Epic           string             `json:"epic"`
	InstrumentName string             `json:"instrument_name"`
	MarketID       string             `json:"market_id"`
	UnderlyingEpic string             `json:"underlying_epic"`
	Right          models.OptionRight `json:"right"`
	Strike         float64            `json:"strike"`
	Expiry         time.Time          `json:"expiry"`
	FetchedAt      time.Time          `json:"fetched_at"`
}

type cacheData struct {
	Instruments map[string]InstrumentDetail `json:"instruments"`
	LastUpdated time.Time                   `json:"last_updated"`
}

// Cache persists resolved instrument details across restarts. Writes go
// through a temp file and an atomic rename so a crash mid-save never
// corrupts the cache.
type Cache struct {
	mu   sync.RWMutex
	path string
	data cacheData
}

// NewCache opens the cache at path, loading existing entries if the file
// is present. An empty path yields a purely in-memory cache.
func NewCache(path string) (*Cache, error) {
	c := &Cache{
		path: path,
		data: cacheData{
			Instruments: make(map[string]InstrumentDetail),
		},
	}

	if path == "" {
		return c, nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := c.load(); err != nil {
			return nil, fmt.Errorf("loading instrument cache: %w", err)
		}
	}
	return c, nil
}

func (c *Cache) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &c.data); err != nil {
		return err
	}
	if c.data.Instruments == nil {
		c.data.Instruments = make(map[string]InstrumentDetail)
	}
	return nil
}

// Get returns the cached detail for an option epic.
func (c *Cache) Get(epic string) (InstrumentDetail, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	detail, ok := c.data.Instruments[epic]
	return detail, ok
}

// Put stores a detail and persists the cache.
func (c *Cache) Put(detail InstrumentDetail) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data.Instruments[detail.Epic] = detail
	return c.saveLocked()
}

// Len returns the number of cached instruments.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data.Instruments)
}

// Epics returns the cached option epics, sorted.
func (c *Cache) Epics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	epics := make([]string, 0, len(c.data.Instruments))
	for epic := range c.data.Instruments {
		epics = append(epics, epic)
	}
	sort.Strings(epics)
	return epics
}

func (c *Cache) saveLocked() error {
	if c.path == "" {
		return nil
	}

	c.data.LastUpdated = time.Now()
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	// Write to temp file first, then atomic rename.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
