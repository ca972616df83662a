package rates

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates no snapshot has ever been cached for a pair.
	ErrNotFound = errors.New("rates: pair not found")
	// ErrNoRoute indicates a conversion has neither a direct nor a
	// composable path through the pivot currency.
	ErrNoRoute = errors.New("rates: no conversion route")
)

// slot holds the entry for one pair behind its own lock, so writes to one
// pair never block readers or writers of another.
type slot struct {
	mu    sync.RWMutex
	entry Entry
}

// Cache is the authoritative in-process view of the freshest known rate per
// pair. One instance is created at startup and injected into every component
// that reads rates.
type Cache struct {
	mu    sync.RWMutex
	slots map[Pair]*slot

	pivot string
	now   func() time.Time
}

// NewCache constructs an empty cache. pivot is the common quote currency used
// to compose conversion routes when no direct pair is cached.
func NewCache(pivot string) *Cache {
	pivot = strings.ToUpper(strings.TrimSpace(pivot))
	if pivot == "" {
		pivot = "USD"
	}
	return &Cache{
		slots: make(map[Pair]*slot),
		pivot: pivot,
		now:   time.Now,
	}
}

func (c *Cache) slotFor(pair Pair, create bool) *slot {
	c.mu.RLock()
	s, ok := c.slots[pair]
	c.mu.RUnlock()
	if ok || !create {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.slots[pair]; ok {
		return s
	}
	s = &slot{}
	c.slots[pair] = s
	return s
}

// Put installs a snapshot as the latest entry for its pair. It reports
// whether the entry changed: identical re-puts and snapshots older than the
// cached observation are dropped, so readers never observe time going
// backwards for a pair.
func (c *Cache) Put(snap Snapshot, ttl time.Duration) (bool, error) {
	if err := snap.Validate(); err != nil {
		return false, err
	}

	s := c.slotFor(snap.Pair, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.entry.Snapshot; !cur.ObservedAt.IsZero() {
		if !snap.ObservedAt.After(cur.ObservedAt) {
			return false, nil
		}
	}

	s.entry = Entry{Snapshot: snap, FetchedAt: c.now(), TTL: ttl}
	return true, nil
}

// Get returns the cached entry for a pair, or ErrNotFound.
func (c *Cache) Get(pair Pair) (Entry, error) {
	s := c.slotFor(pair, false)
	if s == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, pair)
	}

	s.mu.RLock()
	entry := s.entry
	s.mu.RUnlock()

	if entry.Snapshot.ObservedAt.IsZero() {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, pair)
	}
	return entry, nil
}

// Pairs lists every pair that has ever been observed, sorted for stable
// iteration.
func (c *Cache) Pairs() []Pair {
	c.mu.RLock()
	pairs := make([]Pair, 0, len(c.slots))
	for p := range c.slots {
		pairs = append(pairs, p)
	}
	c.mu.RUnlock()

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}

// Rate resolves the conversion rate from one currency to another: a direct
// pair first, then the inverse, then composition through the pivot currency.
func (c *Cache) Rate(from, to string) (decimal.Decimal, error) {
	p := NewPair(from, to)
	from, to = p.Base, p.Quote
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	if rate, ok := c.directRate(from, to); ok {
		return rate, nil
	}

	if from != c.pivot && to != c.pivot {
		left, okL := c.directRate(from, c.pivot)
		right, okR := c.directRate(c.pivot, to)
		if okL && okR {
			return left.Mul(right), nil
		}
	}

	return decimal.Decimal{}, fmt.Errorf("%w: %s/%s", ErrNoRoute, from, to)
}

func (c *Cache) directRate(from, to string) (decimal.Decimal, bool) {
	if entry, err := c.Get(Pair{Base: from, Quote: to}); err == nil {
		return entry.Snapshot.Rate, true
	}
	if entry, err := c.Get(Pair{Base: to, Quote: from}); err == nil {
		rate := entry.Snapshot.Rate
		if rate.IsPositive() {
			return decimal.NewFromInt(1).Div(rate), true
		}
	}
	return decimal.Decimal{}, false
}

// Convert applies the resolved rate to an amount, returning both the result
// and the rate that was used.
func (c *Cache) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, decimal.Decimal, error) {
	rate, err := c.Rate(from, to)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return amount.Mul(rate), rate, nil
}
