package rates

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidRate rejects snapshots whose rate is not strictly positive.
var ErrInvalidRate = errors.New("rates: rate must be positive")

// Snapshot is a single observation of a pair's rate. Immutable once created.
type Snapshot struct {
	Pair       Pair
	Class      Class
	Rate       decimal.Decimal
	ObservedAt time.Time
	Source     string
}

// Validate enforces ingestion invariants.
func (s Snapshot) Validate() error {
	if s.Pair.IsZero() {
		return fmt.Errorf("rates: snapshot missing pair")
	}
	if !s.Rate.IsPositive() {
		return fmt.Errorf("%w: %s=%s", ErrInvalidRate, s.Pair, s.Rate)
	}
	if s.ObservedAt.IsZero() {
		return fmt.Errorf("rates: snapshot for %s missing observation time", s.Pair)
	}
	return nil
}

// Staleness describes how trustworthy a cache entry is right now.
type Staleness string

const (
	Fresh   Staleness = "fresh"
	Stale   Staleness = "stale"
	Unknown Staleness = "unknown"
)

// Entry is the cached view of the freshest known snapshot for a pair.
type Entry struct {
	Snapshot  Snapshot
	FetchedAt time.Time
	TTL       time.Duration
}

// Staleness is computed lazily from FetchedAt and TTL; the flip from fresh
// to stale happens exactly at FetchedAt+TTL without any background sweep.
func (e Entry) Staleness(now time.Time) Staleness {
	if e.FetchedAt.IsZero() || e.TTL <= 0 {
		return Unknown
	}
	if now.Sub(e.FetchedAt) > e.TTL {
		return Stale
	}
	return Fresh
}

// Age returns the time elapsed since the entry was fetched.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}
