package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ratewatch/internal/history"
	"ratewatch/internal/rates"
	"ratewatch/internal/source"
)

var usdinr = rates.Pair{Base: "USD", Quote: "INR"}

// scriptedFetcher replays a fixed sequence of fetch results.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	snaps []rates.Snapshot
	err   error
}

func (f *scriptedFetcher) Fetch(context.Context, rates.Class) ([]rates.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	return f.results[idx].snaps, f.results[idx].err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func snap(rate float64, at time.Time) rates.Snapshot {
	return rates.Snapshot{
		Pair:       usdinr,
		Class:      rates.ClassFiat,
		Rate:       decimal.NewFromFloat(rate),
		ObservedAt: at,
		Source:     "test",
	}
}

func newRunner(f source.Fetcher, health *Health, sinks ...Sink) (*Runner, *rates.Cache, *history.Book) {
	cache := rates.NewCache("USD")
	book := history.NewBook(32)
	r := NewRunner(Options{
		Class:       rates.ClassFiat,
		Interval:    5 * time.Millisecond,
		TTL:         time.Minute,
		BackoffBase: time.Millisecond,
		BackoffMax:  4 * time.Millisecond,
	}, f, cache, book, health, zerolog.Nop(), sinks...)
	return r, cache, book
}

func runFor(t *testing.T, r *Runner, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err := r.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func TestRunnerAppliesSnapshotsAndNotifiesSinks(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snaps: []rates.Snapshot{snap(83.40, t0)}},
	}}

	var mu sync.Mutex
	var seen []rates.Entry
	sink := func(e rates.Entry) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	}

	health := NewHealth()
	r, cache, book := newRunner(fetcher, health, sink)
	if err := runFor(t, r, 30*time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}

	entry, err := cache.Get(usdinr)
	if err != nil {
		t.Fatalf("cache should hold the snapshot: %v", err)
	}
	if !entry.Snapshot.Rate.Equal(decimal.NewFromFloat(83.40)) {
		t.Fatalf("expected 83.40, got %s", entry.Snapshot.Rate)
	}

	// The same snapshot is fetched repeatedly; only the first put applies,
	// so exactly one sink notification and one history point.
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("idempotent re-puts must not re-notify, got %d events", len(seen))
	}
	if got := book.Ring(usdinr).Len(); got != 1 {
		t.Fatalf("expected 1 history point, got %d", got)
	}
	if health.Status(rates.ClassFiat) != Healthy {
		t.Fatalf("expected healthy, got %s", health.Status(rates.ClassFiat))
	}
}

func TestRunnerTransientFailuresKeepLastGoodValue(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snaps: []rates.Snapshot{snap(83.40, t0)}},
		{err: source.Transient("test", errors.New("boom"))},
		{err: source.Transient("test", errors.New("boom"))},
		{err: source.Transient("test", errors.New("boom"))},
	}}

	health := NewHealth()
	r, cache, _ := newRunner(fetcher, health)
	if err := runFor(t, r, 60*time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}

	if fetcher.callCount() < 4 {
		t.Fatalf("runner should keep retrying, got %d calls", fetcher.callCount())
	}

	entry, err := cache.Get(usdinr)
	if err != nil {
		t.Fatalf("previous entry must survive transient failures: %v", err)
	}
	if !entry.Snapshot.Rate.Equal(decimal.NewFromFloat(83.40)) {
		t.Fatalf("readers should still see the last good value, got %s", entry.Snapshot.Rate)
	}
	if health.Status(rates.ClassFiat) != Degraded {
		t.Fatalf("three consecutive failures should degrade health, got %s", health.Status(rates.ClassFiat))
	}
}

func TestRunnerPermanentFailureHaltsClass(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{
		{err: source.Permanent("test", errors.New("bad credentials"))},
	}}

	health := NewHealth()
	r, _, _ := newRunner(fetcher, health)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := r.Run(ctx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("permanent failure should halt the runner, got %v", err)
	}
	if health.Status(rates.ClassFiat) != Failed {
		t.Fatalf("expected failed health, got %s", health.Status(rates.ClassFiat))
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("permanent failure must not be retried, got %d calls", fetcher.callCount())
	}
}

func TestRunnerFailingFromStartupDegradesImmediately(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{
		{err: source.Transient("test", errors.New("down from the start"))},
	}}

	health := NewHealth()
	r, _, _ := newRunner(fetcher, health)
	if err := runFor(t, r, 30*time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}

	// A provider that has never succeeded must not report healthy while
	// the failure streak is still below the degraded threshold.
	if health.Status(rates.ClassFiat) != Degraded {
		t.Fatalf("expected degraded, got %s", health.Status(rates.ClassFiat))
	}
}

func TestTickWaitRealignsAfterOverrun(t *testing.T) {
	start := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	interval := 5 * time.Second

	// On-time tick waits out the remainder of its slot.
	if got := tickWait(start, start.Add(2*time.Second), interval); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
	// A 12s tick overran two slots; the next fetch lands on the 15s
	// boundary instead of firing back to back.
	if got := tickWait(start, start.Add(12*time.Second), interval); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
	// Ending exactly on a boundary waits a full interval.
	if got := tickWait(start, start.Add(10*time.Second), interval); got != 5*time.Second {
		t.Fatalf("expected 5s, got %v", got)
	}
}

func TestBackoffStrictlyIncreasesThenCaps(t *testing.T) {
	r, _, _ := newRunner(&scriptedFetcher{results: []fetchResult{{}}}, NewHealth())

	first := r.backoff(1)
	second := r.backoff(2)
	third := r.backoff(3)
	if !(second > first) {
		t.Fatalf("backoff must strictly increase: %v then %v", first, second)
	}
	if !(third >= second) {
		t.Fatalf("backoff must not shrink: %v then %v", second, third)
	}
	if capped := r.backoff(20); capped > r.opts.BackoffMax {
		t.Fatalf("backoff must cap at %v, got %v", r.opts.BackoffMax, capped)
	}
}

func TestRetryAfterHintSurvivesWrapping(t *testing.T) {
	err := source.RateLimited("test", 50*time.Millisecond, errors.New("slow down"))
	wrapped := errors.Join(errors.New("outer"), err)
	if source.RetryAfterHint(wrapped) != 50*time.Millisecond {
		t.Fatal("retry-after hint lost in wrapping")
	}
	if !source.IsRateLimited(wrapped) {
		t.Fatal("rate-limit classification lost in wrapping")
	}
}

func TestHealthSnapshotDefaults(t *testing.T) {
	h := NewHealth()
	if h.Status(rates.ClassCrypto) != Healthy {
		t.Fatal("unknown class should default to healthy")
	}
	h.set(rates.ClassCrypto, Degraded)
	snapshot := h.Snapshot()
	if snapshot[rates.ClassCrypto] != Degraded {
		t.Fatalf("snapshot should reflect set status, got %v", snapshot)
	}
}
