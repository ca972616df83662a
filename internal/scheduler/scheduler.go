package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"ratewatch/internal/history"
	"ratewatch/internal/metrics"
	"ratewatch/internal/rates"
	"ratewatch/internal/source"
)

// Sink consumes a freshly applied cache entry. The broadcaster fan-out and
// the alert engine register here.
type Sink func(entry rates.Entry)

// Options tune one asset class's fetch loop.
type Options struct {
	Class    rates.Class
	Interval time.Duration
	// TTL stamps cache entries; readers age them into stale past it.
	TTL           time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	JitterFrac    float64
	DegradedAfter int
}

func (o *Options) withDefaults() {
	if o.TTL <= 0 {
		o.TTL = 3 * o.Interval
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Minute
	}
	if o.DegradedAfter <= 0 {
		o.DegradedAfter = 3
	}
}

// Runner drives periodic fetches for one asset class. Runners are
// independent: a failure in one class never touches another. Ticks for the
// same class cannot overlap: the next wait starts only after the previous
// tick completes, and an overrun tick is skipped rather than queued.
type Runner struct {
	opts    Options
	fetcher source.Fetcher
	cache   *rates.Cache
	book    *history.Book
	health  *Health
	sinks   []Sink
	logger  zerolog.Logger
}

// NewRunner wires a fetch loop for one asset class.
func NewRunner(opts Options, fetcher source.Fetcher, cache *rates.Cache, book *history.Book, health *Health, logger zerolog.Logger, sinks ...Sink) *Runner {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	opts.withDefaults()
	return &Runner{
		opts:    opts,
		fetcher: fetcher,
		cache:   cache,
		book:    book,
		health:  health,
		sinks:   sinks,
		logger:  logger.With().Str("component", "scheduler").Str("class", string(opts.Class)).Logger(),
	}
}

// Run blocks until ctx is cancelled or the provider fails permanently.
// Transient and rate-limited failures back off and retry forever; the
// previous cache entries stay in place and simply age into stale. Health is
// stamped only from tick outcomes: the class reports healthy after its first
// success and degraded as soon as a never-successful provider fails.
func (r *Runner) Run(ctx context.Context) error {
	consecutive := 0
	succeeded := false
	for {
		start := time.Now()
		err := r.tick(ctx)

		var wait time.Duration
		switch {
		case err == nil:
			if consecutive > 0 {
				r.logger.Info().Msg("provider recovered")
			}
			consecutive = 0
			succeeded = true
			r.health.set(r.opts.Class, Healthy)
			// Skip, never queue: an overrun tick realigns to the next
			// interval boundary instead of firing immediately.
			wait = tickWait(start, time.Now(), r.opts.Interval)

		case ctx.Err() != nil:
			return ctx.Err()

		case source.IsPermanent(err):
			r.health.set(r.opts.Class, Failed)
			r.logger.Error().Err(err).Msg("permanent provider failure; halting asset class")
			return fmt.Errorf("scheduler %s halted: %w", r.opts.Class, err)

		default:
			consecutive++
			wait = r.backoff(consecutive)
			if hint := source.RetryAfterHint(err); hint > wait {
				wait = hint
			}
			if consecutive >= r.opts.DegradedAfter || !succeeded {
				r.health.set(r.opts.Class, Degraded)
			}
			r.logger.Warn().Err(err).
				Int("consecutive_failures", consecutive).
				Dur("retry_in", wait).
				Msg("fetch failed; backing off")
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tick performs one fetch and pushes applied snapshots downstream.
func (r *Runner) tick(ctx context.Context) error {
	start := time.Now()
	snapshots, err := r.fetcher.Fetch(ctx, r.opts.Class)
	metrics.FetchDuration.WithLabelValues(string(r.opts.Class)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(string(r.opts.Class), "error").Inc()
		return err
	}
	metrics.FetchesTotal.WithLabelValues(string(r.opts.Class), "ok").Inc()

	for _, snap := range snapshots {
		applied, err := r.cache.Put(snap, r.opts.TTL)
		if err != nil {
			r.logger.Warn().Err(err).Str("pair", snap.Pair.String()).Msg("rejected snapshot")
			continue
		}
		if !applied {
			// Idempotent re-put or late arrival: no history append,
			// no fan-out, no alert evaluation.
			continue
		}
		metrics.SnapshotsApplied.WithLabelValues(string(r.opts.Class)).Inc()

		entry, err := r.cache.Get(snap.Pair)
		if err != nil {
			continue
		}
		r.book.Append(history.Point{
			Pair:       snap.Pair,
			Rate:       snap.Rate,
			ObservedAt: snap.ObservedAt,
		})
		for _, sink := range r.sinks {
			sink(entry)
		}
	}
	return nil
}

// tickWait returns how long to sleep after a tick that started at start so
// the next one lands on an interval boundary. A tick that overran its slot
// waits out the remainder of the current one rather than firing immediately.
func tickWait(start, now time.Time, interval time.Duration) time.Duration {
	wait := start.Add(interval).Sub(now)
	if wait >= 0 {
		return wait
	}
	return interval - now.Sub(start)%interval
}

// backoff grows exponentially with the failure streak, capped, with a
// non-negative jitter fraction added on top.
func (r *Runner) backoff(consecutive int) time.Duration {
	delay := r.opts.BackoffBase
	for i := 1; i < consecutive; i++ {
		delay *= 2
		if delay >= r.opts.BackoffMax {
			delay = r.opts.BackoffMax
			break
		}
	}
	if r.opts.JitterFrac > 0 {
		delay += time.Duration(rand.Float64() * r.opts.JitterFrac * float64(delay))
	}
	return delay
}
