package alert

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ratewatch/internal/metrics"
	"ratewatch/internal/rates"
)

// DefaultCooldown bounds triggers to at most one per alert per hour.
const DefaultCooldown = time.Hour

// commitTimeout bounds the store stamp and notification delivery of one
// trigger once it has left the evaluation loop.
const commitTimeout = 10 * time.Second

// state tracks one alert's trigger bookkeeping behind its own lock, so
// evaluating one alert never delays another.
type state struct {
	alert Alert

	mu            sync.Mutex
	lastTriggered time.Time
}

// Engine re-evaluates enabled alerts against every cache update, indexed by
// pair so an update touches only the alerts that watch it.
type Engine struct {
	mu    sync.RWMutex
	index map[rates.Pair][]*state

	cooldown time.Duration
	store    Store
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time

	commits sync.WaitGroup
}

// NewEngine constructs an engine. store may not be nil; notifier may be nil
// to disable delivery (triggers are still stamped and logged).
func NewEngine(store Store, notifier Notifier, cooldown time.Duration, logger zerolog.Logger) *Engine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Engine{
		index:    make(map[rates.Pair][]*state),
		cooldown: cooldown,
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "alert_engine").Logger(),
		now:      time.Now,
	}
}

// Replace swaps the alert index for a fresh snapshot of definitions.
// Disabled alerts are not indexed at all. In-memory trigger stamps newer
// than the store's survive the swap, so a failed MarkTriggered write can
// never shorten a running cooldown.
func (e *Engine) Replace(alerts []Alert) {
	e.mu.RLock()
	carried := make(map[string]time.Time)
	for _, states := range e.index {
		for _, st := range states {
			st.mu.Lock()
			if !st.lastTriggered.IsZero() {
				carried[st.alert.ID] = st.lastTriggered
			}
			st.mu.Unlock()
		}
	}
	e.mu.RUnlock()

	index := make(map[rates.Pair][]*state, len(alerts))
	for _, a := range alerts {
		if !a.Enabled {
			continue
		}
		st := &state{alert: a}
		if a.LastTriggeredAt != nil {
			st.lastTriggered = *a.LastTriggeredAt
		}
		if at, ok := carried[a.ID]; ok && at.After(st.lastTriggered) {
			st.lastTriggered = at
		}
		index[a.Pair] = append(index[a.Pair], st)
	}

	e.mu.Lock()
	e.index = index
	e.mu.Unlock()
}

// Refresh reloads enabled alerts from the store and rebuilds the index.
func (e *Engine) Refresh(ctx context.Context) error {
	alerts, err := e.store.LoadEnabled(ctx)
	if err != nil {
		return err
	}
	e.Replace(alerts)
	return nil
}

// RunRefresher reloads the index on an interval until ctx is cancelled.
func (e *Engine) RunRefresher(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil {
				e.logger.Error().Err(err).Msg("alert refresh failed")
			}
		}
	}
}

// Evaluate checks every enabled alert watching the updated pair and returns
// the triggers that fired. Pairs nobody watches are a no-op. The cooldown
// stamp is taken inline; the store write and the notification run on their
// own goroutine, so a slow delivery never holds up the next alert or the
// caller's fetch loop.
func (e *Engine) Evaluate(ctx context.Context, entry rates.Entry) []Trigger {
	pair := entry.Snapshot.Pair
	rate := entry.Snapshot.Rate

	e.mu.RLock()
	states := e.index[pair]
	e.mu.RUnlock()

	var fired []Trigger
	for _, st := range states {
		if !st.alert.Op.Matches(rate, st.alert.Threshold) {
			continue
		}

		now := e.now()
		st.mu.Lock()
		onCooldown := !st.lastTriggered.IsZero() && now.Sub(st.lastTriggered) < e.cooldown
		if !onCooldown {
			st.lastTriggered = now
		}
		st.mu.Unlock()
		if onCooldown {
			continue
		}

		trigger := Trigger{
			AlertID:      st.alert.ID,
			Owner:        st.alert.Owner,
			Pair:         pair,
			ObservedRate: rate,
			Threshold:    st.alert.Threshold,
			Op:           st.alert.Op,
			FiredAt:      now,
		}
		fired = append(fired, trigger)
		metrics.AlertsTriggered.Inc()
		e.logger.Info().
			Str("alert_id", trigger.AlertID).
			Str("pair", pair.String()).
			Str("rate", rate.String()).
			Str("threshold", st.alert.Threshold.String()).
			Msg("alert triggered")

		e.commits.Add(1)
		go func(trigger Trigger) {
			defer e.commits.Done()
			e.commit(trigger)
		}(trigger)
	}
	return fired
}

// Wait blocks until every in-flight trigger commit has finished. Called on
// shutdown so pending notifications are not abandoned mid-flight.
func (e *Engine) Wait() {
	e.commits.Wait()
}

// commit stamps the store and dispatches the notification. Both are
// best-effort: a failed write or delivery never rolls back cooldown state.
func (e *Engine) commit(trigger Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	if e.store != nil {
		if err := e.store.MarkTriggered(ctx, trigger.AlertID, trigger.FiredAt); err != nil {
			e.logger.Error().Err(err).Str("alert_id", trigger.AlertID).Msg("failed to stamp last trigger")
		}
	}
	if e.notifier != nil {
		if err := e.notifier.Deliver(ctx, trigger); err != nil {
			e.logger.Error().Err(err).Str("alert_id", trigger.AlertID).Msg("failed to deliver trigger")
		}
	}
}
