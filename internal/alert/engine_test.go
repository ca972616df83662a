package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ratewatch/internal/rates"
)

var usdinr = rates.Pair{Base: "USD", Quote: "INR"}

type memStore struct {
	mu       sync.Mutex
	alerts   []Alert
	stamped  map[string]time.Time
	fail     bool
	failMark bool
}

func (m *memStore) LoadEnabled(context.Context) ([]Alert, error) {
	if m.fail {
		return nil, errors.New("store down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) MarkTriggered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark {
		return errors.New("write failed")
	}
	if m.stamped == nil {
		m.stamped = make(map[string]time.Time)
	}
	m.stamped[id] = at
	return nil
}

type memNotifier struct {
	mu       sync.Mutex
	delivery []Trigger
}

func (m *memNotifier) Deliver(_ context.Context, t Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivery = append(m.delivery, t)
	return nil
}

func (m *memNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivery)
}

// blockingNotifier holds every delivery until release is closed.
type blockingNotifier struct {
	memNotifier
	release chan struct{}
}

func (b *blockingNotifier) Deliver(ctx context.Context, t Trigger) error {
	<-b.release
	return b.memNotifier.Deliver(ctx, t)
}

func update(rate float64, at time.Time) rates.Entry {
	return rates.Entry{
		Snapshot: rates.Snapshot{
			Pair:       usdinr,
			Class:      rates.ClassFiat,
			Rate:       decimal.NewFromFloat(rate),
			ObservedAt: at,
		},
		FetchedAt: at,
		TTL:       time.Minute,
	}
}

func newTestEngine(t *testing.T, alerts []Alert, notifier Notifier) (*Engine, *memStore) {
	t.Helper()
	store := &memStore{alerts: alerts}
	engine := NewEngine(store, notifier, time.Hour, zerolog.Nop())
	if err := engine.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return engine, store
}

func TestEngineCooldownWindow(t *testing.T) {
	notifier := &memNotifier{}
	engine, store := newTestEngine(t, []Alert{{
		ID:        "a1",
		Owner:     "user-1",
		Pair:      usdinr,
		Op:        OpLess,
		Threshold: decimal.NewFromInt(80),
		Enabled:   true,
	}}, notifier)

	t0 := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	clock := t0
	engine.now = func() time.Time { return clock }

	// 79.5 < 80: fires exactly once.
	fired := engine.Evaluate(context.Background(), update(79.5, t0))
	if len(fired) != 1 {
		t.Fatalf("expected one trigger, got %d", len(fired))
	}
	if !fired[0].ObservedRate.Equal(decimal.NewFromFloat(79.5)) {
		t.Fatalf("trigger should carry the observed rate, got %s", fired[0].ObservedRate)
	}

	// One second later, still below threshold: cooldown suppresses it.
	clock = t0.Add(time.Second)
	if fired := engine.Evaluate(context.Background(), update(79.0, clock)); len(fired) != 0 {
		t.Fatalf("trigger within cooldown should be suppressed, got %d", len(fired))
	}

	// 61 minutes later the cooldown has lapsed: fires again.
	clock = t0.Add(61 * time.Minute)
	if fired := engine.Evaluate(context.Background(), update(79.0, clock)); len(fired) != 1 {
		t.Fatalf("trigger after cooldown should fire, got %d", len(fired))
	}

	engine.Wait()
	if notifier.count() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", notifier.count())
	}
	if got := store.stamped["a1"]; !got.Equal(clock) {
		t.Fatalf("store should carry the latest trigger stamp, got %v", got)
	}
}

func TestEngineDisabledAlertsNeverFire(t *testing.T) {
	notifier := &memNotifier{}
	engine, _ := newTestEngine(t, []Alert{{
		ID:        "a1",
		Pair:      usdinr,
		Op:        OpLess,
		Threshold: decimal.NewFromInt(80),
		Enabled:   false,
	}}, notifier)

	if fired := engine.Evaluate(context.Background(), update(1, time.Now())); len(fired) != 0 {
		t.Fatal("disabled alert must never fire")
	}
	if notifier.count() != 0 {
		t.Fatal("disabled alert must not be delivered")
	}
}

func TestEngineThresholdNotMet(t *testing.T) {
	engine, store := newTestEngine(t, []Alert{{
		ID:        "a1",
		Pair:      usdinr,
		Op:        OpGreater,
		Threshold: decimal.NewFromInt(90),
		Enabled:   true,
	}}, nil)

	if fired := engine.Evaluate(context.Background(), update(85, time.Now())); len(fired) != 0 {
		t.Fatal("unmet threshold must not fire")
	}
	if len(store.stamped) != 0 {
		t.Fatal("unmet threshold must not mutate state")
	}
}

func TestEngineUnwatchedPairIsNoOp(t *testing.T) {
	engine, _ := newTestEngine(t, []Alert{{
		ID:        "a1",
		Pair:      rates.Pair{Base: "EUR", Quote: "USD"},
		Op:        OpLess,
		Threshold: decimal.NewFromInt(2),
		Enabled:   true,
	}}, nil)

	if fired := engine.Evaluate(context.Background(), update(1, time.Now())); len(fired) != 0 {
		t.Fatal("update for an unwatched pair must be a no-op")
	}
}

func TestEngineHonoursStoredLastTrigger(t *testing.T) {
	last := time.Now().Add(-10 * time.Minute)
	engine, _ := newTestEngine(t, []Alert{{
		ID:              "a1",
		Pair:            usdinr,
		Op:              OpLess,
		Threshold:       decimal.NewFromInt(80),
		Enabled:         true,
		LastTriggeredAt: &last,
	}}, nil)

	if fired := engine.Evaluate(context.Background(), update(79, time.Now())); len(fired) != 0 {
		t.Fatal("a recently triggered alert loaded from the store must stay on cooldown")
	}
}

func TestEngineEvaluateDoesNotBlockOnDelivery(t *testing.T) {
	notifier := &blockingNotifier{release: make(chan struct{})}
	engine, _ := newTestEngine(t, []Alert{
		{ID: "a1", Pair: usdinr, Op: OpLess, Threshold: decimal.NewFromInt(80), Enabled: true},
		{ID: "a2", Pair: usdinr, Op: OpLess, Threshold: decimal.NewFromInt(85), Enabled: true},
	}, notifier)

	done := make(chan []Trigger, 1)
	go func() {
		done <- engine.Evaluate(context.Background(), update(79.5, time.Now()))
	}()

	select {
	case fired := <-done:
		if len(fired) != 2 {
			t.Fatalf("both alerts should fire, got %d", len(fired))
		}
	case <-time.After(time.Second):
		t.Fatal("evaluation must not wait on notification delivery")
	}

	close(notifier.release)
	engine.Wait()
	if notifier.count() != 2 {
		t.Fatalf("expected 2 deliveries after release, got %d", notifier.count())
	}
}

func TestEngineRefreshKeepsNewerInMemoryCooldown(t *testing.T) {
	notifier := &memNotifier{}
	store := &memStore{
		alerts: []Alert{{
			ID:        "a1",
			Pair:      usdinr,
			Op:        OpLess,
			Threshold: decimal.NewFromInt(80),
			Enabled:   true,
		}},
		failMark: true,
	}
	engine := NewEngine(store, notifier, time.Hour, zerolog.Nop())
	if err := engine.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	t0 := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	clock := t0
	engine.now = func() time.Time { return clock }

	if fired := engine.Evaluate(context.Background(), update(79.5, t0)); len(fired) != 1 {
		t.Fatalf("expected one trigger, got %d", len(fired))
	}
	engine.Wait()

	// The stamp never reached the store, so the reload carries no
	// LastTriggeredAt. The in-memory cooldown must survive the swap.
	if err := engine.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	clock = t0.Add(time.Minute)
	if fired := engine.Evaluate(context.Background(), update(79.0, clock)); len(fired) != 0 {
		t.Fatalf("refresh must not shorten a running cooldown, got %d triggers", len(fired))
	}

	clock = t0.Add(61 * time.Minute)
	if fired := engine.Evaluate(context.Background(), update(79.0, clock)); len(fired) != 1 {
		t.Fatalf("trigger after cooldown should still fire, got %d", len(fired))
	}
}

func TestParseOp(t *testing.T) {
	for _, valid := range []string{"<", ">", "<=", ">="} {
		if _, err := ParseOp(valid); err != nil {
			t.Fatalf("%q should parse: %v", valid, err)
		}
	}
	if _, err := ParseOp("=="); err == nil {
		t.Fatal("== should be rejected")
	}
}

func TestOpMatchesBoundaries(t *testing.T) {
	eighty := decimal.NewFromInt(80)
	if OpLess.Matches(eighty, eighty) {
		t.Fatal("< must exclude equality")
	}
	if !OpLessEqual.Matches(eighty, eighty) {
		t.Fatal("<= must include equality")
	}
	if OpGreater.Matches(eighty, eighty) {
		t.Fatal("> must exclude equality")
	}
	if !OpGreaterEqual.Matches(eighty, eighty) {
		t.Fatal(">= must include equality")
	}
}
