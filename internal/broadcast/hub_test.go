package broadcast

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ratewatch/internal/rates"
)

var (
	eurusd = rates.Pair{Base: "EUR", Quote: "USD"}
	usdinr = rates.Pair{Base: "USD", Quote: "INR"}
)

func entry(pair rates.Pair, rate float64, seq int) rates.Entry {
	return rates.Entry{
		Snapshot: rates.Snapshot{
			Pair:       pair,
			Class:      rates.ClassFiat,
			Rate:       decimal.NewFromFloat(rate),
			ObservedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
		},
		FetchedAt: time.Now(),
		TTL:       time.Minute,
	}
}

func TestHubFiltersByPairInterest(t *testing.T) {
	hub := NewHub(4, zerolog.Nop())
	sub := hub.Subscribe(eurusd)
	defer hub.Unsubscribe(sub.ID)

	hub.Publish(entry(usdinr, 83.4, 0))
	hub.Publish(entry(eurusd, 1.08, 1))

	select {
	case got := <-sub.C():
		if got.Snapshot.Pair != eurusd {
			t.Fatalf("subscriber registered for EUR/USD received %s", got.Snapshot.Pair)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an EUR/USD event")
	}

	select {
	case got := <-sub.C():
		t.Fatalf("unexpected extra event for %s", got.Snapshot.Pair)
	default:
	}
}

func TestHubAllPairsSubscriber(t *testing.T) {
	hub := NewHub(4, zerolog.Nop())
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub.ID)

	hub.Publish(entry(usdinr, 83.4, 0))
	hub.Publish(entry(eurusd, 1.08, 1))

	for i := 0; i < 2; i++ {
		select {
		case <-sub.C():
		case <-time.After(time.Second):
			t.Fatalf("expected event %d", i)
		}
	}
}

func TestHubPerPairFIFO(t *testing.T) {
	hub := NewHub(16, zerolog.Nop())
	sub := hub.Subscribe(usdinr)
	defer hub.Unsubscribe(sub.ID)

	for i := 0; i < 5; i++ {
		hub.Publish(entry(usdinr, 83+float64(i), i))
	}

	var prev time.Time
	for i := 0; i < 5; i++ {
		got := <-sub.C()
		if !got.Snapshot.ObservedAt.After(prev) {
			t.Fatalf("events out of order at %d: %v then %v", i, prev, got.Snapshot.ObservedAt)
		}
		prev = got.Snapshot.ObservedAt
	}
}

func TestHubDisconnectsSlowConsumer(t *testing.T) {
	hub := NewHub(2, zerolog.Nop())
	slow := hub.Subscribe(usdinr)
	fast := hub.Subscribe(usdinr)

	// Never read from slow; the third publish overflows its queue.
	for i := 0; i < 3; i++ {
		hub.Publish(entry(usdinr, 83+float64(i), i))
		<-fast.C()
	}

	if hub.Len() != 1 {
		t.Fatalf("slow consumer should have been dropped, %d subscribers left", hub.Len())
	}

	// Drain the slow consumer's channel: two buffered events then close.
	seen := 0
	for range slow.C() {
		seen++
	}
	if seen != 2 {
		t.Fatalf("slow consumer should keep its buffered events, saw %d", seen)
	}

	// The fast subscriber keeps receiving after the drop.
	hub.Publish(entry(usdinr, 90, 10))
	select {
	case <-fast.C():
	case <-time.After(time.Second):
		t.Fatal("fast subscriber should survive the slow consumer's removal")
	}
}

func TestHubUnsubscribeDuringFanOut(t *testing.T) {
	hub := NewHub(1, zerolog.Nop())
	sub := hub.Subscribe(usdinr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.Publish(entry(usdinr, 83, i))
		}
	}()

	hub.Unsubscribe(sub.ID)
	<-done

	// Channel is closed; remaining reads must not block or panic.
	for range sub.C() {
	}
	if hub.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", hub.Len())
	}
}

func TestHubUnsubscribeIdempotent(t *testing.T) {
	hub := NewHub(1, zerolog.Nop())
	sub := hub.Subscribe()
	hub.Unsubscribe(sub.ID)
	hub.Unsubscribe(sub.ID)
}
