package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ratewatch/internal/rates"
)

func TestCryptoFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]map[string]any{
			"bitcoin":  {"usd": 64250.12, "last_updated_at": 1767366000},
			"ethereum": {"usd": 3120.5, "last_updated_at": 1767366010},
		})
	}))
	defer srv.Close()

	c := NewCryptoHTTP(CryptoOptions{
		BaseURL:    srv.URL,
		Coins:      map[string]string{"bitcoin": "BTC", "ethereum": "ETH"},
		VsCurrency: "USD",
		Timeout:    time.Second,
	}, noopLogger())

	snaps, err := c.Fetch(context.Background(), rates.ClassCrypto)
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}

	// ids are iterated sorted, so bitcoin comes first.
	if snaps[0].Pair != (rates.Pair{Base: "BTC", Quote: "USD"}) {
		t.Fatalf("expected BTC/USD first, got %s", snaps[0].Pair)
	}
	if !snaps[0].Rate.Equal(decimal.NewFromFloat(64250.12)) {
		t.Fatalf("unexpected BTC rate %s", snaps[0].Rate)
	}
	if snaps[0].ObservedAt.Unix() != 1767366000 {
		t.Fatalf("observedAt should come from last_updated_at")
	}
}

func TestCryptoFetchSkipsMissingCoins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]map[string]any{
			"bitcoin": {"usd": 64250.12},
		})
	}))
	defer srv.Close()

	c := NewCryptoHTTP(CryptoOptions{
		BaseURL: srv.URL,
		Coins:   map[string]string{"bitcoin": "BTC", "ethereum": "ETH"},
	}, noopLogger())

	snaps, err := c.Fetch(context.Background(), rates.ClassCrypto)
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
}

func TestCryptoFetchEmptyResponseIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]map[string]any{})
	}))
	defer srv.Close()

	c := NewCryptoHTTP(CryptoOptions{BaseURL: srv.URL, Coins: map[string]string{"bitcoin": "BTC"}}, noopLogger())
	if _, err := c.Fetch(context.Background(), rates.ClassCrypto); !IsTransient(err) {
		t.Fatalf("empty payload should be transient, got %v", err)
	}
}

func TestDemoFetchDeterministic(t *testing.T) {
	pair := rates.Pair{Base: "USD", Quote: "INR"}
	d := NewDemo(DemoOptions{Pairs: map[rates.Class][]rates.Pair{
		rates.ClassFiat: {pair},
	}}, noopLogger())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return at }

	first, err := d.Fetch(context.Background(), rates.ClassFiat)
	if err != nil {
		t.Fatalf("demo fetch: %v", err)
	}
	second, err := d.Fetch(context.Background(), rates.ClassFiat)
	if err != nil {
		t.Fatalf("demo fetch: %v", err)
	}

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one snapshot per fetch")
	}
	if !first[0].Rate.Equal(second[0].Rate) {
		t.Fatalf("demo rates must be deterministic for a fixed instant: %s vs %s", first[0].Rate, second[0].Rate)
	}
	if !first[0].Rate.IsPositive() {
		t.Fatalf("demo rate must be positive, got %s", first[0].Rate)
	}
}

func TestDemoFetchUnconfiguredClass(t *testing.T) {
	d := NewDemo(DemoOptions{}, noopLogger())
	if _, err := d.Fetch(context.Background(), rates.ClassFiat); !IsPermanent(err) {
		t.Fatalf("unconfigured class should be permanent, got %v", err)
	}
}
