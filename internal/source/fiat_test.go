package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ratewatch/internal/rates"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFiatFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("base"); got != "USD" {
			t.Fatalf("expected base=USD, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"base":      "USD",
			"timestamp": 1767366000,
			"rates":     map[string]float64{"INR": 83.40, "EUR": 0.92},
		})
	}))
	defer srv.Close()

	f := NewFiatHTTP(FiatOptions{
		BaseURL:      srv.URL,
		BaseCurrency: "USD",
		Symbols:      []string{"INR", "EUR"},
		Timeout:      time.Second,
	}, noopLogger())

	snaps, err := f.Fetch(context.Background(), rates.ClassFiat)
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	for _, s := range snaps {
		if s.Class != rates.ClassFiat {
			t.Fatalf("snapshot should be tagged fiat, got %s", s.Class)
		}
		if s.ObservedAt.Unix() != 1767366000 {
			t.Fatalf("observedAt should come from the payload, got %v", s.ObservedAt)
		}
	}
}

func TestFiatFetchDropsNonPositiveRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"base":  "USD",
			"rates": map[string]float64{"INR": 83.40, "XXX": 0},
		})
	}))
	defer srv.Close()

	f := NewFiatHTTP(FiatOptions{BaseURL: srv.URL, Symbols: []string{"INR", "XXX"}}, noopLogger())
	snaps, err := f.Fetch(context.Background(), rates.ClassFiat)
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Pair.Quote != "INR" {
		t.Fatalf("zero-rate quote should be dropped, got %+v", snaps)
	}
}

func TestFiatFetchClassifiesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFiatHTTP(FiatOptions{BaseURL: srv.URL, Symbols: []string{"INR"}}, noopLogger())
	_, err := f.Fetch(context.Background(), rates.ClassFiat)
	if !IsTransient(err) {
		t.Fatalf("5xx should be transient, got %v", err)
	}
}

func TestFiatFetchClassifiesAuthErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := NewFiatHTTP(FiatOptions{BaseURL: srv.URL, Symbols: []string{"INR"}}, noopLogger())
	_, err := f.Fetch(context.Background(), rates.ClassFiat)
	if !IsPermanent(err) {
		t.Fatalf("401 should be permanent, got %v", err)
	}
}

func TestFiatFetchClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewFiatHTTP(FiatOptions{BaseURL: srv.URL, Symbols: []string{"INR"}}, noopLogger())
	_, err := f.Fetch(context.Background(), rates.ClassFiat)
	if !IsRateLimited(err) {
		t.Fatalf("429 should be rate limited, got %v", err)
	}
	if got := RetryAfterHint(err); got != 17*time.Second {
		t.Fatalf("expected retry-after 17s, got %v", got)
	}
}

func TestFiatFetchRejectsWrongClass(t *testing.T) {
	f := NewFiatHTTP(FiatOptions{Symbols: []string{"INR"}}, noopLogger())
	if _, err := f.Fetch(context.Background(), rates.ClassCrypto); !IsPermanent(err) {
		t.Fatalf("wrong class should be permanent, got %v", err)
	}
}
