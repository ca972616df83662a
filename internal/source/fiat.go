package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ratewatch/internal/rates"
)

const fiatLatestPath = "/latest"

// FiatOptions parameterise the fiat rates provider.
type FiatOptions struct {
	BaseURL      string
	BaseCurrency string
	Symbols      []string
	Timeout      time.Duration
	UserAgent    string
	APIKey       string
}

// FiatHTTP fetches fiat exchange rates from an exchangerate.host-compatible
// JSON API.
type FiatHTTP struct {
	opts    FiatOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFiatHTTP constructs a fiat rates fetcher.
func NewFiatHTTP(opts FiatOptions, logger zerolog.Logger) *FiatHTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.BaseCurrency == "" {
		opts.BaseCurrency = "USD"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.exchangerate.host"
	}

	return &FiatHTTP{
		opts:    opts,
		logger:  logger.With().Str("component", "fiat_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type fiatResponse struct {
	Base      string                     `json:"base"`
	Timestamp int64                      `json:"timestamp"`
	Rates     map[string]decimal.Decimal `json:"rates"`
}

// Fetch retrieves the latest quotes for every configured symbol against the
// base currency.
func (f *FiatHTTP) Fetch(ctx context.Context, class rates.Class) ([]rates.Snapshot, error) {
	if class != rates.ClassFiat {
		return nil, Permanent("fiat", fmt.Errorf("unsupported asset class %q", class))
	}
	if len(f.opts.Symbols) == 0 {
		return nil, Permanent("fiat", errors.New("no fiat symbols configured"))
	}

	query := url.Values{}
	query.Set("base", f.opts.BaseCurrency)
	query.Set("symbols", strings.Join(f.opts.Symbols, ","))
	if f.opts.APIKey != "" {
		query.Set("access_key", f.opts.APIKey)
	}

	endpoint := f.baseURL + fiatLatestPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Permanent("fiat", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyRequest("fiat", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient("fiat", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP("fiat", resp, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var decoded fiatResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, Transient("fiat", fmt.Errorf("decode rates payload: %w", err))
	}

	observedAt := time.Now().UTC()
	if decoded.Timestamp > 0 {
		observedAt = time.Unix(decoded.Timestamp, 0).UTC()
	}

	base := decoded.Base
	if base == "" {
		base = f.opts.BaseCurrency
	}

	snapshots := make([]rates.Snapshot, 0, len(decoded.Rates))
	for symbol, rate := range decoded.Rates {
		snap := rates.Snapshot{
			Pair:       rates.NewPair(base, symbol),
			Class:      rates.ClassFiat,
			Rate:       rate,
			ObservedAt: observedAt,
			Source:     "fiat",
		}
		if err := snap.Validate(); err != nil {
			f.logger.Warn().Err(err).Str("symbol", symbol).Msg("dropping invalid fiat quote")
			continue
		}
		snapshots = append(snapshots, snap)
	}

	if len(snapshots) == 0 {
		return nil, Transient("fiat", errors.New("provider returned no usable rates"))
	}
	return snapshots, nil
}

var _ Fetcher = (*FiatHTTP)(nil)
