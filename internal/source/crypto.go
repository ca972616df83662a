package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ratewatch/internal/rates"
)

const cryptoPricePath = "/simple/price"

// CryptoOptions parameterise the crypto price provider.
type CryptoOptions struct {
	BaseURL string
	// Coins maps provider coin ids to ticker symbols, e.g. bitcoin -> BTC.
	Coins      map[string]string
	VsCurrency string
	Timeout    time.Duration
	UserAgent  string
	APIKey     string
}

// CryptoHTTP fetches spot prices from a CoinGecko-compatible JSON API.
type CryptoHTTP struct {
	opts    CryptoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCryptoHTTP constructs a crypto price fetcher.
func NewCryptoHTTP(opts CryptoOptions, logger zerolog.Logger) *CryptoHTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "USD"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &CryptoHTTP{
		opts:    opts,
		logger:  logger.With().Str("component", "crypto_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Fetch retrieves spot prices for every configured coin.
func (c *CryptoHTTP) Fetch(ctx context.Context, class rates.Class) ([]rates.Snapshot, error) {
	if class != rates.ClassCrypto {
		return nil, Permanent("crypto", fmt.Errorf("unsupported asset class %q", class))
	}
	if len(c.opts.Coins) == 0 {
		return nil, Permanent("crypto", errors.New("no crypto coins configured"))
	}

	ids := make([]string, 0, len(c.opts.Coins))
	for id := range c.opts.Coins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	vs := strings.ToLower(c.opts.VsCurrency)
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", vs)
	query.Set("include_last_updated_at", "true")

	endpoint := c.baseURL + cryptoPricePath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Permanent("crypto", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if c.opts.APIKey != "" {
		req.Header.Set("x-cg-api-key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyRequest("crypto", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient("crypto", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP("crypto", resp, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var decoded map[string]map[string]json.Number
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, Transient("crypto", fmt.Errorf("decode price payload: %w", err))
	}

	now := time.Now().UTC()
	snapshots := make([]rates.Snapshot, 0, len(decoded))
	for _, id := range ids {
		quote, ok := decoded[id]
		if !ok {
			c.logger.Warn().Str("coin", id).Msg("coin missing from provider response")
			continue
		}

		price, ok := quote[vs]
		if !ok {
			continue
		}
		rate, err := decimal.NewFromString(price.String())
		if err != nil {
			c.logger.Warn().Err(err).Str("coin", id).Msg("unparseable price")
			continue
		}

		observedAt := now
		if lu, ok := quote["last_updated_at"]; ok {
			if unix, err := lu.Int64(); err == nil && unix > 0 {
				observedAt = time.Unix(unix, 0).UTC()
			}
		}

		snap := rates.Snapshot{
			Pair:       rates.NewPair(c.opts.Coins[id], c.opts.VsCurrency),
			Class:      rates.ClassCrypto,
			Rate:       rate,
			ObservedAt: observedAt,
			Source:     "crypto",
		}
		if err := snap.Validate(); err != nil {
			c.logger.Warn().Err(err).Str("coin", id).Msg("dropping invalid crypto quote")
			continue
		}
		snapshots = append(snapshots, snap)
	}

	if len(snapshots) == 0 {
		return nil, Transient("crypto", errors.New("provider returned no usable prices"))
	}
	return snapshots, nil
}

var _ Fetcher = (*CryptoHTTP)(nil)
