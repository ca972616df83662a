package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ratewatch/internal/rates"
)

// demoPeriod is the length of one full synthetic price oscillation.
const demoPeriod = 20 * time.Minute

// DemoOptions parameterise the offline synthesizer.
type DemoOptions struct {
	// Pairs lists the pairs served per asset class.
	Pairs map[rates.Class][]rates.Pair
}

// Demo synthesizes deterministic snapshots without contacting any provider.
// For a given pair and wall-clock second the emitted rate is always the same,
// which keeps offline demos and tests reproducible.
type Demo struct {
	opts   DemoOptions
	logger zerolog.Logger
	now    func() time.Time
}

// NewDemo constructs the offline fetcher.
func NewDemo(opts DemoOptions, logger zerolog.Logger) *Demo {
	return &Demo{
		opts:   opts,
		logger: logger.With().Str("component", "demo_source").Logger(),
		now:    time.Now,
	}
}

// Fetch synthesizes one snapshot per configured pair of the class.
func (d *Demo) Fetch(_ context.Context, class rates.Class) ([]rates.Snapshot, error) {
	pairs := d.opts.Pairs[class]
	if len(pairs) == 0 {
		return nil, Permanent("demo", fmt.Errorf("no demo pairs configured for class %q", class))
	}

	observedAt := d.now().UTC().Truncate(time.Second)
	snapshots := make([]rates.Snapshot, 0, len(pairs))
	for _, pair := range pairs {
		snapshots = append(snapshots, rates.Snapshot{
			Pair:       pair,
			Class:      class,
			Rate:       demoRate(pair, observedAt),
			ObservedAt: observedAt,
			Source:     "demo",
		})
	}
	return snapshots, nil
}

// demoRate derives a positive rate from the pair name and timestamp: a
// pair-specific anchor with a ±2% sinusoidal walk over demoPeriod.
func demoRate(pair rates.Pair, at time.Time) decimal.Decimal {
	h := fnv.New64a()
	_, _ = h.Write([]byte(pair.String()))
	seed := h.Sum64()

	// Anchor in [0.5, 100.5); phase spreads pairs across the cycle.
	anchor := 0.5 + float64(seed%10000)/100.0
	phase := float64(seed%360) * math.Pi / 180.0

	cycle := float64(at.Unix()%int64(demoPeriod.Seconds())) / demoPeriod.Seconds()
	wobble := 1 + 0.02*math.Sin(2*math.Pi*cycle+phase)

	return decimal.NewFromFloat(anchor * wobble).Round(8)
}

var _ Fetcher = (*Demo)(nil)
