package predict

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ratewatch/internal/history"
	"ratewatch/internal/rates"
)

// ErrInsufficientHistory indicates fewer than two points are available, so
// no estimate can be produced.
var ErrInsufficientHistory = errors.New("predict: insufficient history")

// Horizon selects the averaging window class.
type Horizon string

const (
	HorizonShort Horizon = "short"
	HorizonLong  Horizon = "long"
)

// ParseHorizon validates a horizon string.
func ParseHorizon(s string) (Horizon, error) {
	switch Horizon(s) {
	case HorizonShort, HorizonLong:
		return Horizon(s), nil
	case "":
		return HorizonShort, nil
	}
	return "", fmt.Errorf("unknown horizon %q", s)
}

// Estimate is a moving-average trend estimate. It is explicitly a simple
// trend indicator, not a statistical forecast; Confidence is capped below 1
// and shrinks with thin or stale history.
type Estimate struct {
	Pair       rates.Pair
	Horizon    Horizon
	Rate       decimal.Decimal
	Confidence float64
	Points     int
}

// Options tune the predictor.
type Options struct {
	ShortWindow   int
	LongWindow    int
	MaxConfidence float64
	// MaxAge is the point age at which freshness-derived confidence
	// reaches zero.
	MaxAge time.Duration
}

// Predictor computes short-horizon moving averages from the history book.
type Predictor struct {
	book *history.Book
	opts Options
	now  func() time.Time
}

// New constructs a predictor over the given history book.
func New(book *history.Book, opts Options) *Predictor {
	if opts.ShortWindow < 2 {
		opts.ShortWindow = 12
	}
	if opts.LongWindow < opts.ShortWindow {
		opts.LongWindow = 4 * opts.ShortWindow
	}
	if opts.MaxConfidence <= 0 || opts.MaxConfidence >= 1 {
		opts.MaxConfidence = 0.9
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 15 * time.Minute
	}
	return &Predictor{book: book, opts: opts, now: time.Now}
}

func (p *Predictor) window(h Horizon) int {
	if h == HorizonLong {
		return p.opts.LongWindow
	}
	return p.opts.ShortWindow
}

// Predict averages the most recent window of points for the pair. It fails
// with ErrInsufficientHistory when fewer than two points exist.
func (p *Predictor) Predict(pair rates.Pair, horizon Horizon) (Estimate, error) {
	window := p.window(horizon)
	points := p.book.Last(pair, window)
	if len(points) < 2 {
		return Estimate{}, fmt.Errorf("%w: %s has %d points", ErrInsufficientHistory, pair, len(points))
	}

	sum := decimal.Zero
	for _, pt := range points {
		sum = sum.Add(pt.Rate)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(points))))

	return Estimate{
		Pair:       pair,
		Horizon:    horizon,
		Rate:       mean,
		Confidence: p.confidence(points, window),
		Points:     len(points),
	}, nil
}

// confidence decreases monotonically with missing points and with the age of
// the newest point, and never exceeds the configured cap.
func (p *Predictor) confidence(points []history.Point, window int) float64 {
	fill := float64(len(points)) / float64(window)
	if fill > 1 {
		fill = 1
	}

	newest := points[len(points)-1].ObservedAt
	age := p.now().Sub(newest)
	freshness := 1 - age.Seconds()/p.opts.MaxAge.Seconds()
	if freshness < 0 {
		freshness = 0
	}
	if freshness > 1 {
		freshness = 1
	}

	return p.opts.MaxConfidence * fill * freshness
}
