package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ratewatch/internal/alert"
	"ratewatch/internal/broadcast"
	"ratewatch/internal/history"
	"ratewatch/internal/metrics"
	"ratewatch/internal/predict"
	"ratewatch/internal/rates"
	"ratewatch/internal/scheduler"
	"ratewatch/internal/storage"
)

// Deps lists the pipeline's collaborators. Engine and the storage interfaces
// may be nil; the pipeline degrades to in-process behaviour without them.
type Deps struct {
	Cache     *rates.Cache
	Book      *history.Book
	Hub       *broadcast.Hub
	Engine    *alert.Engine
	Predictor *predict.Predictor
	Health    *scheduler.Health
	Samples   storage.SampleStore
	Recorder  storage.ConversionRecorder
}

// Pipeline is the read/query facade over the running rate loops. Scheduler
// runners feed it through Dispatch; everything else is served from the
// shared cache and history book.
type Pipeline struct {
	cache     *rates.Cache
	book      *history.Book
	hub       *broadcast.Hub
	engine    *alert.Engine
	predictor *predict.Predictor
	health    *scheduler.Health
	samples   storage.SampleStore
	recorder  storage.ConversionRecorder
	logger    zerolog.Logger

	now func() time.Time
}

// New assembles the pipeline facade.
func New(deps Deps, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cache:     deps.Cache,
		book:      deps.Book,
		hub:       deps.Hub,
		engine:    deps.Engine,
		predictor: deps.Predictor,
		health:    deps.Health,
		samples:   deps.Samples,
		recorder:  deps.Recorder,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
	}
}

// Dispatch is the scheduler sink: it fans an applied entry out to
// subscribers, evaluates alerts, and archives the observation when a
// database is configured. The scheduler has already updated cache and
// history before calling it.
func (p *Pipeline) Dispatch(entry rates.Entry) {
	if p.hub != nil {
		p.hub.Publish(entry)
	}
	if p.engine != nil {
		p.engine.Evaluate(context.Background(), entry)
	}
	if p.samples != nil {
		go p.archive(entry)
	}
}

func (p *Pipeline) archive(entry rates.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sample := storage.Sample{
		Pair:       entry.Snapshot.Pair,
		Class:      entry.Snapshot.Class,
		Rate:       entry.Snapshot.Rate,
		ObservedAt: entry.Snapshot.ObservedAt,
		Source:     entry.Snapshot.Source,
	}
	if err := p.samples.InsertSample(ctx, sample); err != nil {
		p.logger.Error().Err(err).Str("pair", sample.Pair.String()).Msg("failed to archive sample")
	}
}

// Latest returns the cached entry for a pair, ErrNotFound when the pair has
// never been observed.
func (p *Pipeline) Latest(pair rates.Pair) (rates.Entry, error) {
	return p.cache.Get(pair)
}

// Pairs lists every pair currently cached.
func (p *Pipeline) Pairs() []rates.Pair {
	return p.cache.Pairs()
}

// ConvertResult is one served conversion.
type ConvertResult struct {
	From   string
	To     string
	Amount decimal.Decimal
	Rate   decimal.Decimal
	Result decimal.Decimal
}

// Convert resolves a rate between two currencies and applies it to amount.
// Served conversions are logged opportunistically; a storage failure never
// fails the conversion itself.
func (p *Pipeline) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (ConvertResult, error) {
	result, rate, err := p.cache.Convert(amount, from, to)
	if err != nil {
		return ConvertResult{}, err
	}
	metrics.ConversionsServed.Inc()

	conv := ConvertResult{From: from, To: to, Amount: amount, Rate: rate, Result: result}
	if p.recorder != nil {
		go p.record(conv)
	}
	return conv, nil
}

func (p *Pipeline) record(conv ConvertResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := storage.Conversion{
		From:   conv.From,
		To:     conv.To,
		Amount: conv.Amount,
		Rate:   conv.Rate,
		Result: conv.Result,
	}
	if _, err := p.recorder.RecordConversion(ctx, row); err != nil {
		p.logger.Error().Err(err).Str("from", conv.From).Str("to", conv.To).Msg("failed to record conversion")
	}
}

// History returns the in-memory points for a pair observed within the last
// period. A pair with no history yields an empty slice.
func (p *Pipeline) History(pair rates.Pair, period time.Duration) []history.Point {
	return p.book.Since(pair, p.now().Add(-period))
}

// Predict estimates a near-term rate from recent history.
func (p *Pipeline) Predict(pair rates.Pair, horizon predict.Horizon) (predict.Estimate, error) {
	return p.predictor.Predict(pair, horizon)
}

// Subscribe registers a live-update subscriber; an empty pair list means
// all pairs.
func (p *Pipeline) Subscribe(pairs ...rates.Pair) *broadcast.Subscriber {
	return p.hub.Subscribe(pairs...)
}

// Unsubscribe removes a subscriber and closes its channel.
func (p *Pipeline) Unsubscribe(id uuid.UUID) {
	p.hub.Unsubscribe(id)
}

// Health reports per-class scheduler status.
func (p *Pipeline) Health() map[rates.Class]scheduler.Status {
	return p.health.Snapshot()
}
