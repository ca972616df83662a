package app

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ratewatch/internal/alert"
	"ratewatch/internal/alerting"
	"ratewatch/internal/broadcast"
	"ratewatch/internal/config"
	"ratewatch/internal/history"
	"ratewatch/internal/predict"
	"ratewatch/internal/rates"
	"ratewatch/internal/scheduler"
	"ratewatch/internal/server"
	"ratewatch/internal/service"
	"ratewatch/internal/source"
	"ratewatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifier() alert.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return &logNotifier{logger: a.Logger.With().Str("component", "alert_log").Logger()}
}

// logNotifier prints triggers to the structured log when no external
// delivery channel is configured.
type logNotifier struct {
	logger zerolog.Logger
}

func (n *logNotifier) Deliver(_ context.Context, trigger alert.Trigger) error {
	n.logger.Info().
		Str("alert_id", trigger.AlertID).
		Str("pair", trigger.Pair.String()).
		Str("rate", trigger.ObservedRate.String()).
		Str("op", string(trigger.Op)).
		Str("threshold", trigger.Threshold.String()).
		Msg("alert triggered")
	return nil
}

var _ alert.Notifier = (*logNotifier)(nil)

func (a *App) demoPairs() map[rates.Class][]rates.Pair {
	fiat := a.Config.Sources.Fiat
	crypto := a.Config.Sources.Crypto

	pairs := make(map[rates.Class][]rates.Pair, 2)
	for _, symbol := range fiat.Symbols {
		pairs[rates.ClassFiat] = append(pairs[rates.ClassFiat], rates.NewPair(fiat.BaseCurrency, symbol))
	}
	for _, ticker := range crypto.Coins {
		pairs[rates.ClassCrypto] = append(pairs[rates.ClassCrypto], rates.NewPair(ticker, crypto.VsCurrency))
	}
	return pairs
}

func (a *App) newFetcher(class rates.Class) source.Fetcher {
	if strings.ToLower(a.Config.Sources.Mode) == "demo" {
		return source.NewDemo(source.DemoOptions{Pairs: a.demoPairs()}, a.Logger)
	}

	switch class {
	case rates.ClassFiat:
		cfg := a.Config.Sources.Fiat
		return source.NewFiatHTTP(source.FiatOptions{
			BaseURL:      cfg.BaseURL,
			BaseCurrency: cfg.BaseCurrency,
			Symbols:      cfg.Symbols,
			Timeout:      cfg.RequestTimeout,
			UserAgent:    cfg.UserAgent,
			APIKey:       cfg.APIKey,
		}, a.Logger)
	default:
		if a.Config.Sources.Oracle.Enabled {
			cfg := a.Config.Sources.Oracle
			return source.NewOracle(source.OracleOptions{
				RPCURL:  cfg.RPCURL,
				Feeds:   cfg.Feeds,
				Timeout: cfg.RequestTimeout,
			}, a.Logger)
		}
		cfg := a.Config.Sources.Crypto
		return source.NewCryptoHTTP(source.CryptoOptions{
			BaseURL:    cfg.BaseURL,
			Coins:      cfg.Coins,
			VsCurrency: cfg.VsCurrency,
			Timeout:    cfg.RequestTimeout,
			UserAgent:  cfg.UserAgent,
			APIKey:     cfg.APIKey,
		}, a.Logger)
	}
}

func classOptions(class rates.Class, cfg config.ClassSchedule) scheduler.Options {
	return scheduler.Options{
		Class:         class,
		Interval:      cfg.Interval,
		TTL:           cfg.TTL,
		BackoffBase:   cfg.BackoffBase,
		BackoffMax:    cfg.BackoffMax,
		JitterFrac:    cfg.JitterFrac,
		DegradedAfter: cfg.DegradedAfter,
	}
}

// Run starts the full pipeline: one scheduler loop per asset class, the
// alert refresher, and the HTTP/WebSocket server. It blocks until the
// context is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence and alert definitions disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cache := rates.NewCache(a.Config.Pipeline.QuoteCurrency)
	book := history.NewBook(a.Config.Pipeline.HistoryCapacity)
	hub := broadcast.NewHub(a.Config.Broadcast.QueueSize, a.Logger)
	health := scheduler.NewHealth()
	predictor := predict.New(book, predict.Options{
		ShortWindow:   a.Config.Predict.ShortWindow,
		LongWindow:    a.Config.Predict.LongWindow,
		MaxConfidence: a.Config.Predict.MaxConfidence,
		MaxAge:        a.Config.Predict.MaxAge,
	})

	deps := service.Deps{
		Cache:     cache,
		Book:      book,
		Hub:       hub,
		Predictor: predictor,
		Health:    health,
	}

	var engine *alert.Engine
	if store != nil {
		deps.Samples = store
		deps.Recorder = store

		engine = alert.NewEngine(store, a.newNotifier(), a.Config.Alerting.Cooldown, a.Logger)
		if err := engine.Refresh(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("initial alert load failed; starting with empty set")
		}
		deps.Engine = engine
	}

	pipeline := service.New(deps, a.Logger)

	runners := []*scheduler.Runner{
		scheduler.NewRunner(classOptions(rates.ClassFiat, a.Config.Scheduler.Fiat),
			a.newFetcher(rates.ClassFiat), cache, book, health, a.Logger, pipeline.Dispatch),
		scheduler.NewRunner(classOptions(rates.ClassCrypto, a.Config.Scheduler.Crypto),
			a.newFetcher(rates.ClassCrypto), cache, book, health, a.Logger, pipeline.Dispatch),
	}

	srv := server.New(a.Config.Server, pipeline, a.Logger)

	var wg sync.WaitGroup
	for _, runner := range runners {
		wg.Add(1)
		go func(r *scheduler.Runner) {
			defer wg.Done()
			// A permanent provider failure halts only this class; the
			// other loops and the server keep serving.
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("scheduler loop terminated")
			}
		}(runner)
	}

	if engine != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.RunRefresher(ctx, a.Config.Alerting.RefreshInterval)
		}()
	}

	a.Logger.Info().Str("mode", a.Config.Sources.Mode).Msg("pipeline started")

	srvErr := srv.Run(ctx)
	cancel()
	wg.Wait()
	if engine != nil {
		engine.Wait()
	}

	if srvErr != nil && !errors.Is(srvErr, context.Canceled) {
		a.Logger.Error().Err(srvErr).Msg("server terminated with error")
		return srvErr
	}

	a.Logger.Info().Msg("pipeline stopped")
	return nil
}

// ExportOptions hold parameters for exporting archived samples.
type ExportOptions struct {
	Pair      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Pair  string
	Limit int
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	Pair      string
	Class     string
	Rate      string
	Op        string
	Threshold string
}
