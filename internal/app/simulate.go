package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"ratewatch/internal/alert"
	"ratewatch/internal/rates"
)

// SimulateAlert pushes one synthetic observation through a standalone alert
// engine to exercise the configured delivery channel end to end.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	pair, err := rates.ParsePair(opts.Pair)
	if err != nil {
		return err
	}
	op, err := alert.ParseOp(opts.Op)
	if err != nil {
		return err
	}
	rate, err := decimal.NewFromString(opts.Rate)
	if err != nil {
		return err
	}
	threshold, err := decimal.NewFromString(opts.Threshold)
	if err != nil {
		return err
	}
	class := rates.ClassFiat
	if opts.Class != "" {
		class, err = rates.ParseClass(opts.Class)
		if err != nil {
			return err
		}
	}

	simulated := alert.Alert{
		ID:        "simulated",
		Owner:     "cli",
		Pair:      pair,
		Op:        op,
		Threshold: threshold,
		Enabled:   true,
	}

	engine := alert.NewEngine(staticAlertStore{simulated}, a.newNotifier(), a.Config.Alerting.Cooldown, a.Logger)
	engine.Replace([]alert.Alert{simulated})

	entry := rates.Entry{
		Snapshot: rates.Snapshot{
			Pair:       pair,
			Class:      class,
			Rate:       rate,
			ObservedAt: time.Now().UTC(),
			Source:     "simulated",
		},
		FetchedAt: time.Now().UTC(),
		TTL:       time.Minute,
	}

	triggers := engine.Evaluate(ctx, entry)
	if len(triggers) == 0 {
		return errors.New("simulated rate did not satisfy the alert condition")
	}
	engine.Wait()

	a.Logger.Info().
		Str("pair", pair.String()).
		Str("rate", rate.String()).
		Msg("simulated alert dispatched")
	return nil
}

// staticAlertStore serves a fixed alert set and discards write-backs.
type staticAlertStore []alert.Alert

func (s staticAlertStore) LoadEnabled(context.Context) ([]alert.Alert, error) {
	return s, nil
}

func (s staticAlertStore) MarkTriggered(context.Context, string, time.Time) error {
	return nil
}
