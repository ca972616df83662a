package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ratewatch/internal/rates"
)

// Op is a threshold comparison operator.
type Op string

const (
	OpLess         Op = "<"
	OpGreater      Op = ">"
	OpLessEqual    Op = "<="
	OpGreaterEqual Op = ">="
)

// ParseOp validates an operator string.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpLess, OpGreater, OpLessEqual, OpGreaterEqual:
		return Op(s), nil
	}
	return "", fmt.Errorf("unknown alert operator %q", s)
}

// Matches applies the operator to (rate, threshold).
func (o Op) Matches(rate, threshold decimal.Decimal) bool {
	switch o {
	case OpLess:
		return rate.LessThan(threshold)
	case OpGreater:
		return rate.GreaterThan(threshold)
	case OpLessEqual:
		return rate.LessThanOrEqual(threshold)
	case OpGreaterEqual:
		return rate.GreaterThanOrEqual(threshold)
	}
	return false
}

// Alert is a user-defined threshold watch. Alerts are owned by the CRUD
// layer; the engine consumes them read-only and writes back only the
// last-triggered timestamp.
type Alert struct {
	ID              string
	Owner           string
	Pair            rates.Pair
	Op              Op
	Threshold       decimal.Decimal
	Enabled         bool
	LastTriggeredAt *time.Time
}

// Trigger is the ephemeral event emitted when an alert fires. The pipeline
// hands it to the notification collaborator and keeps no durable copy.
type Trigger struct {
	AlertID      string
	Owner        string
	Pair         rates.Pair
	ObservedRate decimal.Decimal
	Threshold    decimal.Decimal
	Op           Op
	FiredAt      time.Time
}

// Store is the CRUD layer's boundary: a read-only snapshot of alert
// definitions plus the single write-back the pipeline performs.
type Store interface {
	LoadEnabled(ctx context.Context) ([]Alert, error)
	MarkTriggered(ctx context.Context, alertID string, at time.Time) error
}

// Notifier delivers a trigger. Delivery is fire-and-forget: failures are the
// collaborator's concern and never affect cooldown state.
type Notifier interface {
	Deliver(ctx context.Context, trigger Trigger) error
}
