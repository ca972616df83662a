package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"ratewatch/internal/rates"
)

// Sample is one persisted rate observation, archived per tick when a
// database is configured.
type Sample struct {
	Pair       rates.Pair
	Class      rates.Class
	Rate       decimal.Decimal
	ObservedAt time.Time
	Source     string
	CreatedAt  time.Time
}

// Conversion is one served currency conversion, logged opportunistically.
type Conversion struct {
	ID        int64
	From      string
	To        string
	Amount    decimal.Decimal
	Rate      decimal.Decimal
	Result    decimal.Decimal
	CreatedAt time.Time
}
