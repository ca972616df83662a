package rates

import (
	"fmt"
	"strings"
)

// Class tags which upstream data feed a pair belongs to.
type Class string

const (
	ClassFiat   Class = "fiat"
	ClassCrypto Class = "crypto"
)

// Classes lists every supported asset class.
func Classes() []Class {
	return []Class{ClassFiat, ClassCrypto}
}

// ParseClass validates a class string.
func ParseClass(s string) (Class, error) {
	switch Class(strings.ToLower(strings.TrimSpace(s))) {
	case ClassFiat:
		return ClassFiat, nil
	case ClassCrypto:
		return ClassCrypto, nil
	}
	return "", fmt.Errorf("unknown asset class %q", s)
}

// Pair is an ordered (base, quote) currency pair, e.g. USD/INR or BTC/USD.
// Symbols are upper-cased ISO-4217 codes or crypto tickers. Pair is a value
// type and safe to use as a map key.
type Pair struct {
	Base  string
	Quote string
}

// NewPair normalises the two symbols into a Pair.
func NewPair(base, quote string) Pair {
	return Pair{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParsePair parses "BASE/QUOTE" notation.
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair %q: want BASE/QUOTE", s)
	}
	return NewPair(parts[0], parts[1]), nil
}

// Inverse flips base and quote.
func (p Pair) Inverse() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.Base == "" || p.Quote == ""
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}
