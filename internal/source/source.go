package source

import (
	"context"

	"ratewatch/internal/rates"
)

// Fetcher pulls a batch of rate snapshots for one asset class from an
// upstream provider. Implementations are interchangeable and selected by
// configuration: live HTTP providers, an on-chain oracle, or the offline
// demo synthesizer all satisfy the same contract.
type Fetcher interface {
	Fetch(ctx context.Context, class rates.Class) ([]rates.Snapshot, error)
}
