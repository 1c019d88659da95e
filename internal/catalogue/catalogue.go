// Package catalogue declares the external market-identity collaborator.
// Chain-RPC discovery of market identifiers is out of scope; only the
// interface the rest of the pipeline consumes is modelled here.
package catalogue

import (
	"context"

	"dexgrid/internal/domain"
)

// MarketCatalogue supplies the static-within-a-refresh-cycle list of markets
// the pipeline tracks. The composition root filters this list once against
// the excluded-markets configuration before wiring it into the refreshers.
type MarketCatalogue interface {
	// Markets returns every known market. Safe to call repeatedly; an
	// implementation may cache internally.
	Markets(ctx context.Context) ([]domain.Market, error)
}

// StaticCatalogue is a MarketCatalogue backed by a fixed, in-process list —
// the degraded-mode and test-time implementation when chain-RPC discovery
// isn't wired in.
type StaticCatalogue struct {
	markets []domain.Market
}

// NewStaticCatalogue builds a StaticCatalogue from a fixed market list.
func NewStaticCatalogue(markets []domain.Market) *StaticCatalogue {
	return &StaticCatalogue{markets: markets}
}

func (c *StaticCatalogue) Markets(_ context.Context) ([]domain.Market, error) {
	return c.markets, nil
}

var _ MarketCatalogue = (*StaticCatalogue)(nil)
