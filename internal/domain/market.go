package domain

// Market is the external identity of a trading venue, supplied by MarketCatalogue.
// Immutable within a refresh cycle.
type Market struct {
	BaseToken     string // base58-encoded 32-byte mint identifier
	QuoteToken    string // base58-encoded 32-byte mint identifier
	PoolID        string // venue identifier, often an on-chain governance address
	BaseDecimals  int
	QuoteDecimals int
}

// TickerID is the canonical "<base>_<quote>" identifier used by GET /api/tickers.
func (m Market) TickerID() string {
	return m.BaseToken + "_" + m.QuoteToken
}
