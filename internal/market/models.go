package market

import (
	"github.com/shopspring/decimal"
)

// Kind describes one message kind and where its windows are written.
type Kind struct {
	Name   string // pipeline name used in logs and status
	Stream string // stream suffix, e.g. "trade" for btcusdt@trade
	Table  string // sink table
}

var (
	TradeKind = Kind{Name: "trade", Stream: "trade", Table: "trades_agg_1s"}
	QuoteKind = Kind{Name: "quote", Stream: "bookTicker", Table: "book_l1"}
)

type TradeEvent struct {
	Symbol       string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	IsBuyerMaker bool
}

// IsBuy reports whether the aggressor bought. A buyer-maker print is an
// aggressive sell.
func (t TradeEvent) IsBuy() bool { return !t.IsBuyerMaker }

type QuoteEvent struct {
	Symbol      string
	BidPrice    decimal.Decimal
	BidQuantity decimal.Decimal
	AskPrice    decimal.Decimal
	AskQuantity decimal.Decimal
}
