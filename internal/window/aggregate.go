package window

import (
	"time"

	"github.com/shopspring/decimal"

	"marketagg/internal/market"
	"marketagg/internal/sink"
)

// Accumulator folds events of one kind into per-symbol state for the open
// window. It is owned by a single goroutine and is not safe for concurrent use.
type Accumulator[E any] interface {
	Add(ev E)
	Len() int
	Rows(table string, at time.Time) []sink.Row
}

// TradeAggregate is the running summary of one symbol's trades in a window.
// It only grows until the window is sealed.
type TradeAggregate struct {
	BuyVolume  decimal.Decimal
	SellVolume decimal.Decimal
	Notional   decimal.Decimal // sum of price*qty over both sides
	Count      int64
}

func (a *TradeAggregate) Add(t market.TradeEvent) {
	if t.IsBuy() {
		a.BuyVolume = a.BuyVolume.Add(t.Quantity)
	} else {
		a.SellVolume = a.SellVolume.Add(t.Quantity)
	}
	a.Notional = a.Notional.Add(t.Price.Mul(t.Quantity))
	a.Count++
}

func (a *TradeAggregate) TotalVolume() decimal.Decimal { return a.BuyVolume.Add(a.SellVolume) }

func (a *TradeAggregate) Delta() decimal.Decimal { return a.BuyVolume.Sub(a.SellVolume) }

// VWAP is Notional/TotalVolume, or zero when no volume traded.
func (a *TradeAggregate) VWAP() decimal.Decimal {
	total := a.TotalVolume()
	if total.IsZero() {
		return decimal.Zero
	}
	return a.Notional.Div(total)
}

// TradeBook maps symbol to its trade aggregate, created on first trade.
type TradeBook struct {
	aggs  map[string]*TradeAggregate
	order []string
}

func NewTradeBook() *TradeBook {
	return &TradeBook{aggs: make(map[string]*TradeAggregate)}
}

func (b *TradeBook) Add(t market.TradeEvent) {
	agg, ok := b.aggs[t.Symbol]
	if !ok {
		agg = &TradeAggregate{}
		b.aggs[t.Symbol] = agg
		b.order = append(b.order, t.Symbol)
	}
	agg.Add(t)
}

func (b *TradeBook) Len() int { return len(b.aggs) }

func (b *TradeBook) Get(symbol string) (*TradeAggregate, bool) {
	agg, ok := b.aggs[symbol]
	return agg, ok
}

// Rows emits one row per symbol in first-seen order. Aggregates without
// volume are skipped.
func (b *TradeBook) Rows(table string, at time.Time) []sink.Row {
	rows := make([]sink.Row, 0, len(b.order))
	for _, sym := range b.order {
		agg := b.aggs[sym]
		if agg.TotalVolume().IsZero() {
			continue
		}
		rows = append(rows, sink.Row{
			Table:  table,
			Symbol: sym,
			Columns: []sink.Column{
				{Name: "buy_vol", Value: agg.BuyVolume.InexactFloat64()},
				{Name: "sell_vol", Value: agg.SellVolume.InexactFloat64()},
				{Name: "delta", Value: agg.Delta().InexactFloat64()},
				{Name: "vwap", Value: agg.VWAP().InexactFloat64()},
				{Name: "trade_count", Value: agg.Count},
			},
			At: at,
		})
	}
	return rows
}

// QuoteSnapshot is the last top-of-book seen for a symbol. Each quote
// replaces it outright.
type QuoteSnapshot struct {
	BidPrice    decimal.Decimal
	BidQuantity decimal.Decimal
	AskPrice    decimal.Decimal
	AskQuantity decimal.Decimal
}

func SnapshotOf(q market.QuoteEvent) QuoteSnapshot {
	return QuoteSnapshot{
		BidPrice:    q.BidPrice,
		BidQuantity: q.BidQuantity,
		AskPrice:    q.AskPrice,
		AskQuantity: q.AskQuantity,
	}
}

// QuoteBook maps symbol to its latest snapshot.
type QuoteBook struct {
	snaps map[string]QuoteSnapshot
	order []string
}

func NewQuoteBook() *QuoteBook {
	return &QuoteBook{snaps: make(map[string]QuoteSnapshot)}
}

func (b *QuoteBook) Add(q market.QuoteEvent) {
	if _, ok := b.snaps[q.Symbol]; !ok {
		b.order = append(b.order, q.Symbol)
	}
	b.snaps[q.Symbol] = SnapshotOf(q)
}

func (b *QuoteBook) Len() int { return len(b.snaps) }

func (b *QuoteBook) Get(symbol string) (QuoteSnapshot, bool) {
	s, ok := b.snaps[symbol]
	return s, ok
}

func (b *QuoteBook) Rows(table string, at time.Time) []sink.Row {
	rows := make([]sink.Row, 0, len(b.order))
	for _, sym := range b.order {
		s := b.snaps[sym]
		rows = append(rows, sink.Row{
			Table:  table,
			Symbol: sym,
			Columns: []sink.Column{
				{Name: "bid_price", Value: s.BidPrice.InexactFloat64()},
				{Name: "bid_qty", Value: s.BidQuantity.InexactFloat64()},
				{Name: "ask_price", Value: s.AskPrice.InexactFloat64()},
				{Name: "ask_qty", Value: s.AskQuantity.InexactFloat64()},
			},
			At: at,
		})
	}
	return rows
}
