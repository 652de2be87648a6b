package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformed marks a payload that is missing or has unusable fields.
var ErrMalformed = errors.New("malformed payload")

type tradePayload struct {
	Symbol       string              `json:"s"`
	Price        decimal.NullDecimal `json:"p"`
	Quantity     decimal.NullDecimal `json:"q"`
	IsBuyerMaker *bool               `json:"m"`
	Ignore       *bool               `json:"M"` // spot only; keeps "M" from matching "m"
}

type quotePayload struct {
	Symbol   string              `json:"s"`
	BidPrice decimal.NullDecimal `json:"b"`
	BidQty   decimal.NullDecimal `json:"B"`
	AskPrice decimal.NullDecimal `json:"a"`
	AskQty   decimal.NullDecimal `json:"A"`
}

func ParseTrade(raw json.RawMessage) (TradeEvent, error) {
	var p tradePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return TradeEvent{}, fmt.Errorf("%w: trade: %v", ErrMalformed, err)
	}
	sym := strings.TrimSpace(p.Symbol)
	switch {
	case sym == "":
		return TradeEvent{}, fmt.Errorf("%w: trade: missing s", ErrMalformed)
	case !p.Price.Valid:
		return TradeEvent{}, fmt.Errorf("%w: trade %s: missing p", ErrMalformed, sym)
	case !p.Quantity.Valid:
		return TradeEvent{}, fmt.Errorf("%w: trade %s: missing q", ErrMalformed, sym)
	case p.IsBuyerMaker == nil:
		return TradeEvent{}, fmt.Errorf("%w: trade %s: missing m", ErrMalformed, sym)
	}
	return TradeEvent{
		Symbol:       sym,
		Price:        p.Price.Decimal,
		Quantity:     p.Quantity.Decimal,
		IsBuyerMaker: *p.IsBuyerMaker,
	}, nil
}

func ParseQuote(raw json.RawMessage) (QuoteEvent, error) {
	var p quotePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return QuoteEvent{}, fmt.Errorf("%w: quote: %v", ErrMalformed, err)
	}
	sym := strings.TrimSpace(p.Symbol)
	if sym == "" {
		return QuoteEvent{}, fmt.Errorf("%w: quote: missing s", ErrMalformed)
	}
	fields := []struct {
		name string
		v    decimal.NullDecimal
	}{{"b", p.BidPrice}, {"B", p.BidQty}, {"a", p.AskPrice}, {"A", p.AskQty}}
	for _, f := range fields {
		if !f.v.Valid {
			return QuoteEvent{}, fmt.Errorf("%w: quote %s: missing %s", ErrMalformed, sym, f.name)
		}
	}
	return QuoteEvent{
		Symbol:      sym,
		BidPrice:    p.BidPrice.Decimal,
		BidQuantity: p.BidQty.Decimal,
		AskPrice:    p.AskPrice.Decimal,
		AskQuantity: p.AskQty.Decimal,
	}, nil
}
