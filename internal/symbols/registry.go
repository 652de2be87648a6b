package symbols

import (
	"strings"
)

// DefaultTickers is the static base-asset universe.
var DefaultTickers = []string{
	"BTC", "ETH", "BNB", "SOL", "XRP", "ADA", "DOT", "AVAX", "LINK", "LTC",
	"BCH", "TRX", "MATIC", "SUI", "APT", "NEAR", "TIA", "ATOM", "ALGO", "STX",
	"EGLD", "KAS", "USDT", "USDC", "FDUSD", "DAI", "FRAX", "RLUSD", "DOGE", "SHIB",
	"PEPE", "FLOKI", "BONK", "WIF", "MEW", "NEIRO", "BRETT", "FARTCOIN", "POPCAT", "MOODENG",
	"GOAT", "FET", "TAO", "RENDER", "HYPE", "AKT", "AR", "FIL", "GRT", "ICP",
	"THETA", "LPT", "JASMY", "IO", "NOS", "PLANCK", "AAVE", "UNI", "SUSHI", "CRV",
	"MKR", "DYDX", "SNX", "1INCH", "PYTH", "API3", "JUP", "ENA", "PENDLE", "RAY",
	"BREV", "ZENT", "ATH", "CGPT", "COOKIE", "ZKC", "KAITO", "MORPHO", "SOMI", "TURTLE",
	"SENT", "HYPER", "ZAMA", "GALA", "AXS", "SAND", "MANA", "ILV", "IMX", "BEAM",
}

// DefaultExcluded lists stable and quote assets that never form a pair.
var DefaultExcluded = []string{"USDT", "USDC", "DAI", "FDUSD", "FRAX", "RLUSD"}

const DefaultQuote = "USDT"

// Build derives trading-pair symbols (ticker+quote) from the raw universe.
// Excluded tickers are dropped and duplicates keep their first position.
func Build(tickers, excluded []string, quote string) []string {
	quote = canon(quote)
	skip := make(map[string]struct{}, len(excluded))
	for _, e := range excluded {
		skip[canon(e)] = struct{}{}
	}
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = canon(t)
		if t == "" {
			continue
		}
		if _, ok := skip[t]; ok {
			continue
		}
		sym := t + quote
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// StreamNames returns "<symbol>@<suffix>" names, symbols lower-cased.
func StreamNames(syms []string, suffix string) []string {
	names := make([]string, len(syms))
	for i, s := range syms {
		names[i] = strings.ToLower(s) + "@" + suffix
	}
	return names
}

// StreamURL builds a combined-stream URL for one message kind.
func StreamURL(base string, syms []string, suffix string) string {
	return strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(StreamNames(syms, suffix), "/")
}

func canon(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
