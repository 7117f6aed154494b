package model

// occTailLen is the fixed-width suffix of an OCC option symbol:
// yymmdd expiry (6) + C/P flag (1) + strike in thousandths (8).
const occTailLen = 15

// UnderlyingFromOCC extracts the underlying ticker from an OCC option
// symbol, e.g. "SPY260117C00695000" -> "SPY". Symbols that do not parse
// as OCC options are returned unchanged, so plain equity tickers pass
// through and subscribe as themselves.
func UnderlyingFromOCC(symbol string) string {
	if len(symbol) <= occTailLen {
		return symbol
	}
	tail := symbol[len(symbol)-occTailLen:]
	if tail[6] != 'C' && tail[6] != 'P' {
		return symbol
	}
	for i := 0; i < occTailLen; i++ {
		if i == 6 {
			continue
		}
		if tail[i] < '0' || tail[i] > '9' {
			return symbol
		}
	}
	return symbol[:len(symbol)-occTailLen]
}

// IsOCC reports whether symbol parses as an OCC option symbol.
func IsOCC(symbol string) bool {
	return UnderlyingFromOCC(symbol) != symbol
}
