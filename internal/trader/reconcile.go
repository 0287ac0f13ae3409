package trader

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// positionsMatch compares ledger-derived positions against the broker's
// replayed positions, ticker for ticker. A ticker missing from one side
// counts as zero there, so a fully closed position compares equal to no
// row at all.
func positionsMatch(ours, theirs map[string]decimal.Decimal) bool {
	for ticker, qty := range ours {
		if !qty.Equal(theirs[ticker]) {
			return false
		}
	}
	for ticker, qty := range theirs {
		if _, ok := ours[ticker]; !ok && !qty.IsZero() {
			return false
		}
	}
	return true
}

// positionsString renders a position map deterministically for logs.
func positionsString(m map[string]decimal.Decimal) string {
	if len(m) == 0 {
		return "(none)"
	}
	tickers := make([]string, 0, len(m))
	for t := range m {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	parts := make([]string, 0, len(tickers))
	for _, t := range tickers {
		parts = append(parts, t+"="+m[t].String())
	}
	return strings.Join(parts, " ")
}
