package trader

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPositionsMatch(t *testing.T) {
	// Ledger replay of [buy 10 AAPL, sell 4 AAPL].
	ours := map[string]decimal.Decimal{"AAPL": d("6")}

	if !positionsMatch(ours, map[string]decimal.Decimal{"AAPL": d("6")}) {
		t.Error("matching positions reported as drift")
	}
	if positionsMatch(ours, map[string]decimal.Decimal{"AAPL": d("5")}) {
		t.Error("AAPL 6 vs 5 reported as matching")
	}
	if positionsMatch(ours, map[string]decimal.Decimal{}) {
		t.Error("missing broker position reported as matching")
	}
	if positionsMatch(map[string]decimal.Decimal{}, map[string]decimal.Decimal{"AAPL": d("6")}) {
		t.Error("missing ledger position reported as matching")
	}
}

func TestPositionsMatchTreatsZeroAsAbsent(t *testing.T) {
	closed := map[string]decimal.Decimal{"AAPL": d("0")}
	if !positionsMatch(closed, map[string]decimal.Decimal{}) {
		t.Error("fully closed position vs no row reported as drift")
	}
	if !positionsMatch(map[string]decimal.Decimal{}, closed) {
		t.Error("no row vs zero broker position reported as drift")
	}
}

func TestPositionsString(t *testing.T) {
	s := positionsString(map[string]decimal.Decimal{"MSFT": d("2"), "AAPL": d("6")})
	if s != "AAPL=6 MSFT=2" {
		t.Errorf("positionsString = %q", s)
	}
	if got := positionsString(nil); got != "(none)" {
		t.Errorf("positionsString(nil) = %q", got)
	}
}
