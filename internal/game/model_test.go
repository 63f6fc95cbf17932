package game

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCurrency(t *testing.T) {
	valid := map[string]Currency{"grain": Grain, " Stars ": Stars, "ton": Ton, "GROMD": Gromd, "star": Stars}
	for in, want := range valid {
		got, err := ParseCurrency(in)
		if err != nil {
			t.Fatalf("expected %q to parse: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %s want %s", in, got, want)
		}
	}

	_, err := ParseCurrency("gold")
	if !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("expected unknown currency, got %v", err)
	}
}

func TestExchangeRatesAreOneWay(t *testing.T) {
	tests := []struct {
		from, to Currency
		want     int64
		ok       bool
	}{
		{from: Stars, to: Grain, want: 5, ok: true},
		{from: Ton, to: Grain, want: 4000, ok: true},
		{from: Ton, to: Stars, want: 300, ok: true},
		{from: Grain, to: Stars},
		{from: Grain, to: Ton},
		{from: Gromd, to: Grain},
	}
	for _, tc := range tests {
		rate, ok := ExchangeRate(tc.from, tc.to)
		if ok != tc.ok {
			t.Fatalf("%s->%s: ok=%v want %v", tc.from, tc.to, ok, tc.ok)
		}
		if ok && !rate.Equal(decimal.NewFromInt(tc.want)) {
			t.Fatalf("%s->%s: rate=%s want %d", tc.from, tc.to, rate, tc.want)
		}
	}
}

func TestRejectionMatchesByReason(t *testing.T) {
	err := reject(ReasonInsufficientFunds, "need %d", 10)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected reason match")
	}
	if errors.Is(err, ErrSatietyFull) {
		t.Fatalf("unexpected match across reasons")
	}
	if err.Error() != "need 10" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRememberKeyCaps(t *testing.T) {
	var st State
	for i := 0; i < recentKeyLimit+10; i++ {
		st.RememberKey(decimal.NewFromInt(int64(i)).String())
	}
	if len(st.RecentKeys) != recentKeyLimit {
		t.Fatalf("kept %d keys", len(st.RecentKeys))
	}
	if st.SeenKey("0") {
		t.Fatalf("oldest key should be evicted")
	}
	if !st.SeenKey("73") {
		t.Fatalf("newest key should be kept")
	}
}
