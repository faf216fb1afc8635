package autorepay

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestMulDivOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := mulDiv(huge, big.NewInt(4), big.NewInt(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	got, err := mulDiv(huge, big.NewInt(4), big.NewInt(8))
	if err != nil {
		t.Fatalf("mulDiv with wide intermediate: %v", err)
	}
	want := new(big.Int).Rsh(huge, 1)
	if got.Cmp(want) != 0 {
		t.Fatalf("unexpected result: got %s want %s", got, want)
	}
	if _, err := mulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0)); err == nil {
		t.Fatalf("expected division by zero error")
	}
}

func TestCheckedSubRejectsUnderflow(t *testing.T) {
	if _, err := checkedSub(big.NewInt(1), big.NewInt(2)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected underflow error, got %v", err)
	}
	if _, err := checkedAdd(big.NewInt(-1), big.NewInt(2)); err == nil {
		t.Fatalf("expected negative operand rejection")
	}
}

func TestNormalizePrice(t *testing.T) {
	cases := []struct {
		value    *big.Int
		decimals uint8
		want     string
	}{
		{big.NewInt(2000_00000000), 8, "2000000000000000000000"},
		{mustIntNoT("2000000000000000000000"), 18, "2000000000000000000000"},
		{mustIntNoT("200000000000000000000099"), 20, "2000000000000000000000"},
		{big.NewInt(1), 0, "1000000000000000000"},
	}
	for _, tc := range cases {
		got, err := NormalizePrice(tc.value, tc.decimals)
		if err != nil {
			t.Fatalf("normalize %s/%d: %v", tc.value, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("normalize %s/%d: got %s want %s", tc.value, tc.decimals, got, tc.want)
		}
	}
}

func mustIntNoT(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

func TestCurrentPriceFailures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := map[string]*fakeFeed{
		"error":    {err: errBoom},
		"invalid":  {quote: Quote{Value: big.NewInt(1), Decimals: 8, Valid: false}},
		"zero":     {quote: Quote{Value: big.NewInt(0), Decimals: 8, Valid: true}},
		"negative": {quote: Quote{Value: big.NewInt(-5), Decimals: 8, Valid: true}},
		"stale":    {quote: Quote{Value: big.NewInt(1), Decimals: 8, Valid: true, UpdatedAt: now.Add(-2 * time.Hour)}},
		"dust":     {quote: Quote{Value: big.NewInt(9), Decimals: 19, Valid: true}},
	}
	for name, feed := range cases {
		oracle := NewPriceOracle(feed, WithMaxAge(time.Hour), WithOracleClock(func() time.Time { return now }))
		if _, err := oracle.CurrentPrice(context.Background()); !errors.Is(err, ErrOracleUnavailable) {
			t.Fatalf("%s: expected ErrOracleUnavailable, got %v", name, err)
		}
	}
	if _, err := NewPriceOracle(nil).CurrentPrice(context.Background()); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("nil feed: expected ErrOracleUnavailable, got %v", err)
	}
}

func TestCurrentPriceFreshQuote(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	feed := &fakeFeed{quote: Quote{Value: big.NewInt(2000_00000000), Decimals: 8, Valid: true, UpdatedAt: now.Add(-time.Minute)}}
	oracle := NewPriceOracle(feed, WithMaxAge(time.Hour), WithOracleClock(func() time.Time { return now }))
	price, err := oracle.CurrentPrice(context.Background())
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if price.Cmp(units(2000)) != 0 {
		t.Fatalf("unexpected price: got %s want %s", price, units(2000))
	}
}
