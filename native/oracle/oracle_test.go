package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestManualOracleRoundTrip(t *testing.T) {
	feed := NewManualOracle()
	ts := time.Unix(1_700_000_000, 0)
	if err := feed.SetDecimal("xlm", "usdc", "0.125", ts); err != nil {
		t.Fatalf("set decimal: %v", err)
	}

	quote, err := feed.GetRate("XLM", "USDC")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.Rate.Cmp(big.NewRat(1, 8)) != 0 {
		t.Fatalf("unexpected rate %s", quote.Rate)
	}
	if !quote.Timestamp.Equal(ts) {
		t.Fatalf("unexpected timestamp %s", quote.Timestamp)
	}
	if quote.Source != "manual" {
		t.Fatalf("unexpected source %q", quote.Source)
	}

	// Mutating the returned quote must not affect the stored one.
	quote.Rate.SetInt64(99)
	again, err := feed.GetRate("XLM", "USDC")
	if err != nil {
		t.Fatalf("get rate again: %v", err)
	}
	if again.Rate.Cmp(big.NewRat(1, 8)) != 0 {
		t.Fatalf("stored rate mutated: %s", again.Rate)
	}
}

func TestManualOracleRejectsBadRates(t *testing.T) {
	feed := NewManualOracle()
	if err := feed.SetDecimal("XLM", "USDC", "not-a-number", time.Now()); err == nil {
		t.Fatal("expected error for malformed rate")
	}
	if err := feed.SetDecimal("XLM", "USDC", "-1", time.Now()); err == nil {
		t.Fatal("expected error for negative rate")
	}
	if _, err := feed.GetRate("XLM", "USDC"); err == nil {
		t.Fatal("expected error for missing quote")
	}
}

func TestAggregatorPriorityAndFreshness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	stale := NewManualOracle()
	stale.Set("XLM", "USDC", big.NewRat(1, 10), now.Add(-time.Hour))
	fresh := NewManualOracle()
	fresh.Set("XLM", "USDC", big.NewRat(1, 8), now.Add(-time.Minute))

	agg := NewAggregator([]string{"primary", "backup"}, 10*time.Minute)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("primary", stale)
	agg.Register("backup", fresh)

	quote, err := agg.GetRate("xlm", "usdc")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.Rate.Cmp(big.NewRat(1, 8)) != 0 {
		t.Fatalf("expected backup rate, got %s", quote.Rate)
	}
}

func TestAggregatorAllStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	stale := NewManualOracle()
	stale.Set("XLM", "USDC", big.NewRat(1, 10), now.Add(-time.Hour))

	agg := NewAggregator(nil, 10*time.Minute)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("only", stale)

	_, err := agg.GetRate("XLM", "USDC")
	if !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected ErrNoFreshQuote, got %v", err)
	}
}

func TestAggregatorNoFeeds(t *testing.T) {
	agg := NewAggregator(nil, 0)
	_, err := agg.GetRate("XLM", "USDC")
	if !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected ErrNoFreshQuote, got %v", err)
	}
}
