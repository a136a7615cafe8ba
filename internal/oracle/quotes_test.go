package oracle_test

import (
	"errors"
	"testing"

	"LendLedger/internal/oracle"
)

func TestQuoteCache_GetNoOlderThan(t *testing.T) {
	qc := oracle.NewQuoteCache()
	feed := [32]byte{1}

	if _, err := qc.GetNoOlderThan(feed, oracle.MaxQuoteAgeSeconds, 1_000); !errors.Is(err, oracle.ErrQuoteNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}

	qc.Update(feed, oracle.PriceQuote{Mantissa: 100, Exponent: -2, PublishTime: 1_000, Sequence: 1})

	// Exactly at the bound is still fresh.
	quote, err := qc.GetNoOlderThan(feed, oracle.MaxQuoteAgeSeconds, 1_030)
	if err != nil {
		t.Fatalf("quote at the age bound should be fresh: %v", err)
	}
	if quote.Mantissa != 100 {
		t.Errorf("expected mantissa 100, got %d", quote.Mantissa)
	}

	// One second past the bound is stale.
	if _, err := qc.GetNoOlderThan(feed, oracle.MaxQuoteAgeSeconds, 1_031); !errors.Is(err, oracle.ErrQuoteStale) {
		t.Errorf("expected stale error, got %v", err)
	}
}

func TestQuoteCache_RegressionIgnored(t *testing.T) {
	qc := oracle.NewQuoteCache()
	feed := [32]byte{2}

	qc.Update(feed, oracle.PriceQuote{Mantissa: 200, PublishTime: 2_000, Sequence: 5})
	qc.Update(feed, oracle.PriceQuote{Mantissa: 999, PublishTime: 2_010, Sequence: 4})

	quote, err := qc.GetNoOlderThan(feed, oracle.MaxQuoteAgeSeconds, 2_005)
	if err != nil {
		t.Fatalf("GetNoOlderThan failed: %v", err)
	}
	if quote.Mantissa != 200 {
		t.Errorf("stale sequence should have been dropped, got mantissa %d", quote.Mantissa)
	}

	// Gaps are accepted.
	qc.Update(feed, oracle.PriceQuote{Mantissa: 300, PublishTime: 2_020, Sequence: 9})
	quote, _ = qc.GetNoOlderThan(feed, oracle.MaxQuoteAgeSeconds, 2_025)
	if quote.Mantissa != 300 {
		t.Errorf("gapped sequence should be accepted, got mantissa %d", quote.Mantissa)
	}
}

func TestQuoteCache_ExportRestore(t *testing.T) {
	qc := oracle.NewQuoteCache()
	qc.Update([32]byte{1}, oracle.PriceQuote{Mantissa: 1, PublishTime: 10, Sequence: 1})
	qc.Update([32]byte{2}, oracle.PriceQuote{Mantissa: 2, PublishTime: 20, Sequence: 1})

	restored := oracle.NewQuoteCache()
	restored.Restore(qc.Export())

	quote, err := restored.GetNoOlderThan([32]byte{2}, oracle.MaxQuoteAgeSeconds, 25)
	if err != nil || quote.Mantissa != 2 {
		t.Errorf("restored cache should serve quote: %v, %v", quote, err)
	}
}
