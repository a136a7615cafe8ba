// Package oracle caches externally published price quotes. Quotes are
// versioned inputs: the cache never consults the wall clock, so
// staleness is always judged against the timestamp of the operation
// asking for the price.
package oracle

import (
	"errors"
	"sort"
)

var (
	ErrQuoteNotFound = errors.New("no quote published for feed")
	ErrQuoteStale    = errors.New("quote is older than the allowed age")
)

// MaxQuoteAgeSeconds is the staleness bound applied to every price
// read during collateral valuation.
const MaxQuoteAgeSeconds = 30

// PriceQuote is one published oracle price: mantissa x 10^exponent.
// The exponent is commonly negative (e.g. -8 for cent-scale feeds).
type PriceQuote struct {
	Mantissa    uint64 `json:"mantissa"`
	Exponent    int32  `json:"exponent"`
	PublishTime int64  `json:"publish_time"` // unix seconds
	Sequence    int64  `json:"sequence"`
}

// QuoteCache holds the latest quote per feed. It only ever runs on the
// core goroutine.
type QuoteCache struct {
	quotes map[[32]byte]PriceQuote
}

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{quotes: make(map[[32]byte]PriceQuote)}
}

// Update stores a quote. Out-of-order publishes are silently ignored,
// matching the tolerant handling of price streams: a gap is fine, a
// regression is dropped.
func (qc *QuoteCache) Update(feedID [32]byte, quote PriceQuote) {
	if current, ok := qc.quotes[feedID]; ok && quote.Sequence <= current.Sequence {
		return
	}
	qc.quotes[feedID] = quote
}

// GetNoOlderThan returns the feed's quote if it was published within
// maxAge seconds of asOf.
func (qc *QuoteCache) GetNoOlderThan(feedID [32]byte, maxAge int64, asOf int64) (PriceQuote, error) {
	quote, ok := qc.quotes[feedID]
	if !ok {
		return PriceQuote{}, ErrQuoteNotFound
	}
	if asOf-quote.PublishTime > maxAge {
		return PriceQuote{}, ErrQuoteStale
	}
	return quote, nil
}

// FeedQuote pairs a feed with its cached quote, for snapshots.
type FeedQuote struct {
	FeedID [32]byte   `json:"feed_id"`
	Quote  PriceQuote `json:"quote"`
}

// Export returns all cached quotes sorted by feed ID.
func (qc *QuoteCache) Export() []FeedQuote {
	result := make([]FeedQuote, 0, len(qc.quotes))
	for feedID, quote := range qc.quotes {
		result = append(result, FeedQuote{FeedID: feedID, Quote: quote})
	}
	sort.Slice(result, func(i, j int) bool {
		return string(result[i].FeedID[:]) < string(result[j].FeedID[:])
	})
	return result
}

// Restore reloads the cache from a snapshot.
func (qc *QuoteCache) Restore(quotes []FeedQuote) {
	qc.quotes = make(map[[32]byte]PriceQuote, len(quotes))
	for _, fq := range quotes {
		qc.quotes[fq.FeedID] = fq.Quote
	}
}
