package state

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotPriceAuthority = errors.New("caller is not the price feed authority")
	ErrPriceFeedExists   = errors.New("price feed already registered for asset")
	ErrPriceFeedNotFound = errors.New("no price feed registered for asset")
	ErrRegistryFull      = errors.New("price feed registry is full")
)

// MaxPriceFeeds bounds the registry. The registry is a singleton and
// fixed-capacity so its serialized size is predictable.
const MaxPriceFeeds = 16

// PriceFeedEntry binds one asset to one oracle feed.
type PriceFeedEntry struct {
	Asset  string   `json:"asset"`
	FeedID [32]byte `json:"feed_id"`
}

// PriceFeedRegistry is the singleton mapping of assets to oracle
// feeds. Only the configured authority may register feeds, each asset
// gets exactly one feed, and a feed is never replaced in place.
type PriceFeedRegistry struct {
	Authority uuid.UUID        `json:"authority"`
	Feeds     []PriceFeedEntry `json:"feeds"`
}

func NewPriceFeedRegistry(authority uuid.UUID) *PriceFeedRegistry {
	return &PriceFeedRegistry{
		Authority: authority,
		Feeds:     make([]PriceFeedEntry, 0, MaxPriceFeeds),
	}
}

// AddFeed registers a feed for an asset.
func (r *PriceFeedRegistry) AddFeed(caller uuid.UUID, asset string, feedID [32]byte) error {
	if caller != r.Authority {
		return ErrNotPriceAuthority
	}
	if len(r.Feeds) >= MaxPriceFeeds {
		return ErrRegistryFull
	}
	for _, entry := range r.Feeds {
		if entry.Asset == asset {
			return ErrPriceFeedExists
		}
	}

	r.Feeds = append(r.Feeds, PriceFeedEntry{Asset: asset, FeedID: feedID})
	return nil
}

// Lookup returns the feed registered for an asset.
func (r *PriceFeedRegistry) Lookup(asset string) ([32]byte, error) {
	for _, entry := range r.Feeds {
		if entry.Asset == asset {
			return entry.FeedID, nil
		}
	}
	return [32]byte{}, ErrPriceFeedNotFound
}
