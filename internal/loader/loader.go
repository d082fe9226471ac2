// Package loader orchestrates cache-first price data acquisition: check the
// local cache, fetch from the vendor bridge on a miss, persist the merged
// result, and hand the dataset to callers.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mfontaine/go-price-quality/internal/bridge"
	"github.com/mfontaine/go-price-quality/internal/cache"
	"github.com/mfontaine/go-price-quality/internal/models"
)

// PriceSource fetches price history from the vendor feed.
type PriceSource interface {
	FetchPriceTimeseries(ctx context.Context, symbol string, start, end time.Time, mode bridge.AdjustmentMode) ([]models.PriceBar, error)
}

// PriceCache persists datasets keyed by universe and date range.
type PriceCache interface {
	LoadPrices(ctx context.Context, key cache.Key) (*models.PriceDataset, error)
	SavePrices(ctx context.Context, key cache.Key, ds *models.PriceDataset) error
}

// Loader coordinates the cache and the vendor source. Symbols are fetched
// sequentially; the bridge handles its own rate limiting and retries.
type Loader struct {
	source PriceSource
	cache  PriceCache
	logger *slog.Logger
}

// NewLoader creates a loader. If logger is nil, slog.Default() is used.
func NewLoader(source PriceSource, priceCache PriceCache, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		source: source,
		cache:  priceCache,
		logger: logger.With("component", "loader"),
	}
}

// LoadUniverse returns price history for a set of symbols over [start, end].
// The cache is consulted first unless forceRefresh is set; on a miss every
// symbol is fetched from the vendor with total return adjustment and the
// merged dataset is cached before returning.
func (l *Loader) LoadUniverse(ctx context.Context, symbols []string, start, end time.Time, universe string, forceRefresh bool) (*models.PriceDataset, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols provided")
	}
	if universe == "" {
		return nil, fmt.Errorf("universe name cannot be empty")
	}

	runID := uuid.New().String()
	key := cache.Key{Universe: universe, Start: start, End: end}
	logger := l.logger.With("run_id", runID, "universe", universe, "key", key.String())

	if !forceRefresh {
		cached, err := l.cache.LoadPrices(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load cached prices: %w", err)
		}
		if cached != nil {
			logger.Info("cache hit", "symbols", len(symbols), "rows", cached.Len())
			return cached, nil
		}
	}

	logger.Info("cache miss, fetching from vendor", "symbols", len(symbols))

	var bars []models.PriceBar
	for _, symbol := range symbols {
		logger.Info("fetching symbol", "symbol", symbol,
			"start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))

		fetched, err := l.source.FetchPriceTimeseries(ctx, symbol, start, end, bridge.AdjustmentTotalReturn)
		if err != nil {
			return nil, fmt.Errorf("fetch prices for %s: %w", symbol, err)
		}
		bars = append(bars, fetched...)
	}

	ds := models.NewPriceDataset(bars)
	if ds.Empty() {
		return nil, fmt.Errorf("vendor returned no data for universe %s", universe)
	}

	if err := l.cache.SavePrices(ctx, key, ds); err != nil {
		return nil, fmt.Errorf("save prices to cache: %w", err)
	}

	logger.Info("universe loaded", "symbols", len(symbols), "rows", ds.Len())
	return ds, nil
}
