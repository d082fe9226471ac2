// Package universe resolves point-in-time index membership. Given an index
// name and a target date, the resolver fetches a narrow membership window per
// candidate symbol and keeps the symbols that were constituents on that date,
// avoiding survivorship bias in backtest universes.
package universe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mfontaine/go-price-quality/internal/bridge"
	"github.com/mfontaine/go-price-quality/internal/models"
)

const (
	// DefaultWindowDays is the half-width, in calendar days, of the
	// membership window fetched around the target date. Narrow on purpose:
	// it keeps per-symbol transfer small while tolerating non-trading
	// target dates.
	DefaultWindowDays = 5

	// DefaultTimeout bounds each per-symbol remote lookup.
	DefaultTimeout = 5 * time.Minute
)

// MembershipSource provides vendor index membership data.
type MembershipSource interface {
	// FetchConstituentTimeseries returns the membership series of symbol in
	// indexName over [start, end], sorted by date ascending.
	FetchConstituentTimeseries(ctx context.Context, symbol, indexName string, start, end time.Time) ([]models.ConstituentPoint, error)

	// FetchWatchlistSymbols returns the symbols of a vendor watchlist.
	FetchWatchlistSymbols(ctx context.Context, watchlist string) ([]string, error)
}

// ResolverConfig holds resolver settings. Zero fields fall back to the
// package defaults.
type ResolverConfig struct {
	WindowDays int
	Timeout    time.Duration
}

// Resolver determines which symbols were members of an index as of a
// historical date. Lookups run sequentially, one remote call per symbol.
type Resolver struct {
	source  MembershipSource
	window  int
	timeout time.Duration
	logger  *slog.Logger
}

// NewResolver creates a resolver over a membership source. If logger is nil,
// slog.Default() is used.
func NewResolver(source MembershipSource, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source:  source,
		window:  cfg.WindowDays,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "universe_resolver"),
	}
}

// ResolveConstituents returns the symbols that were members of indexName on
// targetDate, preserving candidate order. When symbols is nil the candidate
// list is fetched from the vendor watchlist named after the index. Unknown
// symbols are logged and skipped; transport failures abort resolution and
// propagate to the caller.
func (r *Resolver) ResolveConstituents(ctx context.Context, indexName string, targetDate time.Time, symbols []string) ([]string, error) {
	if indexName == "" {
		return nil, fmt.Errorf("index name cannot be empty")
	}

	traceID := uuid.New().String()
	logger := r.logger.With("trace_id", traceID, "index", indexName,
		"target_date", targetDate.Format("2006-01-02"))

	if symbols == nil {
		fetched, err := r.source.FetchWatchlistSymbols(ctx, indexName)
		if err != nil {
			return nil, fmt.Errorf("fetch watchlist %q: %w", indexName, err)
		}
		symbols = fetched
	}

	logger.Info("resolving constituents", "candidates", len(symbols))

	target := models.Day(targetDate)
	windowStart := target.AddDate(0, 0, -r.window)
	windowEnd := target.AddDate(0, 0, r.window)

	var members []string
	for _, symbol := range symbols {
		series, err := r.fetchWindow(ctx, symbol, indexName, windowStart, windowEnd)
		if err != nil {
			if bridge.IsLookupError(err) {
				logger.Warn("symbol lookup failed, skipping", "symbol", symbol, "error", err)
				continue
			}
			return nil, err
		}
		if len(series) == 0 {
			logger.Warn("no membership data in window, skipping", "symbol", symbol)
			continue
		}
		if membershipAt(series, target) {
			members = append(members, symbol)
		}
	}

	logger.Info("constituents resolved", "members", len(members), "candidates", len(symbols))
	return members, nil
}

func (r *Resolver) fetchWindow(ctx context.Context, symbol, indexName string, start, end time.Time) ([]models.ConstituentPoint, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.source.FetchConstituentTimeseries(fetchCtx, symbol, indexName, start, end)
}

// membershipAt reads the membership flag effective on the target date. An
// exact entry wins; otherwise the most recent entry at or before the target
// applies; if nothing precedes the target, the first entry of the window
// stands in.
func membershipAt(series []models.ConstituentPoint, target time.Time) bool {
	var prior *models.ConstituentPoint
	for i := range series {
		day := models.Day(series[i].Date)
		if day.Equal(target) {
			return series[i].IsConstituent
		}
		if day.Before(target) && (prior == nil || day.After(models.Day(prior.Date))) {
			prior = &series[i]
		}
	}
	if prior != nil {
		return prior.IsConstituent
	}
	return series[0].IsConstituent
}
