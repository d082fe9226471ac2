// Package cache provides DuckDB-backed local caching of universe price data.
// Datasets are stored under a (universe, start, end) key and can be exported
// to Parquet for downstream analytical tooling. Bulk writes use the DuckDB
// Appender API.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/mfontaine/go-price-quality/internal/models"
)

// Key identifies one cached dataset: a universe name plus the inclusive date
// range it was fetched for.
type Key struct {
	Universe string
	Start    time.Time
	End      time.Time
}

// String renders the key in its canonical universe_start_end form.
func (k Key) String() string {
	return fmt.Sprintf("%s_%s_%s", k.Universe,
		k.Start.Format("2006-01-02"), k.End.Format("2006-01-02"))
}

// Validate checks the key is usable for storage.
func (k Key) Validate() error {
	if k.Universe == "" {
		return fmt.Errorf("universe cannot be empty")
	}
	if k.Start.IsZero() || k.End.IsZero() {
		return fmt.Errorf("start and end dates must be set")
	}
	if k.End.Before(k.Start) {
		return fmt.Errorf("end date %s precedes start date %s",
			k.End.Format("2006-01-02"), k.Start.Format("2006-01-02"))
	}
	return nil
}

// Store is a DuckDB-backed price data cache. A single Store is safe for
// concurrent use; DuckDB itself runs with a single writer connection.
type Store struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// NewStore opens a cache database at dbPath, which may be ":memory:" for an
// ephemeral cache. If logger is nil, slog.Default() is used.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, &CacheError{Op: "open", Err: fmt.Errorf("open database: %w", err)}
	}

	// Single writer pattern as recommended for DuckDB.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &Store{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("component", "price_cache"),
	}, nil
}

// Initialize creates the cache schema and loads the parquet extension.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.PingContext(ctx); err != nil {
		return &CacheError{Op: "initialize", Err: fmt.Errorf("ping database: %w", err)}
	}

	// Parquet support is needed only for exports; a failure here is not
	// fatal for the cache itself.
	for _, ext := range []string{"INSTALL parquet", "LOAD parquet"} {
		if _, err := s.db.ExecContext(ctx, ext); err != nil {
			s.logger.Warn("failed to enable extension", "statement", ext, "error", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS prices (
			cache_key VARCHAR NOT NULL,
			date DATE NOT NULL,
			symbol VARCHAR NOT NULL,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume BIGINT NOT NULL,
			unadjusted_close DOUBLE,
			dividend DOUBLE NOT NULL DEFAULT 0
		)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &CacheError{Op: "initialize", Err: fmt.Errorf("create prices table: %w", err)}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_prices_key ON prices(cache_key)",
		"CREATE INDEX IF NOT EXISTS idx_prices_key_symbol ON prices(cache_key, symbol)",
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return &CacheError{Op: "initialize", Err: fmt.Errorf("create index: %w", err)}
		}
	}

	s.logger.Info("price cache initialized", "path", s.dbPath)
	return nil
}

// SavePrices stores a dataset under a key, replacing any previous entry for
// the same key. An empty dataset is rejected; partial cache entries would
// read back as authoritative data later.
func (s *Store) SavePrices(ctx context.Context, key Key, ds *models.PriceDataset) error {
	if err := key.Validate(); err != nil {
		return NewSaveError(key.String(), err)
	}
	if ds == nil || ds.Empty() {
		return NewSaveError(key.String(), fmt.Errorf("refusing to cache empty dataset"))
	}

	bars := ds.AllBars()
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return NewSaveError(key.String(), fmt.Errorf("bar %d: %w", i, err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM prices WHERE cache_key = ?", key.String()); err != nil {
		return NewSaveError(key.String(), fmt.Errorf("clear previous entry: %w", err))
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return NewSaveError(key.String(), fmt.Errorf("get connection: %w", err))
	}
	defer conn.Close()

	var driverConn *duckdb.Conn
	err = conn.Raw(func(dc interface{}) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return NewSaveError(key.String(), fmt.Errorf("get DuckDB connection: %w", err))
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", "prices")
	if err != nil {
		return NewSaveError(key.String(), fmt.Errorf("create appender: %w", err))
	}
	defer appender.Close()

	for i := range bars {
		if err := appendBar(appender, key.String(), &bars[i]); err != nil {
			return NewSaveError(key.String(), fmt.Errorf("append bar for %s: %w", bars[i].Symbol, err))
		}
	}

	if err := appender.Flush(); err != nil {
		return NewSaveError(key.String(), fmt.Errorf("flush appender: %w", err))
	}

	s.logger.Info("dataset cached",
		"key", key.String(),
		"rows", len(bars),
		"symbols", len(ds.Symbols()),
		"duration", time.Since(start))

	return nil
}

func appendBar(appender *duckdb.Appender, cacheKey string, bar *models.PriceBar) error {
	return appender.AppendRow(
		cacheKey,
		bar.Date,
		bar.Symbol,
		nullFloat(bar.Open),
		nullFloat(bar.High),
		nullFloat(bar.Low),
		nullFloat(bar.Close),
		bar.Volume,
		nullFloat(bar.UnadjustedClose),
		bar.Dividend.InexactFloat64(),
	)
}

// nullFloat converts a NullDecimal to the appender representation, using a
// SQL NULL for missing values.
func nullFloat(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}

// LoadPrices retrieves the dataset cached under a key. A cache miss returns
// (nil, nil) so callers can fall through to a fresh fetch.
func (s *Store) LoadPrices(ctx context.Context, key Key) (*models.PriceDataset, error) {
	if err := key.Validate(); err != nil {
		return nil, NewLoadError(key.String(), err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, symbol, open, high, low, close, volume, unadjusted_close, dividend
		FROM prices
		WHERE cache_key = ?
		ORDER BY symbol, date`, key.String())
	if err != nil {
		return nil, NewLoadError(key.String(), fmt.Errorf("query prices: %w", err))
	}
	defer rows.Close()

	var bars []models.PriceBar
	for rows.Next() {
		var (
			bar                         models.PriceBar
			open, high, low, closePrice sql.NullFloat64
			unadjClose                  sql.NullFloat64
			dividend                    float64
		)
		if err := rows.Scan(&bar.Date, &bar.Symbol, &open, &high, &low, &closePrice,
			&bar.Volume, &unadjClose, &dividend); err != nil {
			return nil, NewLoadError(key.String(), fmt.Errorf("scan row: %w", err))
		}
		bar.Open = toNullDecimal(open)
		bar.High = toNullDecimal(high)
		bar.Low = toNullDecimal(low)
		bar.Close = toNullDecimal(closePrice)
		bar.UnadjustedClose = toNullDecimal(unadjClose)
		bar.Dividend = decimal.NewFromFloat(dividend)
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, NewLoadError(key.String(), fmt.Errorf("iterate rows: %w", err))
	}

	if len(bars) == 0 {
		s.logger.Debug("cache miss", "key", key.String())
		return nil, nil
	}

	s.logger.Info("cache hit", "key", key.String(), "rows", len(bars))
	return models.NewPriceDataset(bars), nil
}

func toNullDecimal(f sql.NullFloat64) decimal.NullDecimal {
	if !f.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(f.Float64), Valid: true}
}

// HasEntry reports whether a dataset is cached under the key.
func (s *Store) HasEntry(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, NewLoadError(key.String(), err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM prices WHERE cache_key = ?", key.String()).Scan(&count)
	if err != nil {
		return false, NewLoadError(key.String(), fmt.Errorf("count rows: %w", err))
	}
	return count > 0, nil
}

// ExportParquet writes the dataset cached under a key to a Parquet file.
func (s *Store) ExportParquet(ctx context.Context, key Key, path string) error {
	if err := key.Validate(); err != nil {
		return NewExportError(key.String(), err)
	}
	if path == "" {
		return NewExportError(key.String(), fmt.Errorf("export path cannot be empty"))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// COPY does not support parameter binding for the source query.
	stmt := fmt.Sprintf(`
		COPY (
			SELECT date, symbol, open, high, low, close, volume, unadjusted_close, dividend
			FROM prices
			WHERE cache_key = '%s'
			ORDER BY symbol, date
		) TO '%s' (FORMAT PARQUET)`, key.String(), path)

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return NewExportError(key.String(), fmt.Errorf("copy to parquet: %w", err))
	}

	s.logger.Info("dataset exported", "key", key.String(), "path", path)
	return nil
}

// Stats returns row and entry counts for observability.
func (s *Store) Stats(ctx context.Context) (entries int, rows int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT cache_key), COUNT(*) FROM prices").Scan(&entries, &rows)
	if err != nil {
		return 0, 0, &CacheError{Op: "stats", Err: err}
	}
	return entries, rows, nil
}

// Close releases the database handle. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return &CacheError{Op: "close", Err: err}
	}
	s.logger.Info("price cache closed")
	return nil
}
