// Package bridge provides subprocess-based access to the Norgate vendor data
// API. Data requests are compiled into short vendor-side expressions, executed
// through the vendor interpreter, and read back as JSON printed on the last
// line of standard output. Vendor diagnostic chatter on earlier lines is
// ignored.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/mfontaine/go-price-quality/internal/models"
)

const (
	// DefaultInterpreter is the vendor interpreter executable name.
	DefaultInterpreter = "python.exe"

	// DefaultVendorModule is the vendor API module loaded by generated code.
	DefaultVendorModule = "norgatedata"

	// DefaultTimeout bounds a single subprocess invocation.
	DefaultTimeout = 30 * time.Second

	// DefaultStatusTimeout bounds the lightweight service availability probe.
	DefaultStatusTimeout = 10 * time.Second

	// DefaultRetryAttempts is the total number of tries for transient
	// subprocess spawn failures.
	DefaultRetryAttempts = 3

	// DefaultRateLimit is the maximum vendor calls per second.
	DefaultRateLimit = 10

	retryInterval = 1 * time.Second
)

// AdjustmentMode selects the vendor's price adjustment treatment.
type AdjustmentMode string

const (
	// AdjustmentTotalReturn folds dividends back into the price series.
	AdjustmentTotalReturn AdjustmentMode = "TOTALRETURN"

	// AdjustmentCapital adjusts for splits and capital events only.
	AdjustmentCapital AdjustmentMode = "CAPITAL"
)

// commandRunner abstracts subprocess execution for testing.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// execRunner runs commands through os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// ClientConfig holds bridge client settings. Zero fields fall back to the
// package defaults.
type ClientConfig struct {
	Interpreter   string
	VendorModule  string
	Timeout       time.Duration
	StatusTimeout time.Duration
	RetryAttempts uint64
	RateLimit     rate.Limit
}

// Client executes vendor API calls through the interpreter subprocess.
// It rate limits outbound calls and retries transient spawn failures with a
// fixed backoff. A single client is safe for concurrent use.
type Client struct {
	interpreter   string
	vendorModule  string
	timeout       time.Duration
	statusTimeout time.Duration
	retryAttempts uint64
	limiter       *rate.Limiter
	runner        commandRunner
	logger        *slog.Logger
}

// NewClient creates a bridge client. If logger is nil, slog.Default() is
// used.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Interpreter == "" {
		cfg.Interpreter = DefaultInterpreter
	}
	if cfg.VendorModule == "" {
		cfg.VendorModule = DefaultVendorModule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		interpreter:   cfg.Interpreter,
		vendorModule:  cfg.VendorModule,
		timeout:       cfg.Timeout,
		statusTimeout: cfg.StatusTimeout,
		retryAttempts: cfg.RetryAttempts,
		limiter:       rate.NewLimiter(cfg.RateLimit, 1),
		runner:        execRunner{},
		logger:        logger.With("component", "bridge"),
	}
}

// Execute evaluates a vendor expression in the interpreter and returns the
// JSON printed on the last line of standard output. The expression must
// evaluate to a JSON-serializable value.
func (c *Client) Execute(ctx context.Context, op, expr string) (json.RawMessage, error) {
	return c.execute(ctx, op, expr, c.timeout)
}

func (c *Client) execute(ctx context.Context, op, expr string, timeout time.Duration) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	wrapper := fmt.Sprintf("import json\nimport %s\nresult = %s\nprint(json.dumps(result, default=str))\n",
		c.vendorModule, expr)

	c.logger.Debug("executing vendor code", "operation", op, "code_length", len(expr))

	var raw json.RawMessage
	attempt := func() error {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		stdout, stderr, err := c.runner.Run(runCtx, c.interpreter, "-c", wrapper)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrInterpreterNotFound, c.interpreter))
			}
			if runCtx.Err() != nil {
				return backoff.Permanent(NewCommError(op, string(stdout), string(stderr),
					fmt.Errorf("timed out after %s: %w", timeout, runCtx.Err())))
			}
			if classified := c.classifyFailure(op, stdout, stderr); classified != nil {
				return backoff.Permanent(classified)
			}
			// Spawn-level failures are worth a retry.
			return NewCommError(op, string(stdout), string(stderr), err)
		}

		parsed, err := parseLastLine(stdout)
		if err != nil {
			return backoff.Permanent(NewCommError(op, string(stdout), string(stderr), err))
		}
		raw = parsed
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), c.retryAttempts-1), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		c.logger.Error("vendor code failed", "operation", op, "error", err)
		return nil, err
	}

	c.logger.Debug("vendor code executed", "operation", op)
	return raw, nil
}

// classifyFailure maps known subprocess stderr patterns onto typed errors.
// Returns nil when the failure is not recognized.
func (c *Client) classifyFailure(op string, stdout, stderr []byte) error {
	errText := string(stderr)
	switch {
	case strings.Contains(errText, "NDU is not running"):
		return ErrServiceNotRunning
	case strings.Contains(errText, "ModuleNotFoundError") && strings.Contains(errText, c.vendorModule):
		return NewCommError(op, string(stdout), errText,
			fmt.Errorf("vendor module %s not installed in interpreter", c.vendorModule))
	case isLookupStderr(errText):
		// Unknown-entity failures are deterministic; retrying cannot help.
		return NewCommError(op, string(stdout), errText,
			fmt.Errorf("vendor lookup failed"))
	default:
		return nil
	}
}

// isLookupStderr reports whether stderr indicates an unknown symbol,
// watchlist, or index rather than a transport failure.
func isLookupStderr(stderr string) bool {
	lowered := strings.ToLower(stderr)
	return strings.Contains(lowered, "not found") ||
		strings.Contains(lowered, "keyerror") ||
		strings.Contains(lowered, "no such")
}

// parseLastLine extracts and validates the JSON payload from the final line
// of subprocess output, skipping vendor log chatter above it.
func parseLastLine(stdout []byte) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(stdout))
	if trimmed == "" {
		return nil, fmt.Errorf("empty subprocess output")
	}
	lines := strings.Split(trimmed, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	if !json.Valid([]byte(last)) {
		return nil, fmt.Errorf("last output line is not valid JSON")
	}
	return json.RawMessage(last), nil
}

// priceRecord is the wire shape of one price row returned by generated
// vendor code.
type priceRecord struct {
	Date            string              `json:"date"`
	Open            decimal.NullDecimal `json:"open"`
	High            decimal.NullDecimal `json:"high"`
	Low             decimal.NullDecimal `json:"low"`
	Close           decimal.NullDecimal `json:"close"`
	Volume          int64               `json:"volume"`
	UnadjustedClose decimal.NullDecimal `json:"unadjusted_close"`
	Dividend        decimal.Decimal     `json:"dividend"`
}

// FetchPriceTimeseries retrieves daily bars for a symbol. Zero start or end
// times leave the corresponding range bound open on the vendor side.
func (c *Client) FetchPriceTimeseries(ctx context.Context, symbol string, start, end time.Time, mode AdjustmentMode) ([]models.PriceBar, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}
	if mode == "" {
		mode = AdjustmentTotalReturn
	}

	var b strings.Builder
	fmt.Fprintf(&b, "(lambda df: df.reset_index().rename(columns=lambda n: str(n).lower().replace(' ', '_'))")
	b.WriteString(".assign(date=lambda x: x['date'].astype(str)).to_dict('records'))(")
	fmt.Fprintf(&b, "%s.price_timeseries(%q", c.vendorModule, symbol)
	if !start.IsZero() {
		fmt.Fprintf(&b, ", start_date=%q", start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		fmt.Fprintf(&b, ", end_date=%q", end.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, ", timeseriesformat=\"pandas-dataframe\"")
	fmt.Fprintf(&b, ", stock_price_adjustment_setting=%s.StockPriceAdjustmentType.%s))", c.vendorModule, mode)

	raw, err := c.Execute(ctx, "fetch_price_timeseries", b.String())
	if err != nil {
		return nil, c.wrapLookup(err, "symbol", symbol)
	}

	var records []priceRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, NewCommError("fetch_price_timeseries", string(raw), "",
			fmt.Errorf("decode price records: %w", err))
	}

	bars := make([]models.PriceBar, 0, len(records))
	for _, rec := range records {
		day, err := parseVendorDate(rec.Date)
		if err != nil {
			return nil, NewCommError("fetch_price_timeseries", string(raw), "",
				fmt.Errorf("parse date %q: %w", rec.Date, err))
		}
		bars = append(bars, models.PriceBar{
			Date:            day,
			Symbol:          symbol,
			Open:            rec.Open,
			High:            rec.High,
			Low:             rec.Low,
			Close:           rec.Close,
			Volume:          rec.Volume,
			UnadjustedClose: rec.UnadjustedClose,
			Dividend:        rec.Dividend,
		})
	}

	c.logger.Info("price data fetched", "symbol", symbol, "rows", len(bars))
	return bars, nil
}

// constituentRecord is the wire shape of one membership row.
type constituentRecord struct {
	Date          string `json:"date"`
	IsConstituent bool   `json:"is_constituent"`
}

// FetchConstituentTimeseries retrieves the point-in-time index membership
// series for a symbol over a date window. Zero start or end times leave the
// corresponding bound open. Unknown symbols or indexes surface as a
// LookupError.
func (c *Client) FetchConstituentTimeseries(ctx context.Context, symbol, indexName string, start, end time.Time) ([]models.ConstituentPoint, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}
	if indexName == "" {
		return nil, fmt.Errorf("index name cannot be empty")
	}

	var b strings.Builder
	b.WriteString("(lambda df: df.reset_index()")
	b.WriteString(".rename(columns=lambda n: 'date' if 'date' in str(n).lower() else 'is_constituent')")
	b.WriteString(".assign(date=lambda x: x['date'].astype(str), is_constituent=lambda x: x['is_constituent'].astype(bool))")
	b.WriteString(".to_dict('records'))(")
	fmt.Fprintf(&b, "%s.index_constituent_timeseries(%q, %q", c.vendorModule, symbol, indexName)
	if !start.IsZero() {
		fmt.Fprintf(&b, ", start_date=%q", start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		fmt.Fprintf(&b, ", end_date=%q", end.Format("2006-01-02"))
	}
	b.WriteString(", timeseriesformat=\"pandas-dataframe\"))")
	expr := b.String()

	raw, err := c.Execute(ctx, "fetch_constituent_timeseries", expr)
	if err != nil {
		return nil, c.wrapLookup(err, "symbol", symbol)
	}

	var records []constituentRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, NewCommError("fetch_constituent_timeseries", string(raw), "",
			fmt.Errorf("decode constituent records: %w", err))
	}

	points := make([]models.ConstituentPoint, 0, len(records))
	for _, rec := range records {
		day, err := parseVendorDate(rec.Date)
		if err != nil {
			return nil, NewCommError("fetch_constituent_timeseries", string(raw), "",
				fmt.Errorf("parse date %q: %w", rec.Date, err))
		}
		points = append(points, models.ConstituentPoint{Date: day, IsConstituent: rec.IsConstituent})
	}

	return points, nil
}

// FetchWatchlistSymbols retrieves the symbols of a vendor watchlist.
func (c *Client) FetchWatchlistSymbols(ctx context.Context, watchlist string) ([]string, error) {
	if watchlist == "" {
		return nil, fmt.Errorf("watchlist name cannot be empty")
	}

	expr := fmt.Sprintf("%s.watchlist_symbols(%q)", c.vendorModule, watchlist)
	raw, err := c.Execute(ctx, "fetch_watchlist_symbols", expr)
	if err != nil {
		return nil, c.wrapLookup(err, "watchlist", watchlist)
	}

	var symbols []string
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, NewCommError("fetch_watchlist_symbols", string(raw), "",
			fmt.Errorf("decode watchlist symbols: %w", err))
	}

	c.logger.Info("watchlist fetched", "watchlist", watchlist, "symbols", len(symbols))
	return symbols, nil
}

// CheckService probes whether the vendor data service is running and
// reachable. Any failure reports the service as unavailable.
func (c *Client) CheckService(ctx context.Context) bool {
	expr := fmt.Sprintf("%s.databases()", c.vendorModule)
	_, err := c.execute(ctx, "check_service", expr, c.statusTimeout)
	if err != nil {
		if errors.Is(err, ErrServiceNotRunning) {
			c.logger.Info("service status check", "available", false)
		} else {
			c.logger.Warn("service status check failed", "error", err)
		}
		return false
	}

	c.logger.Info("service status check", "available", true)
	return true
}

// wrapLookup converts failures whose subprocess stderr indicates an unknown
// entity into a LookupError. Other errors pass through unchanged.
func (c *Client) wrapLookup(err error, kind, name string) error {
	var ce *CommError
	if errors.As(err, &ce) && isLookupStderr(ce.Stderr) {
		return &LookupError{Kind: kind, Name: name, Err: err}
	}
	return err
}

// parseVendorDate accepts the date formats the vendor emits after string
// coercion, with or without a time component.
func parseVendorDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}
