package quality

import (
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mfontaine/go-price-quality/internal/models"
)

// Validator runs the quality scanners against price datasets. Scanners are
// pure over their inputs; the validator holds only thresholds and a logger,
// so a single instance is safe for concurrent use.
type Validator struct {
	opts   Options
	logger *slog.Logger
}

// NewValidator creates a validator with the given thresholds. If logger is
// nil, slog.Default() is used.
func NewValidator(opts Options, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		opts:   opts,
		logger: logger.With("component", "quality_validator"),
	}
}

// Validate runs every scanner against the dataset and assembles the report.
// Delisting detection runs only when checkDelistings is set; its findings are
// informational and never affect report validity. The dataset's latest date
// serves as the query horizon for the staleness check.
func (v *Validator) Validate(ds *models.PriceDataset, checkDelistings bool) *models.ValidationReport {
	start, end := ds.DateRange()

	report := &models.ValidationReport{
		TotalTickers:      len(ds.Symbols()),
		StartDate:         start,
		EndDate:           end,
		MissingDataCounts: v.ScanMissing(ds),
		DateGaps:          v.ScanGaps(ds),
		AdjustmentIssues:  v.ScanAdjustments(ds),
		DelistingEvents:   map[string]time.Time{},
	}

	if checkDelistings {
		report.DelistingEvents = v.DetectDelistings(ds, end)
	}

	report.ComputeValidity()
	report.BuildSummary()

	v.logger.Info("validation completed",
		"total_tickers", report.TotalTickers,
		"missing_data_tickers", len(report.MissingDataCounts),
		"gap_tickers", len(report.DateGaps),
		"adjustment_tickers", len(report.AdjustmentIssues),
		"delisted_tickers", len(report.DelistingEvents),
		"is_valid", report.IsValid)

	return report
}

// ScanMissing counts missing OHLC cells per symbol. Symbols with zero
// missing cells do not appear in the result.
func (v *Validator) ScanMissing(ds *models.PriceDataset) map[string]int {
	result := make(map[string]int)
	for _, symbol := range ds.Symbols() {
		count := 0
		for _, bar := range ds.Bars(symbol) {
			count += bar.MissingFieldCount()
		}
		if count > 0 {
			result[symbol] = count
			v.logger.Debug("missing data found", "symbol", symbol, "missing_cells", count)
		}
	}
	return result
}

// ScanGaps flags holes of at least GapThresholdDays business days between
// consecutive observations of each symbol's series.
func (v *Validator) ScanGaps(ds *models.PriceDataset) map[string][]models.DateGap {
	result := make(map[string][]models.DateGap)
	for _, symbol := range ds.Symbols() {
		series := ds.Bars(symbol)
		for i := 1; i < len(series); i++ {
			prev := series[i-1].Date
			cur := series[i].Date
			if businessDaysBetween(prev, cur) >= v.opts.GapThresholdDays {
				result[symbol] = append(result[symbol], models.DateGap{Before: prev, After: cur})
			}
		}
		if gaps := result[symbol]; len(gaps) > 0 {
			v.logger.Debug("date gaps found", "symbol", symbol, "gap_count", len(gaps))
		}
	}
	return result
}

// businessDaysBetween returns the number of trading days skipped between two
// observation dates: the count of weekdays in the inclusive range minus one
// for the starting observation itself. Adjacent weekdays yield zero when the
// earlier date falls on a weekend and one otherwise.
func businessDaysBetween(from, to time.Time) int {
	from = models.Day(from)
	to = models.Day(to)
	if !from.Before(to) {
		return 0
	}

	weekdays := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			weekdays++
		}
	}
	if weekdays == 0 {
		return 0
	}
	return weekdays - 1
}

// ScanAdjustments flags symbols whose series suggests a missing or broken
// corporate action adjustment. A negative adjusted close is an immediate
// finding. Otherwise a day-over-day move larger than JumpThreshold with no
// dividend recorded on the move date is flagged. A move off a zero close is
// unbounded and always exceeds the threshold, unless the next close is also
// zero. Scanning stops at the first finding per symbol. The result is
// sorted ascending.
func (v *Validator) ScanAdjustments(ds *models.PriceDataset) []string {
	var flagged []string

	for _, symbol := range ds.Symbols() {
		series := ds.Bars(symbol)
		var prevClose decimal.NullDecimal

		for _, bar := range series {
			if !bar.Close.Valid {
				continue
			}
			if bar.Close.Decimal.IsNegative() {
				flagged = append(flagged, symbol)
				v.logger.Debug("negative adjusted close", "symbol", symbol, "date", bar.Date.Format("2006-01-02"))
				break
			}
			if prevClose.Valid {
				jump := false
				change := "inf"
				if prevClose.Decimal.IsZero() {
					jump = !bar.Close.Decimal.IsZero()
				} else {
					pct := bar.Close.Decimal.Sub(prevClose.Decimal).Div(prevClose.Decimal).Abs()
					jump = pct.GreaterThan(v.opts.JumpThreshold)
					change = pct.String()
				}
				if jump && bar.Dividend.IsZero() {
					flagged = append(flagged, symbol)
					v.logger.Debug("unexplained price jump",
						"symbol", symbol,
						"date", bar.Date.Format("2006-01-02"),
						"change", change)
					break
				}
			}
			prevClose = bar.Close
		}
	}

	sort.Strings(flagged)
	return flagged
}

// DetectDelistings reports symbols whose last observation predates queryEnd
// by strictly more than DelistingThresholdDays calendar days, keyed to the
// date of the final observation.
func (v *Validator) DetectDelistings(ds *models.PriceDataset, queryEnd time.Time) map[string]time.Time {
	result := make(map[string]time.Time)
	end := models.Day(queryEnd)

	for _, symbol := range ds.Symbols() {
		last, ok := ds.LastDate(symbol)
		if !ok {
			continue
		}
		staleness := int(end.Sub(models.Day(last)).Hours() / 24)
		if staleness > v.opts.DelistingThresholdDays {
			result[symbol] = last
			v.logger.Debug("possible delisting",
				"symbol", symbol,
				"last_date", last.Format("2006-01-02"),
				"staleness_days", staleness)
		}
	}
	return result
}
