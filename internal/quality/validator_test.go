package quality

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfontaine/go-price-quality/internal/models"
)

func d(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func bar(symbol string, date time.Time, close float64) models.PriceBar {
	price := decimal.NewFromFloat(close)
	return models.PriceBar{
		Date:   date,
		Symbol: symbol,
		Open:   decimal.NullDecimal{Decimal: price, Valid: true},
		High:   decimal.NullDecimal{Decimal: price, Valid: true},
		Low:    decimal.NullDecimal{Decimal: price, Valid: true},
		Close:  decimal.NullDecimal{Decimal: price, Valid: true},
		Volume: 1000,
	}
}

// weekdayBars produces one bar per weekday in [from, to] inclusive at a
// constant price.
func weekdayBars(symbol string, from, to time.Time, close float64) []models.PriceBar {
	var bars []models.PriceBar
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		bars = append(bars, bar(symbol, day, close))
	}
	return bars
}

func TestScanMissing(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)

	t.Run("exact count for one symbol", func(t *testing.T) {
		bars := weekdayBars("AAPL", d(2020, 1, 6), d(2020, 1, 17), 100)
		bars = append(bars, weekdayBars("MSFT", d(2020, 1, 6), d(2020, 1, 17), 150)...)

		// Spread 4 nulls for AAPL across different fields and rows.
		bars[0].Open = decimal.NullDecimal{}
		bars[1].High = decimal.NullDecimal{}
		bars[1].Low = decimal.NullDecimal{}
		bars[2].Close = decimal.NullDecimal{}

		result := v.ScanMissing(models.NewPriceDataset(bars))

		assert.Equal(t, map[string]int{"AAPL": 4}, result)
	})

	t.Run("clean dataset yields empty mapping", func(t *testing.T) {
		bars := weekdayBars("AAPL", d(2020, 1, 6), d(2020, 1, 17), 100)
		result := v.ScanMissing(models.NewPriceDataset(bars))
		assert.Empty(t, result)
	})

	t.Run("empty dataset yields empty mapping", func(t *testing.T) {
		result := v.ScanMissing(models.NewPriceDataset(nil))
		assert.Empty(t, result)
	})
}

func TestScanGaps(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)

	t.Run("gap below threshold is not flagged", func(t *testing.T) {
		// Mon Jan 6 to Fri Jan 17 spans 10 weekdays inclusive, a gap of 9.
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("AAPL", d(2020, 1, 6), 100),
			bar("AAPL", d(2020, 1, 17), 100),
		})

		assert.Empty(t, v.ScanGaps(ds))
	})

	t.Run("gap at threshold is flagged", func(t *testing.T) {
		// Mon Jan 6 to Mon Jan 20 spans 11 weekdays inclusive, a gap of 10.
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("AAPL", d(2020, 1, 6), 100),
			bar("AAPL", d(2020, 1, 20), 100),
		})

		result := v.ScanGaps(ds)
		require.Contains(t, result, "AAPL")
		require.Len(t, result["AAPL"], 1)
		assert.Equal(t, d(2020, 1, 6), result["AAPL"][0].Before)
		assert.Equal(t, d(2020, 1, 20), result["AAPL"][0].After)
	})

	t.Run("weekend gap is never flagged", func(t *testing.T) {
		// Fri Jan 3 to Mon Jan 6.
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("AAPL", d(2020, 1, 3), 100),
			bar("AAPL", d(2020, 1, 6), 100),
		})

		assert.Empty(t, v.ScanGaps(ds))
	})

	t.Run("single observation cannot gap", func(t *testing.T) {
		ds := models.NewPriceDataset([]models.PriceBar{bar("AAPL", d(2020, 1, 6), 100)})
		assert.Empty(t, v.ScanGaps(ds))
	})

	t.Run("continuous weekday series is clean", func(t *testing.T) {
		ds := models.NewPriceDataset(weekdayBars("AAPL", d(2020, 1, 1), d(2020, 3, 31), 100))
		assert.Empty(t, v.ScanGaps(ds))
	})

	t.Run("multiple gaps are all recorded in order", func(t *testing.T) {
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("AAPL", d(2020, 1, 6), 100),
			bar("AAPL", d(2020, 2, 6), 100),
			bar("AAPL", d(2020, 3, 9), 100),
		})

		result := v.ScanGaps(ds)
		require.Contains(t, result, "AAPL")
		require.Len(t, result["AAPL"], 2)
		assert.True(t, result["AAPL"][0].After.Before(result["AAPL"][1].After))
	})
}

func TestBusinessDaysBetween(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want int
	}{
		{name: "same day", from: d(2020, 1, 6), to: d(2020, 1, 6), want: 0},
		{name: "adjacent weekdays", from: d(2020, 1, 6), to: d(2020, 1, 7), want: 1},
		{name: "over a weekend", from: d(2020, 1, 3), to: d(2020, 1, 6), want: 1},
		{name: "full week", from: d(2020, 1, 6), to: d(2020, 1, 13), want: 5},
		{name: "saturday to sunday", from: d(2020, 1, 4), to: d(2020, 1, 5), want: 0},
		{name: "reversed order", from: d(2020, 1, 13), to: d(2020, 1, 6), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, businessDaysBetween(tt.from, tt.to))
		})
	}
}

func TestScanAdjustments(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)

	t.Run("negative close always flags", func(t *testing.T) {
		// Consistently negative values produce small percentage moves, so
		// only the sign check can catch this series.
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("BAD", d(2020, 1, 6), -10),
			bar("BAD", d(2020, 1, 7), -10.5),
			bar("BAD", d(2020, 1, 8), -10.2),
		})

		assert.Equal(t, []string{"BAD"}, v.ScanAdjustments(ds))
	})

	t.Run("large jump with zero dividend flags", func(t *testing.T) {
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("JMP", d(2020, 1, 6), 100),
			bar("JMP", d(2020, 1, 7), 150),
		})

		assert.Equal(t, []string{"JMP"}, v.ScanAdjustments(ds))
	})

	t.Run("large jump with dividend does not flag", func(t *testing.T) {
		jumped := bar("DIV", d(2020, 1, 7), 150)
		jumped.Dividend = decimal.NewFromFloat(2.50)
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("DIV", d(2020, 1, 6), 100),
			jumped,
		})

		assert.Empty(t, v.ScanAdjustments(ds))
	})

	t.Run("moderate moves do not flag", func(t *testing.T) {
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("OK", d(2020, 1, 6), 100),
			bar("OK", d(2020, 1, 7), 139),
			bar("OK", d(2020, 1, 8), 100),
		})

		assert.Empty(t, v.ScanAdjustments(ds))
	})

	t.Run("move at exactly the threshold does not flag", func(t *testing.T) {
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("EDGE", d(2020, 1, 6), 100),
			bar("EDGE", d(2020, 1, 7), 140),
		})

		assert.Empty(t, v.ScanAdjustments(ds))
	})

	t.Run("downward jump flags on absolute change", func(t *testing.T) {
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("DROP", d(2020, 1, 6), 100),
			bar("DROP", d(2020, 1, 7), 55),
		})

		assert.Equal(t, []string{"DROP"}, v.ScanAdjustments(ds))
	})

	t.Run("missing closes are skipped in the change chain", func(t *testing.T) {
		holed := bar("HOLE", d(2020, 1, 7), 0)
		holed.Close = decimal.NullDecimal{}
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("HOLE", d(2020, 1, 6), 100),
			holed,
			bar("HOLE", d(2020, 1, 8), 120),
		})

		assert.Empty(t, v.ScanAdjustments(ds))
	})

	t.Run("recovery off a zero close flags", func(t *testing.T) {
		// The move off zero is unbounded, so any nonzero next close
		// exceeds the threshold when no dividend explains it.
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("ZERO", d(2020, 1, 6), 0),
			bar("ZERO", d(2020, 1, 7), 0.01),
		})

		assert.Equal(t, []string{"ZERO"}, v.ScanAdjustments(ds))
	})

	t.Run("recovery off a zero close with dividend does not flag", func(t *testing.T) {
		paid := bar("ZDIV", d(2020, 1, 7), 5)
		paid.Dividend = decimal.NewFromFloat(1.00)
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("ZDIV", d(2020, 1, 6), 0),
			paid,
		})

		assert.Empty(t, v.ScanAdjustments(ds))
	})

	t.Run("flat zero closes do not flag", func(t *testing.T) {
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("FLAT", d(2020, 1, 6), 0),
			bar("FLAT", d(2020, 1, 7), 0),
			bar("FLAT", d(2020, 1, 8), 0),
		})

		assert.Empty(t, v.ScanAdjustments(ds))
	})

	t.Run("symbol flags at most once", func(t *testing.T) {
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("MULTI", d(2020, 1, 6), -5),
			bar("MULTI", d(2020, 1, 7), 100),
			bar("MULTI", d(2020, 1, 8), 200),
		})

		assert.Equal(t, []string{"MULTI"}, v.ScanAdjustments(ds))
	})

	t.Run("result is sorted", func(t *testing.T) {
		ds := models.NewPriceDataset([]models.PriceBar{
			bar("ZZZ", d(2020, 1, 6), -1),
			bar("AAA", d(2020, 1, 6), -1),
		})

		assert.Equal(t, []string{"AAA", "ZZZ"}, v.ScanAdjustments(ds))
	})
}

func TestDetectDelistings(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)

	t.Run("staleness at exactly the threshold is not delisted", func(t *testing.T) {
		last := d(2020, 6, 1)
		ds := models.NewPriceDataset([]models.PriceBar{bar("AAPL", last, 100)})

		result := v.DetectDelistings(ds, last.AddDate(0, 0, 30))
		assert.Empty(t, result)
	})

	t.Run("staleness one past the threshold is delisted", func(t *testing.T) {
		last := d(2020, 6, 1)
		ds := models.NewPriceDataset([]models.PriceBar{bar("AAPL", last, 100)})

		result := v.DetectDelistings(ds, last.AddDate(0, 0, 31))
		assert.Equal(t, map[string]time.Time{"AAPL": last}, result)
	})

	t.Run("active symbols are untouched", func(t *testing.T) {
		horizon := d(2020, 6, 30)
		bars := weekdayBars("LIVE", d(2020, 6, 1), horizon, 100)
		bars = append(bars, weekdayBars("DEAD", d(2020, 1, 1), d(2020, 2, 1), 50)...)
		ds := models.NewPriceDataset(bars)

		result := v.DetectDelistings(ds, horizon)
		require.Len(t, result, 1)
		assert.Contains(t, result, "DEAD")
	})
}

func TestValidate_CleanData(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)

	var bars []models.PriceBar
	for _, symbol := range []string{"AAA", "BBB", "CCC", "DDD", "EEE"} {
		bars = append(bars, weekdayBars(symbol, d(2020, 1, 6), d(2020, 1, 17), 100)...)
	}
	ds := models.NewPriceDataset(bars)

	report := v.Validate(ds, true)

	assert.True(t, report.IsValid)
	assert.Equal(t, 5, report.TotalTickers)
	assert.Empty(t, report.MissingDataCounts)
	assert.Empty(t, report.DateGaps)
	assert.Empty(t, report.AdjustmentIssues)
	assert.Empty(t, report.DelistingEvents)
	assert.Contains(t, report.SummaryMessage, "no issues")
	assert.Equal(t, d(2020, 1, 6), report.StartDate)
	assert.Equal(t, d(2020, 1, 17), report.EndDate)
}

func TestValidate_MixedCorruption(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)
	horizon := d(2020, 6, 30)

	var bars []models.PriceBar
	bars = append(bars, weekdayBars("CLEAN", d(2020, 1, 1), horizon, 100)...)

	// Five missing close values.
	missBars := weekdayBars("MISS", d(2020, 1, 1), horizon, 100)
	for i := 0; i < 5; i++ {
		missBars[i].Close = decimal.NullDecimal{}
	}
	bars = append(bars, missBars...)

	// An 11 business-day hole between Feb 3 and Feb 18.
	for _, b := range weekdayBars("GAPY", d(2020, 1, 1), horizon, 100) {
		if b.Date.After(d(2020, 2, 3)) && b.Date.Before(d(2020, 2, 18)) {
			continue
		}
		bars = append(bars, b)
	}

	// A 50% jump with no dividend on Mar 2.
	for _, b := range weekdayBars("JUMP", d(2020, 1, 1), horizon, 100) {
		if !b.Date.Before(d(2020, 3, 2)) {
			b = bar("JUMP", b.Date, 150)
		}
		bars = append(bars, b)
	}

	// A series ending 200 days before the horizon.
	bars = append(bars, weekdayBars("GONE", d(2019, 6, 3), horizon.AddDate(0, 0, -200), 80)...)

	report := v.Validate(models.NewPriceDataset(bars), true)

	assert.False(t, report.IsValid)
	assert.Equal(t, 5, report.TotalTickers)
	assert.Equal(t, map[string]int{"MISS": 5}, report.MissingDataCounts)
	require.Contains(t, report.DateGaps, "GAPY")
	assert.Len(t, report.DateGaps, 1)
	assert.Equal(t, []string{"JUMP"}, report.AdjustmentIssues)
	require.Contains(t, report.DelistingEvents, "GONE")
	assert.Len(t, report.DelistingEvents, 1)
}

func TestValidate_Idempotence(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)

	bars := weekdayBars("AAPL", d(2020, 1, 6), d(2020, 1, 17), 100)
	bars[2].Close = decimal.NullDecimal{}
	ds := models.NewPriceDataset(bars)

	first := v.Validate(ds, true)
	second := v.Validate(ds, true)

	assert.Equal(t, first, second)
}

func TestValidate_DoesNotMutateDataset(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)

	bars := weekdayBars("AAPL", d(2020, 1, 6), d(2020, 1, 17), 100)
	ds := models.NewPriceDataset(bars)
	before := ds.AllBars()

	v.Validate(ds, true)

	assert.Equal(t, before, ds.AllBars())
	assert.Equal(t, len(bars), ds.Len())
}

func TestValidate_DelistingsDoNotAffectValidity(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)

	horizon := d(2020, 6, 30)
	bars := weekdayBars("LIVE", d(2020, 6, 1), horizon, 100)
	bars = append(bars, weekdayBars("DEAD", d(2020, 1, 6), d(2020, 1, 17), 50)...)
	ds := models.NewPriceDataset(bars)

	report := v.Validate(ds, true)

	assert.True(t, report.IsValid)
	assert.Contains(t, report.DelistingEvents, "DEAD")
}

func TestValidate_SkipsDelistingsWhenDisabled(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)

	horizon := d(2020, 6, 30)
	bars := weekdayBars("LIVE", d(2020, 6, 1), horizon, 100)
	bars = append(bars, weekdayBars("DEAD", d(2020, 1, 6), d(2020, 1, 17), 50)...)
	ds := models.NewPriceDataset(bars)

	report := v.Validate(ds, false)

	assert.Empty(t, report.DelistingEvents)
}

func TestValidate_EmptyDataset(t *testing.T) {
	v := NewValidator(DefaultOptions(), nil)

	report := v.Validate(models.NewPriceDataset(nil), true)

	assert.True(t, report.IsValid)
	assert.Equal(t, 0, report.TotalTickers)
	assert.Equal(t, d(2020, 1, 1), report.StartDate)
	assert.Equal(t, d(2020, 1, 1), report.EndDate)
}

func TestValidate_CustomThresholds(t *testing.T) {
	opts := Options{
		GapThresholdDays:       2,
		JumpThreshold:          decimal.NewFromFloat(0.10),
		DelistingThresholdDays: 5,
	}
	v := NewValidator(opts, nil)

	ds := models.NewPriceDataset([]models.PriceBar{
		bar("AAPL", d(2020, 1, 6), 100),
		bar("AAPL", d(2020, 1, 9), 115),
	})

	report := v.Validate(ds, true)

	assert.False(t, report.IsValid)
	assert.Contains(t, report.DateGaps, "AAPL")
	assert.Equal(t, []string{"AAPL"}, report.AdjustmentIssues)
}
