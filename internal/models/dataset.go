package models

import (
	"sort"
	"time"
)

// PriceDataset holds daily price history for a set of symbols, grouped and
// sorted so that quality scanners can iterate each symbol's series in date
// order without re-grouping.
type PriceDataset struct {
	symbols []string
	bars    map[string][]PriceBar
}

// NewPriceDataset builds a dataset from a flat slice of bars. Bars are
// grouped by symbol, sorted by date ascending, and exact date duplicates are
// dropped keeping the last occurrence. The input slice is not modified.
func NewPriceDataset(bars []PriceBar) *PriceDataset {
	grouped := make(map[string][]PriceBar)
	for _, bar := range bars {
		bar.Date = Day(bar.Date)
		grouped[bar.Symbol] = append(grouped[bar.Symbol], bar)
	}

	symbols := make([]string, 0, len(grouped))
	for symbol, series := range grouped {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Date.Before(series[j].Date)
		})

		deduped := series[:0]
		for _, bar := range series {
			n := len(deduped)
			if n > 0 && deduped[n-1].Date.Equal(bar.Date) {
				deduped[n-1] = bar
				continue
			}
			deduped = append(deduped, bar)
		}
		grouped[symbol] = deduped
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	return &PriceDataset{symbols: symbols, bars: grouped}
}

// Symbols returns the dataset's symbols in ascending order.
func (d *PriceDataset) Symbols() []string {
	out := make([]string, len(d.symbols))
	copy(out, d.symbols)
	return out
}

// Bars returns the date-ordered series for a symbol, or nil when the symbol
// is not present.
func (d *PriceDataset) Bars(symbol string) []PriceBar {
	return d.bars[symbol]
}

// Len returns the total number of bars across all symbols.
func (d *PriceDataset) Len() int {
	total := 0
	for _, series := range d.bars {
		total += len(series)
	}
	return total
}

// Empty reports whether the dataset contains no bars.
func (d *PriceDataset) Empty() bool {
	return d.Len() == 0
}

// AllBars returns every bar in the dataset, ordered by symbol then date.
func (d *PriceDataset) AllBars() []PriceBar {
	out := make([]PriceBar, 0, d.Len())
	for _, symbol := range d.symbols {
		out = append(out, d.bars[symbol]...)
	}
	return out
}

// DateRange returns the earliest and latest bar dates across all symbols.
// An empty dataset reports the placeholder range 2020-01-01 to 2020-01-01.
func (d *PriceDataset) DateRange() (time.Time, time.Time) {
	if d.Empty() {
		placeholder := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		return placeholder, placeholder
	}

	var start, end time.Time
	for _, series := range d.bars {
		first := series[0].Date
		last := series[len(series)-1].Date
		if start.IsZero() || first.Before(start) {
			start = first
		}
		if end.IsZero() || last.After(end) {
			end = last
		}
	}
	return start, end
}

// LastDate returns the date of the final bar for a symbol and whether the
// symbol has any bars at all.
func (d *PriceDataset) LastDate(symbol string) (time.Time, bool) {
	series := d.bars[symbol]
	if len(series) == 0 {
		return time.Time{}, false
	}
	return series[len(series)-1].Date, true
}
