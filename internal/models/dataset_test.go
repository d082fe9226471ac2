package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func bar(symbol string, date time.Time, close float64) PriceBar {
	price := decimal.NewFromFloat(close)
	return PriceBar{
		Date:   date,
		Symbol: symbol,
		Open:   decimal.NullDecimal{Decimal: price, Valid: true},
		High:   decimal.NullDecimal{Decimal: price, Valid: true},
		Low:    decimal.NullDecimal{Decimal: price, Valid: true},
		Close:  decimal.NullDecimal{Decimal: price, Valid: true},
		Volume: 1000,
	}
}

func TestNewPriceDataset_GroupsAndSorts(t *testing.T) {
	bars := []PriceBar{
		bar("MSFT", d(2020, 1, 3), 160),
		bar("AAPL", d(2020, 1, 2), 100),
		bar("MSFT", d(2020, 1, 2), 158),
		bar("AAPL", d(2020, 1, 3), 101),
		bar("AAPL", d(2020, 1, 1), 99),
	}

	ds := NewPriceDataset(bars)

	assert.Equal(t, []string{"AAPL", "MSFT"}, ds.Symbols())
	assert.Equal(t, 5, ds.Len())
	assert.False(t, ds.Empty())

	aapl := ds.Bars("AAPL")
	require.Len(t, aapl, 3)
	assert.Equal(t, d(2020, 1, 1), aapl[0].Date)
	assert.Equal(t, d(2020, 1, 2), aapl[1].Date)
	assert.Equal(t, d(2020, 1, 3), aapl[2].Date)
}

func TestNewPriceDataset_DeduplicatesKeepingLast(t *testing.T) {
	bars := []PriceBar{
		bar("AAPL", d(2020, 1, 2), 100),
		bar("AAPL", d(2020, 1, 2), 105),
	}

	ds := NewPriceDataset(bars)

	aapl := ds.Bars("AAPL")
	require.Len(t, aapl, 1)
	assert.True(t, aapl[0].Close.Decimal.Equal(decimal.NewFromFloat(105)))
}

func TestNewPriceDataset_NormalizesTimestamps(t *testing.T) {
	noon := time.Date(2020, 1, 2, 12, 30, 0, 0, time.UTC)
	ds := NewPriceDataset([]PriceBar{bar("AAPL", noon, 100)})

	aapl := ds.Bars("AAPL")
	require.Len(t, aapl, 1)
	assert.Equal(t, d(2020, 1, 2), aapl[0].Date)
}

func TestPriceDataset_DateRange(t *testing.T) {
	t.Run("spans all symbols", func(t *testing.T) {
		ds := NewPriceDataset([]PriceBar{
			bar("AAPL", d(2020, 1, 5), 100),
			bar("MSFT", d(2020, 1, 1), 150),
			bar("MSFT", d(2020, 2, 1), 155),
		})

		start, end := ds.DateRange()
		assert.Equal(t, d(2020, 1, 1), start)
		assert.Equal(t, d(2020, 2, 1), end)
	})

	t.Run("empty dataset uses placeholder", func(t *testing.T) {
		ds := NewPriceDataset(nil)

		start, end := ds.DateRange()
		assert.Equal(t, d(2020, 1, 1), start)
		assert.Equal(t, d(2020, 1, 1), end)
		assert.True(t, ds.Empty())
	})
}

func TestPriceDataset_AllBars(t *testing.T) {
	ds := NewPriceDataset([]PriceBar{
		bar("MSFT", d(2020, 1, 2), 150),
		bar("AAPL", d(2020, 1, 2), 100),
		bar("AAPL", d(2020, 1, 1), 99),
	})

	all := ds.AllBars()
	require.Len(t, all, 3)
	assert.Equal(t, "AAPL", all[0].Symbol)
	assert.Equal(t, d(2020, 1, 1), all[0].Date)
	assert.Equal(t, "MSFT", all[2].Symbol)
}

func TestPriceDataset_LastDate(t *testing.T) {
	ds := NewPriceDataset([]PriceBar{
		bar("AAPL", d(2020, 1, 1), 99),
		bar("AAPL", d(2020, 1, 15), 101),
	})

	last, ok := ds.LastDate("AAPL")
	require.True(t, ok)
	assert.Equal(t, d(2020, 1, 15), last)

	_, ok = ds.LastDate("MSFT")
	assert.False(t, ok)
}

func TestPriceBar_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PriceBar)
		wantErr string
	}{
		{name: "valid bar", mutate: func(b *PriceBar) {}, wantErr: ""},
		{
			name:    "zero date",
			mutate:  func(b *PriceBar) { b.Date = time.Time{} },
			wantErr: "date",
		},
		{
			name:    "empty symbol",
			mutate:  func(b *PriceBar) { b.Symbol = "" },
			wantErr: "symbol",
		},
		{
			name:    "negative volume",
			mutate:  func(b *PriceBar) { b.Volume = -1 },
			wantErr: "volume",
		},
		{
			name:    "negative dividend",
			mutate:  func(b *PriceBar) { b.Dividend = decimal.NewFromFloat(-0.5) },
			wantErr: "dividend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bar("AAPL", d(2020, 1, 2), 100)
			tt.mutate(&b)

			err := b.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPriceBar_MissingFieldCount(t *testing.T) {
	b := bar("AAPL", d(2020, 1, 2), 100)
	assert.Equal(t, 0, b.MissingFieldCount())

	b.Open = decimal.NullDecimal{}
	b.Close = decimal.NullDecimal{}
	assert.Equal(t, 2, b.MissingFieldCount())
}

func TestPriceBar_HasDividend(t *testing.T) {
	b := bar("AAPL", d(2020, 1, 2), 100)
	assert.False(t, b.HasDividend())

	b.Dividend = decimal.NewFromFloat(0.22)
	assert.True(t, b.HasDividend())
}
