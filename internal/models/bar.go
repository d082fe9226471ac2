// Package models provides data structures for point-in-time equity price data.
// This package contains the core data models shared across the bridge, cache,
// and validation layers: price bars, symbol-grouped datasets, constituent
// membership points, and validation reports.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar represents a single daily price observation for one symbol.
// Adjusted OHLC fields use decimal.NullDecimal: an invalid value marks a
// missing observation as delivered by the vendor feed.
type PriceBar struct {
	Date            time.Time           `json:"date" db:"date"`
	Symbol          string              `json:"symbol" db:"symbol"`
	Open            decimal.NullDecimal `json:"open" db:"open"`
	High            decimal.NullDecimal `json:"high" db:"high"`
	Low             decimal.NullDecimal `json:"low" db:"low"`
	Close           decimal.NullDecimal `json:"close" db:"close"`
	Volume          int64               `json:"volume" db:"volume"`
	UnadjustedClose decimal.NullDecimal `json:"unadjusted_close" db:"unadjusted_close"`
	Dividend        decimal.Decimal     `json:"dividend" db:"dividend"`
}

// FieldError represents a price bar validation error with field context.
type FieldError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message describes the validation failure
}

// Error implements the error interface for FieldError.
func (e FieldError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate performs structural validation on the bar.
// It checks that the date and symbol are present, volume is non-negative and
// the dividend is non-negative. Missing OHLC values are legal; they are a
// data quality finding, not a structural defect.
func (b *PriceBar) Validate() error {
	if b.Date.IsZero() {
		return &FieldError{Field: "date", Message: "date cannot be zero"}
	}
	if b.Symbol == "" {
		return &FieldError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if b.Volume < 0 {
		return &FieldError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}
	if b.Dividend.IsNegative() {
		return &FieldError{Field: "dividend", Message: "dividend must be greater than or equal to 0"}
	}
	return nil
}

// MissingFieldCount returns how many of the four core price fields
// (open, high, low, close) are missing on this bar.
func (b *PriceBar) MissingFieldCount() int {
	count := 0
	for _, field := range []decimal.NullDecimal{b.Open, b.High, b.Low, b.Close} {
		if !field.Valid {
			count++
		}
	}
	return count
}

// HasDividend reports whether a cash distribution was recorded on this date.
func (b *PriceBar) HasDividend() bool {
	return !b.Dividend.IsZero()
}

// String returns a human-readable representation of the bar.
func (b *PriceBar) String() string {
	return fmt.Sprintf("PriceBar{Symbol: %s, Date: %s, O: %s, H: %s, L: %s, C: %s, V: %d, Div: %s}",
		b.Symbol, b.Date.Format("2006-01-02"),
		formatNullDecimal(b.Open), formatNullDecimal(b.High),
		formatNullDecimal(b.Low), formatNullDecimal(b.Close),
		b.Volume, b.Dividend)
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return "null"
	}
	return d.Decimal.String()
}

// Day normalizes a timestamp to a UTC calendar date (midnight UTC).
// All dataset keys and scanner comparisons operate on normalized dates.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ConstituentPoint is one entry of a point-in-time index membership series.
type ConstituentPoint struct {
	Date          time.Time `json:"date"`
	IsConstituent bool      `json:"is_constituent"`
}
