// Package quality implements the data quality scanners that validate daily
// price datasets: missing field detection, trading calendar gap detection,
// corporate action adjustment checks, and delisting detection.
package quality

import "github.com/shopspring/decimal"

// Default scanner thresholds.
const (
	// DefaultGapThresholdDays is the minimum run of skipped business days
	// between two consecutive observations that gets flagged as a gap.
	DefaultGapThresholdDays = 10

	// DefaultDelistingThresholdDays is the number of calendar days a
	// symbol's series may lag the query end before it is considered
	// delisted.
	DefaultDelistingThresholdDays = 30
)

// DefaultJumpThreshold is the absolute day-over-day return above which a
// price move without a recorded dividend is flagged as a suspect adjustment.
var DefaultJumpThreshold = decimal.NewFromFloat(0.40)

// Options configures the quality scanners. The zero value is not usable;
// construct with DefaultOptions and override fields as needed.
type Options struct {
	// GapThresholdDays flags gaps spanning at least this many business days.
	GapThresholdDays int

	// JumpThreshold is the absolute fractional price change that triggers
	// an adjustment finding when no dividend explains the move.
	JumpThreshold decimal.Decimal

	// DelistingThresholdDays is the calendar day staleness limit before a
	// symbol is reported as delisted.
	DelistingThresholdDays int
}

// DefaultOptions returns the production scanner thresholds.
func DefaultOptions() Options {
	return Options{
		GapThresholdDays:       DefaultGapThresholdDays,
		JumpThreshold:          DefaultJumpThreshold,
		DelistingThresholdDays: DefaultDelistingThresholdDays,
	}
}
