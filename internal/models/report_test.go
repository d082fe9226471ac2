package models

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationReport_BuildSummary(t *testing.T) {
	t.Run("no issues", func(t *testing.T) {
		report := &ValidationReport{TotalTickers: 42}
		report.BuildSummary()

		assert.Equal(t, "Validation complete: 42 tickers, no issues detected", report.SummaryMessage)
	})

	t.Run("all categories", func(t *testing.T) {
		report := &ValidationReport{
			TotalTickers:      10,
			MissingDataCounts: map[string]int{"AAPL": 3, "MSFT": 2},
			DateGaps: map[string][]DateGap{
				"GOOG": {{Before: d(2020, 1, 1), After: d(2020, 2, 1)}},
			},
			AdjustmentIssues: []string{"TSLA"},
			DelistingEvents:  map[string]time.Time{"YHOO": d(2020, 3, 1)},
		}
		report.BuildSummary()

		assert.Equal(t,
			"Validation found issues: 2 ticker(s) with 5 missing value(s); "+
				"1 ticker(s) with 1 date gap(s); 1 ticker(s) with adjustment issue(s); 1 delisted",
			report.SummaryMessage)
	})

	t.Run("length stays bounded for large counts", func(t *testing.T) {
		missing := make(map[string]int)
		gaps := make(map[string][]DateGap)
		delisted := make(map[string]time.Time)
		var adjustments []string
		for i := 0; i < 100000; i++ {
			key := fmt.Sprintf("SYM%06d", i)
			missing[key] = 1 << 30
			gaps[key] = []DateGap{{Before: d(2020, 1, 1), After: d(2020, 2, 1)}}
			delisted[key] = d(2020, 3, 1)
			adjustments = append(adjustments, key)
		}
		report := &ValidationReport{
			TotalTickers:      100000,
			MissingDataCounts: missing,
			DateGaps:          gaps,
			AdjustmentIssues:  adjustments,
			DelistingEvents:   delisted,
		}
		report.BuildSummary()

		assert.LessOrEqual(t, len(report.SummaryMessage), 200)
	})

	t.Run("exactly at the limit is not truncated", func(t *testing.T) {
		report := &ValidationReport{
			TotalTickers:      1,
			MissingDataCounts: map[string]int{"AAPL": 1},
		}
		report.BuildSummary()

		assert.False(t, strings.HasSuffix(report.SummaryMessage, "..."))
	})
}

func TestValidationReport_ComputeValidity(t *testing.T) {
	tests := []struct {
		name   string
		report ValidationReport
		valid  bool
	}{
		{name: "clean", report: ValidationReport{}, valid: true},
		{
			name:   "missing data invalidates",
			report: ValidationReport{MissingDataCounts: map[string]int{"AAPL": 1}},
			valid:  false,
		},
		{
			name: "gaps invalidate",
			report: ValidationReport{DateGaps: map[string][]DateGap{
				"AAPL": {{Before: d(2020, 1, 1), After: d(2020, 2, 1)}},
			}},
			valid: false,
		},
		{
			name:   "adjustment issues invalidate",
			report: ValidationReport{AdjustmentIssues: []string{"AAPL"}},
			valid:  false,
		},
		{
			name:   "delistings alone stay valid",
			report: ValidationReport{DelistingEvents: map[string]time.Time{"AAPL": d(2020, 1, 1)}},
			valid:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.report.ComputeValidity()
			assert.Equal(t, tt.valid, tt.report.IsValid)
		})
	}
}

func TestValidationReport_Render(t *testing.T) {
	report := &ValidationReport{
		TotalTickers:      100,
		StartDate:         d(2020, 1, 1),
		EndDate:           d(2020, 12, 31),
		MissingDataCounts: map[string]int{"A": 1, "B": 2, "C": 3, "D": 4, "E": 5},
		DateGaps: map[string][]DateGap{
			"F": {{Before: d(2020, 1, 1), After: d(2020, 2, 1)}},
			"G": {{Before: d(2020, 3, 1), After: d(2020, 4, 1)}},
		},
		AdjustmentIssues: []string{"H"},
		DelistingEvents:  map[string]time.Time{"I": d(2020, 6, 1)},
	}
	report.ComputeValidity()
	report.BuildSummary()

	out := report.Render()
	lines := strings.Split(out, "\n")

	require.Len(t, lines, 10)
	assert.Equal(t, "===== Validation Report =====", lines[0])
	assert.Equal(t, "Total Tickers: 100", lines[1])
	assert.Equal(t, "Date Range: 2020-01-01 to 2020-12-31", lines[2])
	assert.Equal(t, "Missing Data: 5 ticker(s) with issues", lines[3])
	assert.Equal(t, "Date Gaps: 2 ticker(s) with issues", lines[4])
	assert.Equal(t, "Adjustment Issues: 1 ticker(s)", lines[5])
	assert.Equal(t, "Delisting Events: 1 ticker(s)", lines[6])
	assert.Equal(t, "Status: INVALID", lines[7])
	assert.True(t, strings.HasPrefix(lines[8], "Summary: "))
	assert.Equal(t, "=============================", lines[9])
}

func TestValidationReport_RenderClean(t *testing.T) {
	report := &ValidationReport{
		TotalTickers: 5,
		StartDate:    d(2020, 1, 1),
		EndDate:      d(2020, 1, 10),
	}
	report.ComputeValidity()
	report.BuildSummary()

	out := report.Render()
	assert.Contains(t, out, "Missing Data: None")
	assert.Contains(t, out, "Date Gaps: None")
	assert.Contains(t, out, "Adjustment Issues: None")
	assert.Contains(t, out, "Delisting Events: None")
	assert.Contains(t, out, "Status: VALID")
	assert.Contains(t, out, "no issues detected")
}

func TestValidationReport_HasIssues(t *testing.T) {
	clean := &ValidationReport{}
	assert.False(t, clean.HasIssues())

	delistedOnly := &ValidationReport{
		DelistingEvents: map[string]time.Time{"AAPL": d(2020, 1, 1)},
	}
	assert.True(t, delistedOnly.HasIssues())
}

func TestValidationReport_SortedGapSymbols(t *testing.T) {
	report := &ValidationReport{
		DateGaps: map[string][]DateGap{
			"MSFT": {}, "AAPL": {}, "GOOG": {},
		},
	}
	assert.Equal(t, []string{"AAPL", "GOOG", "MSFT"}, report.SortedGapSymbols())
}
