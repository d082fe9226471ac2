package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const summaryMaxLen = 200

// DateGap records a flagged hole between two consecutive observations of one
// symbol's series.
type DateGap struct {
	Before time.Time `json:"before"`
	After  time.Time `json:"after"`
}

// ValidationReport aggregates the findings of every quality scanner run
// against a dataset.
type ValidationReport struct {
	TotalTickers      int                  `json:"total_tickers"`
	StartDate         time.Time            `json:"start_date"`
	EndDate           time.Time            `json:"end_date"`
	MissingDataCounts map[string]int       `json:"missing_data_counts"`
	DateGaps          map[string][]DateGap `json:"date_gaps"`
	AdjustmentIssues  []string             `json:"adjustment_issues"`
	DelistingEvents   map[string]time.Time `json:"delisting_events"`
	SummaryMessage    string               `json:"summary_message"`
	IsValid           bool                 `json:"is_valid"`
}

// HasIssues reports whether any scanner produced findings, including
// delisting events which do not affect validity.
func (r *ValidationReport) HasIssues() bool {
	return len(r.MissingDataCounts) > 0 || len(r.DateGaps) > 0 ||
		len(r.AdjustmentIssues) > 0 || len(r.DelistingEvents) > 0
}

// ComputeValidity derives IsValid from the blocking finding categories.
// Delisting events are informational and never invalidate a dataset.
func (r *ValidationReport) ComputeValidity() {
	r.IsValid = len(r.MissingDataCounts) == 0 && len(r.DateGaps) == 0 &&
		len(r.AdjustmentIssues) == 0
}

// BuildSummary composes the one-line summary message from the current
// findings and truncates it to the 200 character display limit.
func (r *ValidationReport) BuildSummary() {
	var clauses []string
	if n := len(r.MissingDataCounts); n > 0 {
		totalMissing := 0
		for _, count := range r.MissingDataCounts {
			totalMissing += count
		}
		clauses = append(clauses, fmt.Sprintf("%d ticker(s) with %d missing value(s)", n, totalMissing))
	}
	if n := len(r.DateGaps); n > 0 {
		totalGaps := 0
		for _, gaps := range r.DateGaps {
			totalGaps += len(gaps)
		}
		clauses = append(clauses, fmt.Sprintf("%d ticker(s) with %d date gap(s)", n, totalGaps))
	}
	if n := len(r.AdjustmentIssues); n > 0 {
		clauses = append(clauses, fmt.Sprintf("%d ticker(s) with adjustment issue(s)", n))
	}
	if n := len(r.DelistingEvents); n > 0 {
		clauses = append(clauses, fmt.Sprintf("%d delisted", n))
	}

	if len(clauses) == 0 {
		r.SummaryMessage = fmt.Sprintf("Validation complete: %d tickers, no issues detected", r.TotalTickers)
		return
	}

	summary := "Validation found issues: " + strings.Join(clauses, "; ")
	if len(summary) > summaryMaxLen {
		summary = summary[:summaryMaxLen-3] + "..."
	}
	r.SummaryMessage = summary
}

// Render formats the report as a multi-line banner for terminal display.
func (r *ValidationReport) Render() string {
	var b strings.Builder

	b.WriteString("===== Validation Report =====\n")
	fmt.Fprintf(&b, "Total Tickers: %d\n", r.TotalTickers)
	fmt.Fprintf(&b, "Date Range: %s to %s\n",
		r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"))

	if len(r.MissingDataCounts) > 0 {
		fmt.Fprintf(&b, "Missing Data: %d ticker(s) with issues\n", len(r.MissingDataCounts))
	} else {
		b.WriteString("Missing Data: None\n")
	}

	if len(r.DateGaps) > 0 {
		fmt.Fprintf(&b, "Date Gaps: %d ticker(s) with issues\n", len(r.DateGaps))
	} else {
		b.WriteString("Date Gaps: None\n")
	}

	if len(r.AdjustmentIssues) > 0 {
		fmt.Fprintf(&b, "Adjustment Issues: %d ticker(s)\n", len(r.AdjustmentIssues))
	} else {
		b.WriteString("Adjustment Issues: None\n")
	}

	if len(r.DelistingEvents) > 0 {
		fmt.Fprintf(&b, "Delisting Events: %d ticker(s)\n", len(r.DelistingEvents))
	} else {
		b.WriteString("Delisting Events: None\n")
	}

	status := "INVALID"
	if r.IsValid {
		status = "VALID"
	}
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Summary: %s\n", r.SummaryMessage)
	b.WriteString("=============================")

	return b.String()
}

// String returns a compact single-line representation of the report.
func (r *ValidationReport) String() string {
	return fmt.Sprintf("ValidationReport{Tickers: %d, Valid: %t, Summary: %q}",
		r.TotalTickers, r.IsValid, r.SummaryMessage)
}

// SortedGapSymbols returns the symbols with flagged gaps in ascending order.
func (r *ValidationReport) SortedGapSymbols() []string {
	symbols := make([]string, 0, len(r.DateGaps))
	for symbol := range r.DateGaps {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
