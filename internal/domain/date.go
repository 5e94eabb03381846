package domain

import (
	"fmt"
	"time"
)

// PeriodsPerDay is the number of settlement periods in a calendar day.
const PeriodsPerDay = 48

// DateLayout is the canonical settlement date format.
const DateLayout = "2006-01-02"

// SettlementDate identifies one calendar day in the balancing market.
// Stored and compared as a YYYY-MM-DD string.
type SettlementDate string

// ParseSettlementDate validates and normalizes a YYYY-MM-DD string.
func ParseSettlementDate(s string) (SettlementDate, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("parse settlement date %q: %w", s, err)
	}
	return SettlementDate(t.Format(DateLayout)), nil
}

// NewSettlementDate builds a SettlementDate from a time.Time (UTC date part).
func NewSettlementDate(t time.Time) SettlementDate {
	return SettlementDate(t.UTC().Format(DateLayout))
}

// Time returns the midnight UTC instant of the date.
func (d SettlementDate) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// String returns the YYYY-MM-DD form.
func (d SettlementDate) String() string { return string(d) }

// MonthKey returns the enclosing month key (YYYY-MM).
func (d SettlementDate) MonthKey() string {
	if len(d) < 7 {
		return ""
	}
	return string(d[:7])
}

// YearKey returns the enclosing year key (YYYY).
func (d SettlementDate) YearKey() string {
	if len(d) < 4 {
		return ""
	}
	return string(d[:4])
}

// ValidPeriod reports whether p is a valid settlement period number.
func ValidPeriod(p int) bool {
	return p >= 1 && p <= PeriodsPerDay
}

// DaysInMonth returns all settlement dates of the month containing d.
func (d SettlementDate) DaysInMonth() []SettlementDate {
	start := time.Date(d.Time().Year(), d.Time().Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var days []SettlementDate
	for t := start; t.Before(end); t = t.AddDate(0, 0, 1) {
		days = append(days, NewSettlementDate(t))
	}
	return days
}
