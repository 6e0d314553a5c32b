// Package cli parses and validates command line inputs shared by the
// binaries: dates, date ranges and symbol lists.
package cli

import (
	"fmt"
	"strings"
	"time"

	"quant_trader/internal/market"
)

// Date layouts accepted on the command line.
var dateLayouts = []string{"2006-01-02", "20060102"}

// ParseDate accepts YYYY-MM-DD or YYYYMMDD.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
}

// ParseDateRange parses both bounds and requires start <= end. A single-day
// range is valid.
func ParseDateRange(start, end string) (time.Time, time.Time, error) {
	s, err := ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s",
			e.Format("2006-01-02"), s.Format("2006-01-02"))
	}
	return s, e, nil
}

// ParseSymbols splits a comma-separated list, normalizes the exchange
// suffix to upper case and validates each entry. An empty input returns
// nil so callers can fall back to a configured watchlist.
func ParseSymbols(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		sym := strings.ToUpper(strings.TrimSpace(p))
		if sym == "" {
			continue
		}
		if err := market.ValidateSymbol(sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("symbol list %q is empty after trimming", s)
	}
	return out, nil
}

// Adjust modes accepted by the data sources.
const (
	AdjustForward  = "qfq"
	AdjustBackward = "hfq"
	AdjustNone     = "none"
)

// ParseAdjust validates a price adjustment mode.
func ParseAdjust(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", AdjustForward:
		return AdjustForward, nil
	case AdjustBackward:
		return AdjustBackward, nil
	case AdjustNone:
		return AdjustNone, nil
	default:
		return "", fmt.Errorf("invalid adjust mode %q (want qfq, hfq or none)", s)
	}
}
