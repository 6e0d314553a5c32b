package market

import (
	"time"
)

// Trading sessions are expressed in exchange-local wall time
// (Asia/Shanghai): 09:30-11:30 and 13:00-15:00, Monday through Friday.
// Public holidays are not modeled; the calendar treats every weekday as a
// trading day, matching the granularity of the daily bar sources.
var exchangeTZ = mustLoadLocation("Asia/Shanghai")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// CST has no DST; a fixed offset is equivalent when tzdata is absent.
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}

// ExchangeTZ returns the exchange time zone.
func ExchangeTZ() *time.Location {
	return exchangeTZ
}

type sessionWindow struct {
	openHour, openMin   int
	closeHour, closeMin int
}

var sessions = []sessionWindow{
	{9, 30, 11, 30},
	{13, 0, 15, 0},
}

// IsTradingDay reports whether t falls on a weekday in exchange time.
func IsTradingDay(t time.Time) bool {
	wd := t.In(exchangeTZ).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsTradingTime reports whether t falls inside a trading session.
func IsTradingTime(t time.Time) bool {
	local := t.In(exchangeTZ)
	if !IsTradingDay(local) {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	for _, s := range sessions {
		open := s.openHour*60 + s.openMin
		clos := s.closeHour*60 + s.closeMin
		if minutes >= open && minutes < clos {
			return true
		}
	}
	return false
}

// SessionOpen returns 09:30 exchange time on t's date.
func SessionOpen(t time.Time) time.Time {
	local := t.In(exchangeTZ)
	return time.Date(local.Year(), local.Month(), local.Day(), 9, 30, 0, 0, exchangeTZ)
}

// SessionClose returns 15:00 exchange time on t's date.
func SessionClose(t time.Time) time.Time {
	local := t.In(exchangeTZ)
	return time.Date(local.Year(), local.Month(), local.Day(), 15, 0, 0, 0, exchangeTZ)
}

// NextTradingDay returns the next weekday after t's date.
func NextTradingDay(t time.Time) time.Time {
	local := t.In(exchangeTZ)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, exchangeTZ)
	for {
		day = day.AddDate(0, 0, 1)
		if IsTradingDay(day) {
			return day
		}
	}
}

// NextSessionOpen returns the first session open strictly after t. Buys of
// day D unlock for sale at this instant on D+1.
func NextSessionOpen(t time.Time) time.Time {
	local := t.In(exchangeTZ)
	open := SessionOpen(local)
	if IsTradingDay(local) && local.Before(open) {
		return open
	}
	return SessionOpen(NextTradingDay(local))
}

// TradingDays enumerates the weekdays in [start, end], inclusive, at
// midnight exchange time. The backtest clock iterates this sequence.
func TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	s := start.In(exchangeTZ)
	e := end.In(exchangeTZ)
	day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, exchangeTZ)
	last := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, exchangeTZ)
	for !day.After(last) {
		if IsTradingDay(day) {
			days = append(days, day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return days
}
