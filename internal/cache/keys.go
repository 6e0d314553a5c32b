package cache

import (
	"fmt"
	"time"
)

// Data-type tags recorded on entries so invalidation can target one feed
// without string-matching keys.
const (
	TypeDailyBars   = "daily_bars"
	TypeQuote       = "realtime_quote"
	TypeCompanyInfo = "company_info"
)

// DailyBarsKey identifies a bar range fetch. Ranges are part of the key:
// two overlapping requests cache independently rather than merging.
func DailyBarsKey(symbol string, start, end time.Time, adjust string) string {
	return fmt.Sprintf("bars:%s:%s:%s:%s",
		symbol, start.Format("2006-01-02"), end.Format("2006-01-02"), adjust)
}

func QuoteKey(symbol string) string {
	return fmt.Sprintf("quote:%s", symbol)
}

func CompanyInfoKey(symbol string) string {
	return fmt.Sprintf("company:%s", symbol)
}
