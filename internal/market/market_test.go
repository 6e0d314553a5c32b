package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSymbol(t *testing.T) {
	cases := []struct {
		raw      string
		wantCode string
		wantExch Exchange
		wantErr  bool
	}{
		{"600036.SH", "600036", ExchangeSH, false},
		{"000001.SZ", "000001", ExchangeSZ, false},
		{"688001.SH", "688001", ExchangeSH, false},
		{"700.HK", "700", ExchangeHK, false},
		{"00700.HK", "00700", ExchangeHK, false},
		{"600036", "", "", true},
		{"600036.XX", "", "", true},
		{"60003.SH", "", "", true},
		{"6000366.SH", "", "", true},
		{"abcdef.SH", "", "", true},
		{"", "", "", true},
	}

	for _, tc := range cases {
		sym, err := ParseSymbol(tc.raw)
		if tc.wantErr {
			assert.Error(t, err, "raw=%s", tc.raw)
			continue
		}
		require.NoError(t, err, "raw=%s", tc.raw)
		assert.Equal(t, tc.wantCode, sym.Code)
		assert.Equal(t, tc.wantExch, sym.Exchange)
		assert.Equal(t, tc.raw, sym.String())
	}
}

func TestBoardClassification(t *testing.T) {
	cases := []struct {
		raw  string
		name string
		want Board
	}{
		{"600036.SH", "招商银行", BoardMain},
		{"601318.SH", "中国平安", BoardMain},
		{"688001.SH", "华兴源创", BoardSTAR},
		{"000001.SZ", "平安银行", BoardMain},
		{"001979.SZ", "招商蛇口", BoardMain},
		{"300750.SZ", "宁德时代", BoardGEM},
		{"510300.SH", "沪深300ETF", BoardETF},
		{"159915.SZ", "创业板ETF", BoardETF},
		{"512880.SH", "证券ETF", BoardETF},
		{"560010.SH", "碳中和ETF", BoardETF}, // name-based
		{"00700.HK", "腾讯控股", BoardHK},
	}

	for _, tc := range cases {
		sym, err := ParseSymbol(tc.raw)
		require.NoError(t, err)
		assert.Equal(t, tc.want, Classify(sym, tc.name), "raw=%s", tc.raw)
	}
}

func TestPriceLimits(t *testing.T) {
	t.Run("main board 10 percent", func(t *testing.T) {
		sym, _ := ParseSymbol("600036.SH")
		upper, lower, ok := LimitPrices(sym, decimal.NewFromFloat(40.00))
		require.True(t, ok)
		assert.Equal(t, "44", upper.String())
		assert.Equal(t, "36", lower.String())
	})

	t.Run("STAR board 20 percent", func(t *testing.T) {
		sym, _ := ParseSymbol("688001.SH")
		upper, lower, ok := LimitPrices(sym, decimal.NewFromFloat(100))
		require.True(t, ok)
		assert.Equal(t, "120", upper.String())
		assert.Equal(t, "80", lower.String())
	})

	t.Run("GEM board 20 percent", func(t *testing.T) {
		sym, _ := ParseSymbol("300750.SZ")
		ratio, ok := PriceLimitRatio(sym)
		require.True(t, ok)
		assert.Equal(t, "0.2", ratio.String())
	})

	t.Run("tick rounding half up", func(t *testing.T) {
		sym, _ := ParseSymbol("600036.SH")
		// 9.37 * 1.1 = 10.307 -> 10.31
		upper, _, ok := LimitPrices(sym, decimal.NewFromFloat(9.37))
		require.True(t, ok)
		assert.Equal(t, "10.31", upper.String())
	})

	t.Run("HK has no limit", func(t *testing.T) {
		sym, _ := ParseSymbol("00700.HK")
		_, _, ok := LimitPrices(sym, decimal.NewFromFloat(300))
		assert.False(t, ok)
	})

	t.Run("zero pre close unusable", func(t *testing.T) {
		sym, _ := ParseSymbol("600036.SH")
		_, _, ok := LimitPrices(sym, decimal.Zero)
		assert.False(t, ok)
	})
}

func TestRoundToLot(t *testing.T) {
	assert.Equal(t, int64(0), RoundToLot(99))
	assert.Equal(t, int64(100), RoundToLot(100))
	assert.Equal(t, int64(100), RoundToLot(199))
	assert.Equal(t, int64(1200), RoundToLot(1250))
	assert.Equal(t, int64(0), RoundToLot(-100))
}

func TestTradingSessions(t *testing.T) {
	tz := ExchangeTZ()

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"morning open", time.Date(2024, 3, 4, 9, 30, 0, 0, tz), true},   // Monday
		{"late morning", time.Date(2024, 3, 4, 11, 29, 0, 0, tz), true},  //
		{"lunch break", time.Date(2024, 3, 4, 12, 0, 0, 0, tz), false},   //
		{"afternoon", time.Date(2024, 3, 4, 14, 59, 0, 0, tz), true},     //
		{"after close", time.Date(2024, 3, 4, 15, 0, 0, 0, tz), false},   //
		{"pre open", time.Date(2024, 3, 4, 9, 15, 0, 0, tz), false},      //
		{"saturday", time.Date(2024, 3, 2, 10, 0, 0, 0, tz), false},      //
		{"sunday noonish", time.Date(2024, 3, 3, 13, 30, 0, 0, tz), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTradingTime(tc.t))
		})
	}
}

func TestNextSessionOpen(t *testing.T) {
	tz := ExchangeTZ()

	// Buy filled Friday afternoon unlocks Monday 09:30.
	friday := time.Date(2024, 3, 1, 14, 0, 0, 0, tz)
	next := NextSessionOpen(friday)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Minute())

	// Before the open on a trading day, the same day's open counts.
	monPre := time.Date(2024, 3, 4, 8, 0, 0, 0, tz)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 30, 0, 0, tz), NextSessionOpen(monPre))
}

func TestTradingDays(t *testing.T) {
	tz := ExchangeTZ()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, tz) // Friday
	end := time.Date(2024, 3, 7, 0, 0, 0, 0, tz)   // Thursday

	days := TradingDays(start, end)
	require.Len(t, days, 5) // Fri, Mon, Tue, Wed, Thu
	assert.Equal(t, time.Friday, days[0].Weekday())
	assert.Equal(t, time.Monday, days[1].Weekday())
	for _, d := range days {
		assert.True(t, IsTradingDay(d))
	}
}
