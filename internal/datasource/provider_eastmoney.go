package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quant_trader/internal/core"
	"quant_trader/internal/market"
	apperrors "quant_trader/pkg/errors"
	qhttp "quant_trader/pkg/http"
)

const (
	eastmoneyQuoteURL   = "https://push2.eastmoney.com/api/qt/ulist.np/get"
	eastmoneyDetailURL  = "https://push2.eastmoney.com/api/qt/stock/get"
	eastmoneyHistoryURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"
)

// EastMoneySource crawls the push2 JSON APIs. fltt=2 makes the venue emit
// prices as decimals instead of scaled integers; kline volumes arrive in
// lots of 100.
type EastMoneySource struct {
	client *qhttp.Client
	logger core.ILogger
}

var _ core.IDataSource = (*EastMoneySource)(nil)

func NewEastMoneySource(cfg ProviderConfig, logger core.ILogger) *EastMoneySource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProviderConfig().Timeout
	}
	headers := map[string]string{
		"Referer":    "https://quote.eastmoney.com",
		"User-Agent": "Mozilla/5.0 (X11; Linux x86_64)",
	}
	return &EastMoneySource{
		client: qhttp.NewClientWithRetries("", cfg.Timeout, headers, cfg.MaxRetries),
		logger: logger.WithField("component", "datasource").WithField("provider", "eastmoney"),
	}
}

func (e *EastMoneySource) Name() string { return "eastmoney" }

// GetDailyBars fetches daily klines. fqt selects the adjustment: 0 raw,
// 1 forward (qfq), 2 backward (hfq).
func (e *EastMoneySource) GetDailyBars(ctx context.Context, symbol string, start, end time.Time, adjust string) ([]*core.Bar, error) {
	id, err := secID(symbol)
	if err != nil {
		return nil, err
	}

	fqt := "0"
	switch adjust {
	case "", "none":
	case "qfq":
		fqt = "1"
	case "hfq":
		fqt = "2"
	default:
		return nil, fmt.Errorf("%w: unknown adjust %q", apperrors.ErrDataSource, adjust)
	}

	body, err := e.client.Get(ctx, eastmoneyHistoryURL, map[string]string{
		"secid":   id,
		"klt":     "101", // daily
		"fqt":     fqt,
		"beg":     start.Format("20060102"),
		"end":     end.Format("20060102"),
		"fields1": "f1,f2,f3,f4,f5,f6",
		"fields2": "f51,f52,f53,f54,f55,f56,f57",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: eastmoney kline fetch for %s: %v", apperrors.ErrDataSource, symbol, err)
	}

	var resp struct {
		Data *struct {
			Code      string          `json:"code"`
			PreKPrice decimal.Decimal `json:"preKPrice"`
			Klines    []string        `json:"klines"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: eastmoney kline decode for %s: %v", apperrors.ErrDataSource, symbol, err)
	}
	if resp.Data == nil || len(resp.Data.Klines) == 0 {
		return nil, fmt.Errorf("%w: eastmoney returned no bars for %s in [%s, %s]",
			apperrors.ErrNoData, symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	bars := make([]*core.Bar, 0, len(resp.Data.Klines))
	prevClose := resp.Data.PreKPrice
	for _, row := range resp.Data.Klines {
		// date,open,close,high,low,volume-in-lots,amount
		cols := strings.Split(row, ",")
		if len(cols) < 7 {
			return nil, fmt.Errorf("%w: eastmoney kline row has %d columns", apperrors.ErrDataSource, len(cols))
		}
		date, err := time.Parse("2006-01-02", cols[0])
		if err != nil {
			return nil, fmt.Errorf("%w: eastmoney kline date %q: %v", apperrors.ErrDataSource, cols[0], err)
		}
		bar := &core.Bar{
			Symbol:     symbol,
			TradeDate:  date,
			Frequency:  "1d",
			AdjustType: adjustOrNone(adjust),
			PreClose:   prevClose,
		}
		if bar.Open, err = decimal.NewFromString(cols[1]); err != nil {
			return nil, fmt.Errorf("%w: eastmoney kline open %q: %v", apperrors.ErrDataSource, cols[1], err)
		}
		if bar.Close, err = decimal.NewFromString(cols[2]); err != nil {
			return nil, fmt.Errorf("%w: eastmoney kline close %q: %v", apperrors.ErrDataSource, cols[2], err)
		}
		if bar.High, err = decimal.NewFromString(cols[3]); err != nil {
			return nil, fmt.Errorf("%w: eastmoney kline high %q: %v", apperrors.ErrDataSource, cols[3], err)
		}
		if bar.Low, err = decimal.NewFromString(cols[4]); err != nil {
			return nil, fmt.Errorf("%w: eastmoney kline low %q: %v", apperrors.ErrDataSource, cols[4], err)
		}
		lots, err := decimal.NewFromString(cols[5])
		if err != nil {
			return nil, fmt.Errorf("%w: eastmoney kline volume %q: %v", apperrors.ErrDataSource, cols[5], err)
		}
		bar.Volume = lots.Mul(decimal.NewFromInt(100)).IntPart()
		if bar.Amount, err = decimal.NewFromString(cols[6]); err != nil {
			return nil, fmt.Errorf("%w: eastmoney kline amount %q: %v", apperrors.ErrDataSource, cols[6], err)
		}
		prevClose = bar.Close
		bars = append(bars, bar)
	}
	return bars, nil
}

// GetRealtimeQuotes batches all symbols into one ulist request.
func (e *EastMoneySource) GetRealtimeQuotes(ctx context.Context, symbols []string) ([]*core.Quote, error) {
	ids := make([]string, 0, len(symbols))
	back := make(map[string]string, len(symbols))
	for _, s := range symbols {
		id, err := secID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		// ulist rows carry the bare code in f12; map it back.
		sym, _ := market.ParseSymbol(s)
		back[sym.Code] = s
	}

	body, err := e.client.Get(ctx, eastmoneyQuoteURL, map[string]string{
		"fltt":   "2",
		"secids": strings.Join(ids, ","),
		"fields": "f2,f5,f6,f12,f14,f15,f16,f17,f18,f124",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: eastmoney quote fetch: %v", apperrors.ErrDataSource, err)
	}

	var resp struct {
		Data *struct {
			Diff []eastmoneyQuoteRow `json:"diff"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: eastmoney quote decode: %v", apperrors.ErrDataSource, err)
	}
	if resp.Data == nil || len(resp.Data.Diff) == 0 {
		return nil, fmt.Errorf("%w: eastmoney returned no quotes for %v", apperrors.ErrNoData, symbols)
	}

	quotes := make([]*core.Quote, 0, len(resp.Data.Diff))
	for _, row := range resp.Data.Diff {
		symbol, ok := back[row.Code]
		if !ok {
			continue
		}
		q := &core.Quote{
			Symbol:    symbol,
			Price:     row.Price,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			PrevClose: row.PreClose,
			Volume:    row.VolumeLots.Mul(decimal.NewFromInt(100)).IntPart(),
			Timestamp: time.Unix(row.UnixTime, 0),
		}
		if row.UnixTime == 0 {
			q.Timestamp = time.Now()
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: eastmoney matched no requested symbols", apperrors.ErrNoData)
	}
	return quotes, nil
}

// eastmoneyQuoteRow maps the ulist field codes. Suspended instruments emit
// "-" for numeric fields, so everything decodes through a tolerant shim.
type eastmoneyQuoteRow struct {
	Price      decimal.Decimal
	VolumeLots decimal.Decimal
	Code       string
	Name       string
	High       decimal.Decimal
	Low        decimal.Decimal
	Open       decimal.Decimal
	PreClose   decimal.Decimal
	UnixTime   int64
}

func (r *eastmoneyQuoteRow) UnmarshalJSON(b []byte) error {
	var raw struct {
		F2   json.RawMessage `json:"f2"`
		F5   json.RawMessage `json:"f5"`
		F12  string          `json:"f12"`
		F14  string          `json:"f14"`
		F15  json.RawMessage `json:"f15"`
		F16  json.RawMessage `json:"f16"`
		F17  json.RawMessage `json:"f17"`
		F18  json.RawMessage `json:"f18"`
		F124 json.RawMessage `json:"f124"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Code = raw.F12
	r.Name = raw.F14
	r.Price = tolerantDecimal(raw.F2)
	r.VolumeLots = tolerantDecimal(raw.F5)
	r.High = tolerantDecimal(raw.F15)
	r.Low = tolerantDecimal(raw.F16)
	r.Open = tolerantDecimal(raw.F17)
	r.PreClose = tolerantDecimal(raw.F18)
	r.UnixTime = tolerantDecimal(raw.F124).IntPart()
	return nil
}

// tolerantDecimal decodes a number, a quoted number, or the venue's "-"
// placeholder (yielding zero).
func tolerantDecimal(raw json.RawMessage) decimal.Decimal {
	if len(raw) == 0 {
		return decimal.Zero
	}
	s := strings.Trim(string(raw), `"`)
	if s == "-" || s == "" || s == "null" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GetCompanyInfo reads the stock detail endpoint: f57 code, f58 name,
// f127 industry, f128 board label.
func (e *EastMoneySource) GetCompanyInfo(ctx context.Context, symbol string) (*core.CompanyInfo, error) {
	id, err := secID(symbol)
	if err != nil {
		return nil, err
	}
	body, err := e.client.Get(ctx, eastmoneyDetailURL, map[string]string{
		"secid":  id,
		"fltt":   "2",
		"fields": "f57,f58,f127,f128",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: eastmoney company fetch for %s: %v", apperrors.ErrDataSource, symbol, err)
	}

	var resp struct {
		Data *struct {
			Code     string `json:"f57"`
			Name     string `json:"f58"`
			Industry string `json:"f127"`
			Board    string `json:"f128"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: eastmoney company decode for %s: %v", apperrors.ErrDataSource, symbol, err)
	}
	if resp.Data == nil || resp.Data.Name == "" {
		return nil, fmt.Errorf("%w: eastmoney has no record for %s", apperrors.ErrNoData, symbol)
	}
	return &core.CompanyInfo{
		Symbol:   symbol,
		Name:     resp.Data.Name,
		Industry: resp.Data.Industry,
		Market:   marketLabel(symbol),
	}, nil
}
