package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/simplifiedchinese"

	"quant_trader/internal/core"
	"quant_trader/internal/market"
	apperrors "quant_trader/pkg/errors"
	qhttp "quant_trader/pkg/http"
)

const (
	tencentQuoteURL = "https://qt.gtimg.cn/q="
	tencentKlineURL = "https://web.ifzq.gtimg.cn/appstock/app/fqkline/get"
)

// TencentSource crawls qt.gtimg.cn quote strings and the ifzq kline API.
// Quote payloads are GBK text with tilde-separated fields; volumes arrive
// in lots of 100 and are converted to shares.
type TencentSource struct {
	client *qhttp.Client
	logger core.ILogger
}

var _ core.IDataSource = (*TencentSource)(nil)

func NewTencentSource(cfg ProviderConfig, logger core.ILogger) *TencentSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProviderConfig().Timeout
	}
	headers := map[string]string{
		"Referer":    "https://gu.qq.com",
		"User-Agent": "Mozilla/5.0 (X11; Linux x86_64)",
	}
	return &TencentSource{
		client: qhttp.NewClientWithRetries("", cfg.Timeout, headers, cfg.MaxRetries),
		logger: logger.WithField("component", "datasource").WithField("provider", "tencent"),
	}
}

func (t *TencentSource) Name() string { return "tencent" }

// GetDailyBars fetches daily klines, forward/backward adjusted when asked.
func (t *TencentSource) GetDailyBars(ctx context.Context, symbol string, start, end time.Time, adjust string) ([]*core.Bar, error) {
	code, err := vendorCode(symbol)
	if err != nil {
		return nil, err
	}

	variant := "day"
	switch adjust {
	case "", "none":
	case "qfq":
		variant = "qfqday"
	case "hfq":
		variant = "hfqday"
	default:
		return nil, fmt.Errorf("%w: unknown adjust %q", apperrors.ErrDataSource, adjust)
	}

	param := fmt.Sprintf("%s,day,%s,%s,640,%s",
		code, start.Format("2006-01-02"), end.Format("2006-01-02"), strings.TrimSuffix(variant, "day"))
	body, err := t.client.Get(ctx, tencentKlineURL, map[string]string{"param": param})
	if err != nil {
		return nil, fmt.Errorf("%w: tencent kline fetch for %s: %v", apperrors.ErrDataSource, symbol, err)
	}

	var resp struct {
		Code int                                   `json:"code"`
		Data map[string]map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: tencent kline decode for %s: %v", apperrors.ErrDataSource, symbol, err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: tencent kline for %s returned code %d", apperrors.ErrDataSource, symbol, resp.Code)
	}
	sec, ok := resp.Data[code]
	if !ok {
		return nil, fmt.Errorf("%w: tencent kline response missing %s", apperrors.ErrNoData, symbol)
	}
	raw, ok := sec[variant]
	if !ok {
		// Instruments with no adjustment history fall back to raw rows.
		if raw, ok = sec["day"]; !ok {
			return nil, fmt.Errorf("%w: tencent kline response for %s has no %s rows", apperrors.ErrNoData, symbol, variant)
		}
	}

	// Row layout: [date, open, close, high, low, volume-in-lots, ...]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: tencent kline rows for %s: %v", apperrors.ErrDataSource, symbol, err)
	}

	bars := make([]*core.Bar, 0, len(rows))
	prevClose := decimal.Zero
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: tencent kline row has %d columns", apperrors.ErrDataSource, len(row))
		}
		var cols [6]string
		for i := 0; i < 6; i++ {
			if err := json.Unmarshal(row[i], &cols[i]); err != nil {
				// Some deployments emit numbers unquoted.
				var f float64
				if err2 := json.Unmarshal(row[i], &f); err2 != nil {
					return nil, fmt.Errorf("%w: tencent kline column %d: %v", apperrors.ErrDataSource, i, err)
				}
				cols[i] = decimal.NewFromFloat(f).String()
			}
		}
		date, err := time.Parse("2006-01-02", cols[0])
		if err != nil {
			return nil, fmt.Errorf("%w: tencent kline date %q: %v", apperrors.ErrDataSource, cols[0], err)
		}
		bar := &core.Bar{
			Symbol:     symbol,
			TradeDate:  date,
			Frequency:  "1d",
			AdjustType: adjustOrNone(adjust),
			PreClose:   prevClose,
		}
		if bar.Open, err = decimal.NewFromString(cols[1]); err != nil {
			return nil, fmt.Errorf("%w: tencent kline open %q: %v", apperrors.ErrDataSource, cols[1], err)
		}
		if bar.Close, err = decimal.NewFromString(cols[2]); err != nil {
			return nil, fmt.Errorf("%w: tencent kline close %q: %v", apperrors.ErrDataSource, cols[2], err)
		}
		if bar.High, err = decimal.NewFromString(cols[3]); err != nil {
			return nil, fmt.Errorf("%w: tencent kline high %q: %v", apperrors.ErrDataSource, cols[3], err)
		}
		if bar.Low, err = decimal.NewFromString(cols[4]); err != nil {
			return nil, fmt.Errorf("%w: tencent kline low %q: %v", apperrors.ErrDataSource, cols[4], err)
		}
		lots, err := decimal.NewFromString(cols[5])
		if err != nil {
			return nil, fmt.Errorf("%w: tencent kline volume %q: %v", apperrors.ErrDataSource, cols[5], err)
		}
		bar.Volume = lots.Mul(decimal.NewFromInt(100)).IntPart()
		prevClose = bar.Close

		if !date.Before(start) && !date.After(end) {
			bars = append(bars, bar)
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: tencent returned no bars for %s in [%s, %s]",
			apperrors.ErrNoData, symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return bars, nil
}

func adjustOrNone(adjust string) string {
	if adjust == "" {
		return "none"
	}
	return adjust
}

// GetRealtimeQuotes fetches a comma-joined batch of v_<code> strings.
func (t *TencentSource) GetRealtimeQuotes(ctx context.Context, symbols []string) ([]*core.Quote, error) {
	codes, back, err := vendorCodes(symbols)
	if err != nil {
		return nil, err
	}

	body, err := t.client.Get(ctx, tencentQuoteURL+strings.Join(codes, ","), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: tencent quote fetch: %v", apperrors.ErrDataSource, err)
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(body)
	if err != nil {
		decoded = body
	}

	quotes := make([]*core.Quote, 0, len(symbols))
	for _, line := range strings.Split(string(decoded), ";") {
		q, err := parseTencentLine(line, back)
		if err != nil {
			return nil, err
		}
		if q != nil {
			quotes = append(quotes, q)
		}
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: tencent returned no quotes for %v", apperrors.ErrNoData, symbols)
	}
	return quotes, nil
}

// parseTencentLine parses one `v_sh600036="1~招商银行~600036~..."` record.
// Tilde field positions: 1 name, 3 price, 4 pre_close, 5 open, 6 volume
// (lots), 9 bid1, 19 ask1, 30 timestamp, 33 high, 34 low.
func parseTencentLine(line string, back map[string]string) (*core.Quote, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	const prefix = "v_"
	if !strings.HasPrefix(line, prefix) {
		return nil, fmt.Errorf("%w: unexpected tencent line %q", apperrors.ErrDataSource, truncate(line, 60))
	}
	eq := strings.Index(line, "=")
	if eq < 0 {
		return nil, fmt.Errorf("%w: malformed tencent line %q", apperrors.ErrDataSource, truncate(line, 60))
	}
	code := line[len(prefix):eq]
	payload := strings.Trim(line[eq+1:], `"`)
	if payload == "" {
		return nil, nil
	}

	fields := strings.Split(payload, "~")
	if len(fields) < 35 {
		return nil, fmt.Errorf("%w: tencent quote for %s has %d fields", apperrors.ErrDataSource, code, len(fields))
	}
	symbol, ok := back[code]
	if !ok {
		return nil, nil
	}

	q := &core.Quote{Symbol: symbol}
	var err error
	if q.Price, err = decimal.NewFromString(fields[3]); err != nil {
		return nil, fmt.Errorf("%w: tencent price %q: %v", apperrors.ErrDataSource, fields[3], err)
	}
	if q.PrevClose, err = decimal.NewFromString(fields[4]); err != nil {
		return nil, fmt.Errorf("%w: tencent pre_close %q: %v", apperrors.ErrDataSource, fields[4], err)
	}
	if q.Open, err = decimal.NewFromString(fields[5]); err != nil {
		return nil, fmt.Errorf("%w: tencent open %q: %v", apperrors.ErrDataSource, fields[5], err)
	}
	lots, err := decimal.NewFromString(fields[6])
	if err != nil {
		return nil, fmt.Errorf("%w: tencent volume %q: %v", apperrors.ErrDataSource, fields[6], err)
	}
	q.Volume = lots.Mul(decimal.NewFromInt(100)).IntPart()
	if q.Bid, err = decimal.NewFromString(fields[9]); err != nil {
		return nil, fmt.Errorf("%w: tencent bid %q: %v", apperrors.ErrDataSource, fields[9], err)
	}
	if q.Ask, err = decimal.NewFromString(fields[19]); err != nil {
		return nil, fmt.Errorf("%w: tencent ask %q: %v", apperrors.ErrDataSource, fields[19], err)
	}
	if q.High, err = decimal.NewFromString(fields[33]); err != nil {
		return nil, fmt.Errorf("%w: tencent high %q: %v", apperrors.ErrDataSource, fields[33], err)
	}
	if q.Low, err = decimal.NewFromString(fields[34]); err != nil {
		return nil, fmt.Errorf("%w: tencent low %q: %v", apperrors.ErrDataSource, fields[34], err)
	}
	ts, err := time.ParseInLocation("20060102150405", fields[30], market.ExchangeTZ())
	if err != nil {
		ts = time.Now()
	}
	q.Timestamp = ts
	return q, nil
}

// GetCompanyInfo derives name and market from the quote record.
func (t *TencentSource) GetCompanyInfo(ctx context.Context, symbol string) (*core.CompanyInfo, error) {
	code, err := vendorCode(symbol)
	if err != nil {
		return nil, err
	}
	body, err := t.client.Get(ctx, tencentQuoteURL+code, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: tencent company fetch for %s: %v", apperrors.ErrDataSource, symbol, err)
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(body)
	if err != nil {
		decoded = body
	}
	line := strings.TrimSpace(strings.TrimSuffix(string(decoded), ";"))
	eq := strings.Index(line, "=")
	if eq < 0 {
		return nil, fmt.Errorf("%w: malformed tencent company line for %s", apperrors.ErrDataSource, symbol)
	}
	payload := strings.Trim(line[eq+1:], `"`)
	fields := strings.Split(payload, "~")
	if len(fields) < 2 || fields[1] == "" {
		return nil, fmt.Errorf("%w: tencent has no record for %s", apperrors.ErrNoData, symbol)
	}
	return &core.CompanyInfo{
		Symbol: symbol,
		Name:   fields[1],
		Market: marketLabel(symbol),
	}, nil
}
