package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
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
	sinaQuoteURL = "https://hq.sinajs.cn/list="
	sinaKlineURL = "https://quotes.sina.cn/cn/api/json_v2.php/CN_MarketDataService.getKLineData"
)

// SinaSource crawls Sina's quote endpoints. The hq endpoint serves GBK
// text and rejects requests without a finance.sina.com.cn Referer.
type SinaSource struct {
	client *qhttp.Client
	logger core.ILogger
}

var _ core.IDataSource = (*SinaSource)(nil)

func NewSinaSource(cfg ProviderConfig, logger core.ILogger) *SinaSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProviderConfig().Timeout
	}
	headers := map[string]string{
		"Referer":    "https://finance.sina.com.cn",
		"User-Agent": "Mozilla/5.0 (X11; Linux x86_64)",
	}
	return &SinaSource{
		client: qhttp.NewClientWithRetries("", cfg.Timeout, headers, cfg.MaxRetries),
		logger: logger.WithField("component", "datasource").WithField("provider", "sina"),
	}
}

func (s *SinaSource) Name() string { return "sina" }

// GetDailyBars fetches unadjusted daily klines. Sina's kline service has
// no adjustment parameter, so adjusted requests fail over to the next
// provider in the chain.
func (s *SinaSource) GetDailyBars(ctx context.Context, symbol string, start, end time.Time, adjust string) ([]*core.Bar, error) {
	if adjust != "" && adjust != "none" {
		return nil, fmt.Errorf("%w: sina does not serve %s-adjusted bars", apperrors.ErrDataSource, adjust)
	}
	code, err := vendorCode(symbol)
	if err != nil {
		return nil, err
	}

	// scale=240 selects daily bars; datalen is capped by the venue at 1023.
	body, err := s.client.Get(ctx, sinaKlineURL, map[string]string{
		"symbol":  code,
		"scale":   "240",
		"ma":      "no",
		"datalen": "1023",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sina kline fetch for %s: %v", apperrors.ErrDataSource, symbol, err)
	}

	var rows []struct {
		Day    string `json:"day"`
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Close  string `json:"close"`
		Volume string `json:"volume"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: sina kline decode for %s: %v", apperrors.ErrDataSource, symbol, err)
	}

	bars := make([]*core.Bar, 0, len(rows))
	prevClose := decimal.Zero
	for _, r := range rows {
		date, err := time.Parse("2006-01-02", r.Day)
		if err != nil {
			return nil, fmt.Errorf("%w: sina kline date %q: %v", apperrors.ErrDataSource, r.Day, err)
		}
		bar := &core.Bar{
			Symbol:     symbol,
			TradeDate:  date,
			Frequency:  "1d",
			AdjustType: "none",
			PreClose:   prevClose,
		}
		if bar.Open, err = decimal.NewFromString(r.Open); err != nil {
			return nil, fmt.Errorf("%w: sina kline open %q: %v", apperrors.ErrDataSource, r.Open, err)
		}
		if bar.High, err = decimal.NewFromString(r.High); err != nil {
			return nil, fmt.Errorf("%w: sina kline high %q: %v", apperrors.ErrDataSource, r.High, err)
		}
		if bar.Low, err = decimal.NewFromString(r.Low); err != nil {
			return nil, fmt.Errorf("%w: sina kline low %q: %v", apperrors.ErrDataSource, r.Low, err)
		}
		if bar.Close, err = decimal.NewFromString(r.Close); err != nil {
			return nil, fmt.Errorf("%w: sina kline close %q: %v", apperrors.ErrDataSource, r.Close, err)
		}
		vol, err := decimal.NewFromString(r.Volume)
		if err != nil {
			return nil, fmt.Errorf("%w: sina kline volume %q: %v", apperrors.ErrDataSource, r.Volume, err)
		}
		bar.Volume = vol.IntPart()
		prevClose = bar.Close

		if !date.Before(start) && !date.After(end) {
			bars = append(bars, bar)
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: sina returned no bars for %s in [%s, %s]",
			apperrors.ErrNoData, symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return bars, nil
}

// GetRealtimeQuotes fetches a comma-joined batch from the hq endpoint.
func (s *SinaSource) GetRealtimeQuotes(ctx context.Context, symbols []string) ([]*core.Quote, error) {
	codes, back, err := vendorCodes(symbols)
	if err != nil {
		return nil, err
	}

	body, err := s.client.Get(ctx, sinaQuoteURL+strings.Join(codes, ","), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: sina quote fetch: %v", apperrors.ErrDataSource, err)
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(body)
	if err != nil {
		// Payload may already be UTF-8 (proxies re-encode); parse as-is.
		decoded = body
	}

	quotes := make([]*core.Quote, 0, len(symbols))
	for _, line := range strings.Split(string(decoded), "\n") {
		q, err := parseSinaLine(line, back)
		if err != nil {
			return nil, err
		}
		if q != nil {
			quotes = append(quotes, q)
		}
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: sina returned no quotes for %v", apperrors.ErrNoData, symbols)
	}
	return quotes, nil
}

// parseSinaLine parses one `var hq_str_sh600036="..."` line. Returns
// (nil, nil) for blank lines and suspended instruments (empty payload).
func parseSinaLine(line string, back map[string]string) (*core.Quote, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	const prefix = "var hq_str_"
	if !strings.HasPrefix(line, prefix) {
		return nil, fmt.Errorf("%w: unexpected sina line %q", apperrors.ErrDataSource, truncate(line, 60))
	}
	eq := strings.Index(line, "=")
	if eq < 0 {
		return nil, fmt.Errorf("%w: malformed sina line %q", apperrors.ErrDataSource, truncate(line, 60))
	}
	code := line[len(prefix):eq]
	payload := strings.Trim(strings.TrimSuffix(line[eq+1:], ";"), `"`)
	if payload == "" {
		return nil, nil
	}

	// name, open, pre_close, current, high, low, bid, ask, volume,
	// amount, ..., date (30), time (31)
	fields := strings.Split(payload, ",")
	if len(fields) < 32 {
		return nil, fmt.Errorf("%w: sina quote for %s has %d fields", apperrors.ErrDataSource, code, len(fields))
	}

	symbol, ok := back[code]
	if !ok {
		// Unrequested row; venue bug. Skip rather than invent a symbol.
		return nil, nil
	}

	q := &core.Quote{Symbol: symbol}
	var err error
	if q.Open, err = decimal.NewFromString(fields[1]); err != nil {
		return nil, fmt.Errorf("%w: sina open %q: %v", apperrors.ErrDataSource, fields[1], err)
	}
	if q.PrevClose, err = decimal.NewFromString(fields[2]); err != nil {
		return nil, fmt.Errorf("%w: sina pre_close %q: %v", apperrors.ErrDataSource, fields[2], err)
	}
	if q.Price, err = decimal.NewFromString(fields[3]); err != nil {
		return nil, fmt.Errorf("%w: sina price %q: %v", apperrors.ErrDataSource, fields[3], err)
	}
	if q.High, err = decimal.NewFromString(fields[4]); err != nil {
		return nil, fmt.Errorf("%w: sina high %q: %v", apperrors.ErrDataSource, fields[4], err)
	}
	if q.Low, err = decimal.NewFromString(fields[5]); err != nil {
		return nil, fmt.Errorf("%w: sina low %q: %v", apperrors.ErrDataSource, fields[5], err)
	}
	if q.Bid, err = decimal.NewFromString(fields[6]); err != nil {
		return nil, fmt.Errorf("%w: sina bid %q: %v", apperrors.ErrDataSource, fields[6], err)
	}
	if q.Ask, err = decimal.NewFromString(fields[7]); err != nil {
		return nil, fmt.Errorf("%w: sina ask %q: %v", apperrors.ErrDataSource, fields[7], err)
	}
	if q.Volume, err = strconv.ParseInt(fields[8], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: sina volume %q: %v", apperrors.ErrDataSource, fields[8], err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", fields[30]+" "+fields[31], market.ExchangeTZ())
	if err != nil {
		ts = time.Now()
	}
	q.Timestamp = ts
	return q, nil
}

// GetCompanyInfo derives the minimal record Sina exposes: the display name
// from the quote line.
func (s *SinaSource) GetCompanyInfo(ctx context.Context, symbol string) (*core.CompanyInfo, error) {
	code, err := vendorCode(symbol)
	if err != nil {
		return nil, err
	}
	body, err := s.client.Get(ctx, sinaQuoteURL+code, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: sina company fetch for %s: %v", apperrors.ErrDataSource, symbol, err)
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(body)
	if err != nil {
		decoded = body
	}
	line := strings.TrimSpace(string(decoded))
	eq := strings.Index(line, "=")
	if eq < 0 {
		return nil, fmt.Errorf("%w: malformed sina company line for %s", apperrors.ErrDataSource, symbol)
	}
	payload := strings.Trim(strings.TrimSuffix(line[eq+1:], ";"), `"`)
	if payload == "" {
		return nil, fmt.Errorf("%w: sina has no record for %s", apperrors.ErrNoData, symbol)
	}
	name := strings.SplitN(payload, ",", 2)[0]
	return &core.CompanyInfo{
		Symbol: symbol,
		Name:   name,
		Market: marketLabel(symbol),
	}, nil
}

func marketLabel(symbol string) string {
	switch {
	case strings.HasSuffix(symbol, ".SH"):
		return "SSE"
	case strings.HasSuffix(symbol, ".SZ"):
		return "SZSE"
	case strings.HasSuffix(symbol, ".HK"):
		return "HKEX"
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
