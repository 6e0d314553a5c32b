// Package datasource implements the market-data capability: three HTTP
// quote providers (Sina, Tencent, EastMoney), a manager that layers the
// fallback chain, rate limits and the persistent cache on top, a realtime
// poll feed, and a pool-based cache warmer.
package datasource

import (
	"fmt"

	"quant_trader/internal/market"
	apperrors "quant_trader/pkg/errors"
)

// vendorCode converts a canonical symbol to the lowercase exchange-prefix
// form Sina and Tencent use ("600036.SH" -> "sh600036").
func vendorCode(symbol string) (string, error) {
	sym, err := market.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	switch sym.Exchange {
	case market.ExchangeSH:
		return "sh" + sym.Code, nil
	case market.ExchangeSZ:
		return "sz" + sym.Code, nil
	case market.ExchangeHK:
		return "hk" + fmt.Sprintf("%05s", sym.Code), nil
	}
	return "", fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
}

// secID converts a canonical symbol to EastMoney's market-id form
// ("600036.SH" -> "1.600036", "000001.SZ" -> "0.000001").
func secID(symbol string) (string, error) {
	sym, err := market.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	switch sym.Exchange {
	case market.ExchangeSH:
		return "1." + sym.Code, nil
	case market.ExchangeSZ:
		return "0." + sym.Code, nil
	case market.ExchangeHK:
		return "116." + fmt.Sprintf("%05s", sym.Code), nil
	}
	return "", fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
}

// vendorCodes maps a symbol batch to vendor form, keyed back to the
// caller's canonical symbols so response rows can be re-labeled exactly as
// requested (response keys may be reordered or zero-padded differently).
func vendorCodes(symbols []string) ([]string, map[string]string, error) {
	codes := make([]string, 0, len(symbols))
	back := make(map[string]string, len(symbols))
	for _, s := range symbols {
		code, err := vendorCode(s)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		back[code] = s
	}
	return codes, back, nil
}
