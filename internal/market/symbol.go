// Package market encodes the exchange microstructure rules for Chinese
// A-share equities and ETFs: symbol format, board classification, daily
// price limits, board lots, price ticks and trading sessions.
package market

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "quant_trader/pkg/errors"
)

// Exchange is the listing venue, derived from the symbol suffix.
type Exchange string

const (
	ExchangeSH Exchange = "SH"
	ExchangeSZ Exchange = "SZ"
	ExchangeHK Exchange = "HK"
)

// Board classifies a symbol for price-limit purposes.
type Board string

const (
	BoardMain Board = "MAIN" // SH 60x, SZ 000/001
	BoardSTAR Board = "STAR" // SH 688
	BoardGEM  Board = "GEM"  // SZ 300
	BoardETF  Board = "ETF"  // SH 51x, SZ 15x
	BoardHK   Board = "HK"
)

var (
	mainlandPattern = regexp.MustCompile(`^[0-9]{6}\.(SH|SZ)$`)
	hkPattern       = regexp.MustCompile(`^[0-9]{1,5}\.HK$`)
)

// Symbol is a parsed instrument identifier of the form <digits>.<MIC>.
type Symbol struct {
	Code     string
	Exchange Exchange
}

// String reassembles the canonical form.
func (s Symbol) String() string {
	return s.Code + "." + string(s.Exchange)
}

// ParseSymbol validates and splits an identifier. Validation is strict:
// malformed input is rejected, never coerced.
func ParseSymbol(raw string) (Symbol, error) {
	switch {
	case mainlandPattern.MatchString(raw):
		parts := strings.SplitN(raw, ".", 2)
		return Symbol{Code: parts[0], Exchange: Exchange(parts[1])}, nil
	case hkPattern.MatchString(raw):
		parts := strings.SplitN(raw, ".", 2)
		return Symbol{Code: parts[0], Exchange: ExchangeHK}, nil
	default:
		return Symbol{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidSymbol, raw)
	}
}

// ValidateSymbol reports whether raw is a well-formed identifier.
func ValidateSymbol(raw string) error {
	_, err := ParseSymbol(raw)
	return err
}

// BoardOf derives the board from the code prefix alone. Callers that also
// know the instrument name should prefer Classify, which can recognize ETFs
// whose codes fall outside the 51/15 ranges.
func BoardOf(sym Symbol) Board {
	if sym.Exchange == ExchangeHK {
		return BoardHK
	}
	code := sym.Code
	switch sym.Exchange {
	case ExchangeSH:
		switch {
		case strings.HasPrefix(code, "688"):
			return BoardSTAR
		case strings.HasPrefix(code, "51"):
			return BoardETF
		default:
			return BoardMain
		}
	case ExchangeSZ:
		switch {
		case strings.HasPrefix(code, "300"):
			return BoardGEM
		case strings.HasPrefix(code, "15"):
			return BoardETF
		default:
			return BoardMain
		}
	}
	return BoardMain
}

// Classify derives the board using both code and display name: an
// instrument whose name contains "ETF" is an ETF regardless of code.
func Classify(sym Symbol, name string) Board {
	if strings.Contains(strings.ToUpper(name), "ETF") && sym.Exchange != ExchangeHK {
		return BoardETF
	}
	return BoardOf(sym)
}

// IsETF reports whether the symbol is an exchange-traded fund.
func IsETF(raw, name string) bool {
	sym, err := ParseSymbol(raw)
	if err != nil {
		return false
	}
	return Classify(sym, name) == BoardETF
}
