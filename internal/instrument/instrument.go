package instrument

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a derivative contract by settlement type
type Kind string

const (
	KindPerpetual Kind = "perpetual"
	KindDated     Kind = "dated"
)

// Quote currencies recognised as contract suffixes, longest first so that
// USDT/USDC win over USD
var quoteSuffixes = []string{"USDT", "USDC", "USD"}

var deliveryDate = regexp.MustCompile(`^\d{2}[A-Z]{3}\d{2}$`)

// Instrument is the parsed form of a raw contract symbol
type Instrument struct {
	Symbol     string `json:"symbol"`
	Base       string `json:"base"`
	Quote      string `json:"quote"`
	Kind       Kind   `json:"kind"`
	Multiplier int    `json:"multiplier"`        // 1 unless the symbol carries a 1000-style prefix
	Variant    string `json:"variant,omitempty"` // free-form tail segment, e.g. "A" in BTCUSDT-PERP-A
	Expiry     string `json:"expiry,omitempty"`  // delivery date segment for dated contracts
}

// Parse splits a raw exchange symbol into base asset, quote currency and
// contract kind.
//
//	BTCUSDT          -> BTC / USDT / perpetual
//	1000PEPEUSDT     -> PEPE / USDT / perpetual, multiplier 1000
//	ETHPERP          -> ETH / USDC / perpetual
//	BTC-26DEC25      -> BTC / USDC / dated
//	BTCUSDT-PERP-B   -> BTC / USDT / perpetual, variant B
//	1INCHUSDT        -> 1INCH / USDT / perpetual
//
// The base is never empty for a non-empty symbol; if stripping would consume
// everything the unstripped head is returned.
func Parse(raw string) Instrument {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	inst := Instrument{Symbol: symbol, Kind: KindPerpetual, Multiplier: 1}
	if symbol == "" {
		return inst
	}

	segments := strings.Split(symbol, "-")
	head := segments[0]
	for _, seg := range segments[1:] {
		switch {
		case seg == "":
		case seg == "PERP":
			inst.Kind = KindPerpetual
		case deliveryDate.MatchString(seg):
			inst.Kind = KindDated
			inst.Expiry = seg
		case quoteOf(seg) == seg:
			// OKX-style BTC-USDT-SWAP tails carry the quote as its own segment
			inst.Quote = seg
		default:
			if inst.Variant == "" {
				inst.Variant = seg
			} else {
				inst.Variant += "-" + seg
			}
		}
	}

	base := head
	switch {
	case strings.HasSuffix(base, "PERP") && len(base) > len("PERP"):
		// Bybit names USDC perpetuals BTCPERP, ETHPERP
		base = strings.TrimSuffix(base, "PERP")
		if inst.Quote == "" {
			inst.Quote = "USDC"
		}
	default:
		if q := quoteOf(base); q != "" && len(base) > len(q) {
			base = strings.TrimSuffix(base, q)
			inst.Quote = q
		}
	}

	if inst.Quote == "" && inst.Kind == KindDated {
		// dated linear contracts without an explicit quote settle in USDC
		inst.Quote = "USDC"
	}

	if m, rest := splitMultiplier(base); m > 1 {
		inst.Multiplier = m
		base = rest
	}

	if base == "" {
		base = head
	}
	inst.Base = base
	return inst
}

// BaseAsset returns only the base asset of a raw symbol
func BaseAsset(raw string) string {
	return Parse(raw).Base
}

// IsLinearPerpetual reports whether the contract is a perpetual settled in quote
func (i Instrument) IsLinearPerpetual(quote string) bool {
	return i.Kind == KindPerpetual && i.Quote == quote && i.Variant == ""
}

func quoteOf(s string) string {
	for _, q := range quoteSuffixes {
		if strings.HasSuffix(s, q) {
			return q
		}
	}
	return ""
}

// splitMultiplier detects a leading power-of-ten multiplier of at least 1000
// immediately followed by a letter.
func splitMultiplier(s string) (int, string) {
	if len(s) < 5 || s[0] != '1' {
		return 1, s
	}
	i := 1
	for i < len(s) && s[i] == '0' {
		i++
	}
	if i < 4 || i >= len(s) {
		return 1, s
	}
	if c := s[i]; c < 'A' || c > 'Z' {
		return 1, s
	}
	m, err := strconv.Atoi(s[:i])
	if err != nil {
		return 1, s
	}
	return m, s[i:]
}
