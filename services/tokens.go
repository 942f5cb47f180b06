package services

import "strings"

// Common token mint addresses on mainnet. SOL maps to the wrapped SOL mint —
// Jupiter and the token program only understand the wrapped form.
var Tokens = map[string]string{
	"SOL":      "So11111111111111111111111111111111111111112",
	"USDC":     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"USDT":     "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
	"BONK":     "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
	"WIF":      "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm",
	"JUP":      "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN",
	"FARTCOIN": "9BB6NFEcjBCtnNLFko2FqVQBq8HHM13kCyYcdQbgpump",
}

var tokenDecimals = map[string]uint8{
	"SOL":      9,
	"USDC":     6,
	"USDT":     6,
	"BONK":     5,
	"WIF":      6,
	"JUP":      6,
	"FARTCOIN": 6,
}

// MintRef is the resolved form of a token-or-address input string.
type MintRef struct {
	Address string
	Symbol  string // empty when the input was a raw custom address
	Known   bool
}

// ResolveMint normalizes a user-supplied token reference. A known symbol
// (case-insensitive for the fixed table) resolves to its mint address; any
// other string is treated as a raw mint address.
func ResolveMint(input string) MintRef {
	if addr, ok := Tokens[strings.ToUpper(input)]; ok {
		return MintRef{Address: addr, Symbol: strings.ToUpper(input), Known: true}
	}
	// A raw address that happens to be one of the known mints still maps back
	// to its symbol so balance maps key consistently.
	if sym, ok := SymbolForMint(input); ok {
		return MintRef{Address: input, Symbol: sym, Known: true}
	}
	return MintRef{Address: input}
}

// SymbolForMint maps a mint address back to its known symbol.
func SymbolForMint(mint string) (string, bool) {
	for sym, addr := range Tokens {
		if addr == mint {
			return sym, true
		}
	}
	return "", false
}

// DecimalsForSymbol returns the decimal scale for a known symbol, defaulting
// to 9 (the native scale) for anything unknown.
func DecimalsForSymbol(symbol string) uint8 {
	if d, ok := tokenDecimals[symbol]; ok {
		return d
	}
	return 9
}
