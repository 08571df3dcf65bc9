package utils

import "regexp"

// Per-currency payout address patterns. Mainnet and testnet-style encodings
// are both accepted; the format check is a gate, not proof of ownership —
// the receiver still confirms the stored address explicitly.
var addressPatterns = map[string]*regexp.Regexp{
	"bitcoin":    regexp.MustCompile(`^(?:(?:bc1|tb1)[a-z0-9]{25,59}|[13mn2][a-km-zA-HJ-NP-Z1-9]{25,34})$`),
	"ethereum":   regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	"litecoin":   regexp.MustCompile(`^(?:ltc1[a-z0-9]{25,59}|[LM3][a-km-zA-HJ-NP-Z1-9]{26,33})$`),
	"solana":     regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`),
	"usdt-erc20": regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	"usdc-erc20": regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
}

// ValidatePayoutAddress reports whether address is plausibly valid for the
// given cryptocurrency.
func ValidatePayoutAddress(currency, address string) bool {
	pattern, ok := addressPatterns[currency]
	if !ok {
		return false
	}
	return pattern.MatchString(address)
}
