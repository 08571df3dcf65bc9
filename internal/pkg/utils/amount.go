package utils

import (
	"regexp"
	"strconv"
	"strings"
)

// amountPattern matches the first numeric-looking token in a chat message,
// with an optional leading "$" and thousands separators ("150", "$1,250.50").
var amountPattern = regexp.MustCompile(`\$?\s*((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?)`)

const maxDetectableAmount = 1_000_000

// DetectAmount pulls a USD amount out of free-text chat input. The parse is
// optimistic: any numeric-looking token is accepted, because the amount still
// has to survive an explicit confirmation round before it binds the ticket.
func DetectAmount(message string) (float64, bool) {
	m := amountPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}

	raw := strings.ReplaceAll(m[1], ",", "")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	if amount <= 0 || amount > maxDetectableAmount {
		return 0, false
	}
	return amount, true
}
