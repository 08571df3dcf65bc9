package domain

// FeeOption is the payment path a party picks for the ticket fee.
type FeeOption string

const (
	FeeOptionNoneYet  FeeOption = "none-yet"
	FeeOptionWithFees FeeOption = "with-fees"
	FeeOptionUsePass  FeeOption = "use-pass"
)

// Fee tier bounds (inclusive lower bounds), as configured by the operator.
const (
	feeTier1Bound = 10.0  // below: free
	feeTier2Bound = 50.0  // [10, 50): $0.50
	feeTier3Bound = 250.0 // [50, 250): $2, at and above: 1%
	feeTier2Flat  = 0.50
	feeTier3Flat  = 2.00
	feeTier4Rate  = 0.01

	erc20Surcharge = 1.00
)

// FeeQuote is the computed fee structure for a ticket amount.
type FeeQuote struct {
	AmountUSD float64 `json:"amount_usd"`
	TierFee   float64 `json:"tier_fee"`
	Surcharge float64 `json:"surcharge"`
	Total     float64 `json:"total"`
	Waived    bool    `json:"waived"`
}

// ComputeFee maps (amount, currency) to a fee quote. Pure and deterministic.
func ComputeFee(amountUSD float64, currency Currency) FeeQuote {
	q := FeeQuote{AmountUSD: amountUSD}

	switch {
	case amountUSD < feeTier1Bound:
		q.TierFee = 0
	case amountUSD < feeTier2Bound:
		q.TierFee = feeTier2Flat
	case amountUSD < feeTier3Bound:
		q.TierFee = feeTier3Flat
	default:
		q.TierFee = amountUSD * feeTier4Rate
	}

	if currency.IsERC20Token() {
		q.Surcharge = erc20Surcharge
	}

	q.Total = q.TierFee + q.Surcharge
	return q
}

// Waive marks the quote as fully covered by a redeemed pass.
func (q FeeQuote) Waive() FeeQuote {
	q.Waived = true
	q.Total = 0
	return q
}
