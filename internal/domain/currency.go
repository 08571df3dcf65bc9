package domain

import xerrors "trade-service/internal/pkg/xerrors"

// Currency enumerates the cryptocurrencies a ticket can trade. Immutable
// after ticket creation.
type Currency string

const (
	CurrencyBitcoin   Currency = "bitcoin"
	CurrencyEthereum  Currency = "ethereum"
	CurrencyLitecoin  Currency = "litecoin"
	CurrencySolana    Currency = "solana"
	CurrencyUSDTERC20 Currency = "usdt-erc20"
	CurrencyUSDCERC20 Currency = "usdc-erc20"
)

var allCurrencies = map[Currency]struct{}{
	CurrencyBitcoin:   {},
	CurrencyEthereum:  {},
	CurrencyLitecoin:  {},
	CurrencySolana:    {},
	CurrencyUSDTERC20: {},
	CurrencyUSDCERC20: {},
}

func ParseCurrency(s string) (Currency, error) {
	c := Currency(s)
	if _, ok := allCurrencies[c]; !ok {
		return "", xerrors.ErrInvalidCurrency
	}
	return c, nil
}

// IsERC20Token reports whether the currency carries the flat ERC-20 network
// surcharge on top of the fee tier.
func (c Currency) IsERC20Token() bool {
	return c == CurrencyUSDTERC20 || c == CurrencyUSDCERC20
}

func (c Currency) String() string { return string(c) }
