package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePayoutAddress(t *testing.T) {
	cases := []struct {
		name     string
		currency string
		address  string
		valid    bool
	}{
		{"btc bech32", "bitcoin", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", true},
		{"btc legacy", "bitcoin", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", true},
		{"btc p2sh", "bitcoin", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", true},
		{"btc garbage", "bitcoin", "bc1-not-valid", false},
		{"eth checksummed", "ethereum", "0x52908400098527886E0F7030069857D2E4169EE7", true},
		{"eth short", "ethereum", "0x5290840009852788", false},
		{"eth no prefix", "ethereum", "52908400098527886E0F7030069857D2E4169EE7", false},
		{"ltc bech32", "litecoin", "ltc1qhxkrsmgvnmutkc78cs7hf97rundcy2fcr2d2w3", true},
		{"ltc legacy", "litecoin", "LVg2kJoFNg45Nbpy53h7Fe1wKyeXVRhMH9", true},
		{"sol base58", "solana", "4Nd1mYvP1dKrsoMZFZ4U5Sedqo1v9c5dQkXyAMqrVFGa", true},
		{"sol with zero", "solana", "0OIl4Nd1mYvP1dKrsoMZFZ4U5Sedqo1v9c5dQkXy", false},
		{"usdt uses eth format", "usdt-erc20", "0x52908400098527886E0F7030069857D2E4169EE7", true},
		{"usdc uses eth format", "usdc-erc20", "0x52908400098527886E0F7030069857D2E4169EE7", true},
		{"unknown currency", "dogecoin", "DH5yaieqoZN36fDVciNyRueRGvGLR3mr7L", false},
		{"empty address", "bitcoin", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, ValidatePayoutAddress(tc.currency, tc.address))
		})
	}
}
