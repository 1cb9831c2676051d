package models

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimals between ether and wei.
const EtherDecimals = 18

// PriceToWei converts a display price in ether into wei. Prices with more than
// 18 decimals are rejected since they cannot be represented on chain.
func PriceToWei(price string) (*big.Int, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid price %q: negative", price)
	}
	wei := d.Shift(EtherDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("invalid price %q: more than %d decimals", price, EtherDecimals)
	}
	return wei.BigInt(), nil
}

// WeiToPrice formats a wei amount as an ether price without trailing zeros.
func WeiToPrice(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -EtherDecimals).String()
}

// ParseWei parses a base-10 wei string.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}

// PricesConsistent reports whether priceWei == price * 10^18.
func PricesConsistent(price, priceWei string) bool {
	expected, err := PriceToWei(price)
	if err != nil {
		return false
	}
	actual, err := ParseWei(priceWei)
	if err != nil {
		return false
	}
	return expected.Cmp(actual) == 0
}
