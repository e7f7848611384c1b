// Package priceutil derives human-readable prices from a Uniswap-v3/v4
// sqrtPriceX96 and rounds them to a fixed number of significant digits.
// Grounded on duongtuttbn-toolkit/utils/big_int.go's use of
// github.com/shopspring/decimal for fixed-point arithmetic over *big.Int
// amounts, generalized from decimal-place rounding (.Round(n)) to
// significant-digit rounding, which the toolkit does not need but this
// domain does (a price can be 0.0000001234 or 1234000).
package priceutil

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// two96 is 2^96, the Q96 fixed-point scale Uniswap encodes sqrtPriceX96 in.
var two96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// SqrtPriceX96ToPrice returns price(currency0 -> currency1), i.e. how many
// units of currency1 one unit of currency0 is worth, adjusted for decimals:
// (sqrtPriceX96 / 2^96)^2 * 10^(decimals0 - decimals1).
func SqrtPriceX96ToPrice(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8) decimal.Decimal {
	ratio := new(big.Float).SetInt(sqrtPriceX96)
	ratio.Quo(ratio, two96)
	ratio.Mul(ratio, ratio)

	price, _ := decimal.NewFromString(ratio.Text('f', 50))

	shift := int32(decimals0) - int32(decimals1)
	return price.Shift(shift)
}

// Invert returns 1/price, used to derive price(currency1 -> currency0) from
// price(currency0 -> currency1) without re-deriving from sqrtPriceX96.
func Invert(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(price, 60)
}

// RoundSignificant rounds d to n significant digits (n=6 per spec), unlike
// decimal.Decimal.Round which rounds to n digits after the decimal point.
func RoundSignificant(d decimal.Decimal, n int32) decimal.Decimal {
	if d.IsZero() || n <= 0 {
		return d
	}

	sign := int64(1)
	if d.IsNegative() {
		sign = -1
		d = d.Neg()
	}

	exponent := magnitude(d)
	// Round to n significant digits means rounding to (n - 1 - exponent)
	// digits after the decimal point.
	scale := n - 1 - exponent
	rounded := d.Round(scale)

	if sign < 0 {
		rounded = rounded.Neg()
	}
	return rounded
}

// magnitude returns floor(log10(|d|)) for a positive, nonzero d.
func magnitude(d decimal.Decimal) int32 {
	coeff := d.Coefficient()
	exp := d.Exponent()
	digits := int32(len(coeff.String()))
	return digits - 1 + exp
}
