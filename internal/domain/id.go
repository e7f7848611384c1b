package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ComparableCurrencies returns a and b in the order PoolKey.Currency0/
// Currency1 must have: currency0 < currency1 as unsigned 160-bit integers.
// ok is false only when a and b are the same currency.
func ComparableCurrencies(a, b string) (lo, hi string, ok bool) {
	ai := new(big.Int).SetBytes(common.HexToAddress(a).Bytes())
	bi := new(big.Int).SetBytes(common.HexToAddress(b).Bytes())

	switch ai.Cmp(bi) {
	case 0:
		return a, b, false // identical currencies are never a valid pool
	case -1:
		return a, b, true
	default:
		return b, a, true
	}
}

// ComputePoolId derives the deterministic digest identifying a pool, the way
// Uniswap v4 hashes its PoolKey: keccak256 over the ABI-packed tuple
// (currency0, currency1, fee, tickSpacing, hooks).
func ComputePoolId(currency0, currency1 string, feeTier uint32, tickSpacing int32, hook string) PoolId {
	packed := make([]byte, 0, 20+20+3+3+20)
	packed = append(packed, common.HexToAddress(currency0).Bytes()...)
	packed = append(packed, common.HexToAddress(currency1).Bytes()...)
	packed = append(packed, leftPadUint32(feeTier, 3)...)
	packed = append(packed, leftPadInt32(tickSpacing, 3)...)
	packed = append(packed, common.HexToAddress(hook).Bytes()...)

	digest := crypto.Keccak256(packed)
	return PoolId(fmt.Sprintf("0x%x", digest))
}

func leftPadUint32(v uint32, width int) []byte {
	b := big.NewInt(int64(v)).Bytes()
	return leftPad(b, width)
}

func leftPadInt32(v int32, width int) []byte {
	// fee/tickSpacing are packed as raw 24-bit two's-complement the way the
	// Solidity ABI encodes int24.
	u := uint32(v) & 0xFFFFFF
	return leftPadUint32(u, width)
}

func leftPad(b []byte, width int) []byte {
	if len(b) >= width {
		return b[len(b)-width:]
	}
	out := make([]byte, width)
	copy(out[width-len(b):], b)
	return out
}

// LowerAddress normalizes an address for use as a storage key.
func LowerAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsZeroAddress reports whether addr denotes the chain's native currency.
func IsZeroAddress(addr string) bool {
	return common.HexToAddress(addr) == (common.Address{})
}
