package fixedpoint

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

var (
	ten = big.NewInt(10)

	// WAD is the 1e18 fixed-point scale used for lltv and IRM rates.
	WAD = new(big.Int).Exp(ten, big.NewInt(18), nil)
	// OracleScale is the 1e36 scale of Morpho oracle prices.
	OracleScale = new(big.Int).Exp(ten, big.NewInt(36), nil)
	// SecondsPerYear is a 365-day year.
	SecondsPerYear = big.NewInt(31_536_000)

	// precomputed 10^dec for typical ERC20 decimals (0..18)
	precomputedScales [19]*big.Int

	bigIntPool = sync.Pool{
		New: func() any {
			return new(big.Int)
		},
	}

	// ErrDivisionByZero is returned when a conversion is asked to divide by zero.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	// ErrNilOperand is returned when a nil pointer is passed as an operand.
	ErrNilOperand = errors.New("fixedpoint: nil operand")
	// ErrNegativeOperand is returned for operands below zero; on-chain quantities are unsigned.
	ErrNegativeOperand = errors.New("fixedpoint: negative operand")
	// ErrOverflow is returned when a uint256 result does not fit in 256 bits.
	ErrOverflow = errors.New("fixedpoint: result overflows uint256")
)

func init() {
	precomputedScales[0] = big.NewInt(1)
	for i := 1; i < len(precomputedScales); i++ {
		precomputedScales[i] = new(big.Int).Mul(precomputedScales[i-1], ten)
	}
}

// ScaleOf returns 10^dec. The returned value MUST NOT be modified.
func ScaleOf(dec uint8) *big.Int {
	if int(dec) < len(precomputedScales) {
		return precomputedScales[dec]
	}
	return new(big.Int).Exp(ten, big.NewInt(int64(dec)), nil)
}

// MulDivDown returns floor(a * b / denominator) as a freshly allocated *big.Int.
// The product is computed at full precision, so it never overflows.
func MulDivDown(a, b, denominator *big.Int) (*big.Int, error) {
	if a == nil || b == nil || denominator == nil {
		return nil, ErrNilOperand
	}
	if a.Sign() < 0 || b.Sign() < 0 || denominator.Sign() < 0 {
		return nil, ErrNegativeOperand
	}
	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}

	product := bigIntPool.Get().(*big.Int)
	defer bigIntPool.Put(product)

	product.Mul(a, b)
	// Quo truncates toward zero, which is floor for non-negative operands.
	return new(big.Int).Quo(product, denominator), nil
}

// MulDivDownU256 is MulDivDown over 256-bit words. The intermediate product
// is 512 bits wide; only a quotient above 2^256-1 is an error.
func MulDivDownU256(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil || denominator == nil {
		return nil, ErrNilOperand
	}
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// ToU256 converts a non-negative *big.Int that fits in 256 bits.
func ToU256(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return nil, ErrNilOperand
	}
	if x.Sign() < 0 {
		return nil, ErrNegativeOperand
	}
	z, overflow := uint256.FromBig(x)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Ratio returns num/den as a float64, the one place fixed-point values leave
// integer arithmetic. A zero denominator yields 0.
func Ratio(num, den *big.Int) float64 {
	if num == nil || den == nil || den.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(num, den).Float64()
	return f
}
