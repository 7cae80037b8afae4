// Package rational implements exact fraction arithmetic over int32
// numerator/denominator pairs, used throughout the compiler for musical
// durations and time positions where floating point drift is unacceptable.
package rational

import (
	"fmt"
	"math"
)

// Rational32 is a reduced-on-demand signed fraction Numer/Denom. The zero
// value is not a valid fraction (Denom == 0); always construct via New or
// Zero.
type Rational32 struct {
	Numer int32
	Denom int32
}

// Zero returns the additive identity 0/1.
func Zero() Rational32 {
	return Rational32{0, 1}
}

// FromInt returns n/1.
func FromInt(n int32) Rational32 {
	return Rational32{n, 1}
}

func gcd(a, b int32) int32 {
	if b == 0 {
		if a < 0 {
			return -a
		}
		return a
	}
	return gcd(b, a%b)
}

func lcm(a, b int32) int32 {
	g := int64(gcd(a, b))
	a64, b64 := int64(a), int64(b)
	l := a64 / g * b64
	if l < 0 {
		l = -l
	}
	if l > math.MaxInt32 {
		panic("rational: LCM overflow")
	}
	return int32(l)
}

// New constructs num/denom, normalising the sign onto the numerator so the
// denominator is always positive. Panics if denom is zero — an
// unrecoverable fault per the compiler's contract, unreachable for the
// bounded small-integer inputs the language produces.
func New(num, denom int32) Rational32 {
	if denom == 0 {
		panic("rational: denominator cannot be zero")
	}
	if denom < 0 {
		return Rational32{-num, -denom}
	}
	return Rational32{num, denom}
}

// IsZero reports whether the numerator is zero (denominator irrelevant).
func (r Rational32) IsZero() bool {
	return r.Numer == 0
}

// Reduce divides by the GCD of numerator and denominator and ensures a
// positive denominator.
func (r Rational32) Reduce() Rational32 {
	g := gcd(r.Numer, r.Denom)
	if g == 0 {
		g = 1
	}
	num := r.Numer / g
	den := r.Denom / g
	if den < 0 {
		num, den = -num, -den
	}
	return Rational32{num, den}
}

// ReductTo rescales r to a denominator compatible with denom (their LCM)
// without performing a final GCD reduction beyond that. Panics if denom is
// zero.
func (r Rational32) ReductTo(denom int32) Rational32 {
	if denom == 0 {
		panic("rational: denominator cannot be zero")
	}
	reduced := r.Reduce()
	absDenom := reduced.Denom
	absTarget := denom
	if absTarget < 0 {
		absTarget = -absTarget
	}
	target := lcm(absDenom, absTarget)
	factor := target / absDenom
	return Rational32{checked32(int64(reduced.Numer) * int64(factor)), target}
}

func checked32(v int64) int32 {
	if v > math.MaxInt32 || v < math.MinInt32 {
		panic("rational: overflow")
	}
	return int32(v)
}

// Add returns r + other, using the LCM of reduced denominators.
func (r Rational32) Add(other Rational32) Rational32 {
	lhs := r.Reduce()
	rhs := other.Reduce()
	common := lcm(lhs.Denom, rhs.Denom)
	lf := common / lhs.Denom
	rf := common / rhs.Denom
	num := checked32(int64(lhs.Numer)*int64(lf) + int64(rhs.Numer)*int64(rf))
	return Rational32{num, common}
}

// Sub returns r - other.
func (r Rational32) Sub(other Rational32) Rational32 {
	return r.Add(other.Neg())
}

// Neg returns -r.
func (r Rational32) Neg() Rational32 {
	return Rational32{-r.Numer, r.Denom}
}

// Mul returns r * other, cross-cancelling common factors before
// multiplying to minimise overflow risk.
func (r Rational32) Mul(other Rational32) Rational32 {
	lhs := r.Reduce()
	rhs := other.Reduce()
	g1 := gcd(lhs.Numer, rhs.Denom)
	if g1 == 0 {
		g1 = 1
	}
	g2 := gcd(rhs.Numer, lhs.Denom)
	if g2 == 0 {
		g2 = 1
	}
	lhsNum := lhs.Numer / g1
	lhsDen := lhs.Denom / g2
	rhsNum := rhs.Numer / g2
	rhsDen := rhs.Denom / g1
	num := checked32(int64(lhsNum) * int64(rhsNum))
	den := checked32(int64(lhsDen) * int64(rhsDen))
	return Rational32{num, den}
}

// MulInt returns r * n.
func (r Rational32) MulInt(n int32) Rational32 {
	num := checked32(int64(r.Numer) * int64(n))
	return Rational32{num, r.Denom}
}

// Div returns r / other. Panics if other's numerator is zero.
func (r Rational32) Div(other Rational32) Rational32 {
	if other.Numer == 0 {
		panic("rational: cannot divide by zero")
	}
	num := checked32(int64(r.Numer) * int64(other.Denom))
	den := checked32(int64(r.Denom) * int64(other.Numer))
	return Rational32{num, den}
}

// Float32 converts to float32.
func (r Rational32) Float32() float32 {
	return float32(r.Numer) / float32(r.Denom)
}

// Float64 converts to float64.
func (r Rational32) Float64() float64 {
	return float64(r.Numer) / float64(r.Denom)
}

// Eq reports whether r and other represent the same value in reduced form.
func (r Rational32) Eq(other Rational32) bool {
	a, b := r.Reduce(), other.Reduce()
	return a.Numer == b.Numer && a.Denom == b.Denom
}

// Cmp compares r and other via cross-multiplication of reduced forms,
// returning -1, 0, or 1.
func (r Rational32) Cmp(other Rational32) int {
	a, b := r.Reduce(), other.Reduce()
	lhs := int64(a.Numer) * int64(b.Denom)
	rhs := int64(b.Numer) * int64(a.Denom)
	switch {
	case lhs < rhs:
		return -1
	case lhs > rhs:
		return 1
	default:
		return 0
	}
}

func (r Rational32) String() string {
	return fmt.Sprintf("%d/%d", r.Numer, r.Denom)
}
