package bson

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimal128 is this module's binary-integer-decimal value: a sign, an
// unscaled integer coefficient, and a base-10 exponent, serialized into
// the spec's 16-byte slot as sign(1) ‖ exponent int16 LE(2) ‖
// coefficient big-endian(13). This is a practical subset of IEEE
// 754-2008 decimal128 (which reserves bits for a combination field and
// supports 34 significant digits via a 113-bit coefficient); this
// module caps the coefficient at 104 bits (~31 decimal digits) to fit
// the same 16-byte wire slot without a full bit-level decimal128
// encoder. Coefficients that do not fit are rejected at construction
// time per spec §9 open question (b).
type Decimal128 struct {
	negative    bool
	coefficient big.Int
	exponent    int16
}

// maxCoefficientBits is the cap described above (13 bytes).
const maxCoefficientBits = 104

var maxCoefficient = func() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), maxCoefficientBits)
	return max.Sub(max, big.NewInt(1))
}()

// Decimal128FromString parses a base-10 literal (optionally signed,
// with an optional fractional part) into a Decimal128. Returns an
// error if the coefficient's precision exceeds what this module's
// 16-byte encoding can hold.
func Decimal128FromString(s string) (Decimal128, error) {
	orig := s
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	exponent := 0
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		frac := s[dot+1:]
		exponent = -len(frac)
		s = s[:dot] + frac
	}
	if s == "" {
		return Decimal128{}, fmt.Errorf("bson: invalid decimal literal %q", orig)
	}
	coeff, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Decimal128{}, fmt.Errorf("bson: invalid decimal literal %q", orig)
	}
	if coeff.CmpAbs(maxCoefficient) > 0 {
		return Decimal128{}, fmt.Errorf("%w: decimal %q exceeds supported precision", ErrInvalidArgument, orig)
	}
	if exponent < -32768 || exponent > 32767 {
		return Decimal128{}, fmt.Errorf("%w: decimal %q exponent out of range", ErrInvalidArgument, orig)
	}
	return Decimal128{negative: neg, coefficient: *coeff, exponent: int16(exponent)}, nil
}

// Float64 returns the nearest float64 approximation.
func (d Decimal128) Float64() float64 {
	f := new(big.Float).SetInt(&d.coefficient)
	scale := new(big.Float).SetFloat64(pow10(int(d.exponent)))
	f.Mul(f, scale)
	v, _ := f.Float64()
	if d.negative {
		v = -v
	}
	return v
}

func pow10(exp int) float64 {
	r := 1.0
	if exp >= 0 {
		for i := 0; i < exp; i++ {
			r *= 10
		}
		return r
	}
	for i := 0; i < -exp; i++ {
		r /= 10
	}
	return r
}

func (d Decimal128) String() string {
	s := d.coefficient.String()
	if d.negative && s != "0" {
		s = "-" + s
	}
	if d.exponent == 0 {
		return s
	}
	return fmt.Sprintf("%sE%d", s, d.exponent)
}

// Equal reports value equality (sign, coefficient, and exponent all
// equal — this module does not normalize equivalent representations
// such as 1E2 vs 10E1).
func (d Decimal128) Equal(o Decimal128) bool {
	return d.negative == o.negative && d.exponent == o.exponent && d.coefficient.Cmp(&o.coefficient) == 0
}

func (d Decimal128) encode() [16]byte {
	var out [16]byte
	if d.negative {
		out[0] = 1
	}
	exp := uint16(d.exponent)
	out[1] = byte(exp)
	out[2] = byte(exp >> 8)
	b := d.coefficient.Bytes() // big-endian, no leading zero byte
	copy(out[16-len(b):16], b) // right-align within out[3:16]'s 13-byte window
	return out
}

func decodeDecimal128(b [16]byte) Decimal128 {
	neg := b[0] == 1
	exp := int16(uint16(b[1]) | uint16(b[2])<<8)
	coeff := new(big.Int).SetBytes(b[3:16])
	return Decimal128{negative: neg, coefficient: *coeff, exponent: exp}
}
