package floatx

import "math"

// Float16 is an IEEE 754 binary16 value: 1 sign bit, 5 exponent bits,
// 10 mantissa bits. More resolution than BFloat16 but a far smaller
// exponent range (max ~65504, min normal ~6.1e-5), so small gradient
// updates underflow sooner.
type Float16 uint16

// ToFloat32 expands h to float32.
func (h Float16) ToFloat32() float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h) & 0x3FF

	switch {
	case exp == 0:
		if frac == 0 {
			return math.Float32frombits(sign) // signed zero
		}
		// Subnormal: normalize into the float32 exponent range.
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		exp++
		frac &= 0x3FF
		return math.Float32frombits(sign | (exp+127-15)<<23 | frac<<13)
	case exp == 31:
		// Inf / NaN.
		return math.Float32frombits(sign | 0x7F800000 | frac<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | frac<<13)
	}
}

// FromFloat32Half encodes f as Float16 with round-to-nearest-even.
// Values beyond the half range become infinities; tiny values flush
// through the subnormal range to zero.
func FromFloat32Half(f float32) Float16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int(bits>>23&0xFF) - 127
	frac := bits & 0x7FFFFF

	switch {
	case exp == 128:
		if frac == 0 {
			return Float16(sign | 0x7C00)
		}
		nan := uint16(frac >> 13)
		if nan == 0 {
			nan = 1 // keep NaN-ness after truncation
		}
		return Float16(sign | 0x7C00 | nan)
	case exp > 15:
		return Float16(sign | 0x7C00) // overflow to infinity
	case exp >= -14:
		// Normal range. Round to nearest even on the 13 dropped bits.
		mant := frac >> 13
		round := frac & 0x1FFF
		if round > 0x1000 || (round == 0x1000 && mant&1 == 1) {
			mant++
		}
		// Adding, not or-ing, lets a mantissa carry propagate into the
		// exponent (and into infinity at the top of the range).
		return Float16(sign | uint16(uint32(exp+15)<<10+mant))
	case exp >= -24:
		// Subnormal.
		frac |= 0x800000
		shift := uint(-exp - 1) // 13 + (-14 - exp)
		mant := frac >> shift
		if frac&(1<<(shift-1)) != 0 {
			mant++ // round half away is fine at the subnormal floor
		}
		return Float16(sign | uint16(mant))
	default:
		return Float16(sign) // underflow to signed zero
	}
}

// IsNaN reports whether h encodes a NaN.
func (h Float16) IsNaN() bool {
	return h&0x7C00 == 0x7C00 && h&0x3FF != 0
}
