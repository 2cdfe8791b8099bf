// Package floatx implements the reduced-precision scalar formats used
// for optimizer state storage.
//
// Both formats are stored as uint16 and converted through float32 for
// arithmetic. Encoding rounds to nearest, ties to even, so repeated
// read-modify-write cycles behave like genuine reduced-precision
// hardware storage.
package floatx

import "math"

// BFloat16 is a Brain Float 16 value: the top 16 bits of a float32.
//
// Layout: 1 sign bit, 8 exponent bits, 7 mantissa bits. Same dynamic
// range as float32, roughly 2-3 significant decimal digits. The format
// of choice for ML training state, where range matters more than
// resolution.
type BFloat16 uint16

// ToFloat32 expands b to float32. Exact: bfloat16 is truncated float32.
func (b BFloat16) ToFloat32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// FromFloat32 encodes f as BFloat16 with round-to-nearest-even.
func FromFloat32(f float32) BFloat16 {
	bits := math.Float32bits(f)

	// NaN: keep the sign, force a quiet NaN so the mantissa cannot
	// round to zero and turn the value into an infinity.
	if bits&0x7FFFFFFF > 0x7F800000 {
		return BFloat16((bits >> 16) | 0x0040)
	}

	// Round to nearest even: bit 15 is the rounding bit, bit 16 the
	// lowest surviving mantissa bit.
	bits += 0x7FFF + ((bits >> 16) & 1)
	return BFloat16(bits >> 16)
}

// IsNaN reports whether b encodes a NaN.
func (b BFloat16) IsNaN() bool {
	return b&0x7F80 == 0x7F80 && b&0x7F != 0
}
