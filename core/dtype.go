package core

import (
	"strings"

	"github.com/sbl8/p9ml/errors"
)

// DType is the numeric type tag carried by every tensor.
type DType uint8

const (
	F32 DType = iota
	F16
	Q4_0
	Q4_1
	Q4K
	Q8_0
	I32
)

var dtypeNames = [...]string{
	F32:  "f32",
	F16:  "f16",
	Q4_0: "q4_0",
	Q4_1: "q4_1",
	Q4K:  "q4_K",
	Q8_0: "q8_0",
	I32:  "i32",
}

var dtypeBits = [...]int{
	F32:  32,
	F16:  16,
	Q4_0: 4,
	Q4_1: 4,
	Q4K:  4,
	Q8_0: 8,
	I32:  32,
}

// String returns the short type name, e.g. "f32" or "q4_K".
func (d DType) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return "unknown"
}

// Bits returns the nominal bits per element.
func (d DType) Bits() int {
	if int(d) < len(dtypeBits) {
		return dtypeBits[d]
	}
	return 0
}

// IsFloat reports whether d is one of the floating-point types whose
// elements can be read and perturbed in place.
func (d DType) IsFloat() bool {
	return d == F32 || d == F16
}

// StorageSize returns the bytes needed to hold n elements of type d.
func (d DType) StorageSize(n int64) int64 {
	bits := int64(d.Bits())
	return (n*bits + 7) / 8
}

// ParseDType parses a type name as produced by String. Matching is case
// insensitive.
func ParseDType(s string) (DType, error) {
	for i, name := range dtypeNames {
		if strings.EqualFold(name, s) {
			return DType(i), nil
		}
	}
	return 0, errors.InvalidArgumentf("unknown dtype %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d DType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DType) UnmarshalText(text []byte) error {
	parsed, err := ParseDType(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
