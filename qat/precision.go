package qat

import (
	"math"

	"github.com/sbl8/p9ml/errors"
)

// LargeTensorElements is the element count above which a tensor is eligible
// for aggressive bit-width reduction.
const LargeTensorElements = 1_000_000

// SmallTensorBits is the width kept for small tensors.
const SmallTensorBits = 16

// Bucket is a coarse precision class.
type Bucket int

const (
	BucketSmall Bucket = iota
	BucketLarge
)

func (b Bucket) String() string {
	if b == BucketLarge {
		return "large"
	}
	return "small"
}

// Assignment is the precision decision for one tensor.
type Assignment struct {
	Tensor   string
	Elements int64
	Bucket   Bucket
	Bits     int
}

// Classify places a tensor of n elements in a bucket and picks its bit
// width. threshold is the quality sensitivity in [0,1]: large tensors get
// 4 + round(4*threshold) bits, small tensors keep SmallTensorBits.
func Classify(n int64, threshold float64) (Bucket, int, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return BucketSmall, 0, err
	}
	if n > LargeTensorElements {
		return BucketLarge, 4 + int(math.Round(4*threshold)), nil
	}
	return BucketSmall, SmallTensorBits, nil
}

// ValidateThreshold checks that threshold lies in [0,1].
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return errors.InvalidArgumentf("quality threshold %g outside [0,1]", threshold)
	}
	return nil
}
