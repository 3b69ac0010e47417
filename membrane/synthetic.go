package membrane

import (
	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/noise"
	"github.com/sbl8/p9ml/runtime"
)

// GenerateSynthetic allocates an F32 tensor of the given shape in ctx and
// fills every element with noise in [-scale, +scale]. A nil gen draws from
// ctx.Generator(), so successive calls return different tensors.
//
// A bad shape or a nil argument is ErrInvalidArgument. A context too small
// for the tensor is ErrAllocationFailure, not ErrInvalidArgument.
func GenerateSynthetic(ctx *runtime.Context, shape []int64, scale float32, gen *noise.Generator) (*core.Tensor, error) {
	if ctx == nil || shape == nil {
		return nil, errors.InvalidArgumentf("generate synthetic: context or shape is nil")
	}
	if len(shape) < 1 || len(shape) > core.MaxRank {
		return nil, errors.InvalidArgumentf("generate synthetic: rank %d outside [1,%d]", len(shape), core.MaxRank)
	}
	t, err := ctx.NewNamedTensor("synthetic", core.F32, shape...)
	if err != nil {
		return nil, errors.Wrap(err, "generate synthetic")
	}
	if gen == nil {
		gen = ctx.Generator()
	}
	gen.Fill(t.Float32s(), scale)
	return t, nil
}
