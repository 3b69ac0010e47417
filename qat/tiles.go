package qat

import (
	"iter"
	"math"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
)

// Tile is the half-open element range [Start, End) of a tensor.
type Tile struct {
	Start int64
	End   int64
}

// Len returns the number of elements in the tile.
func (t Tile) Len() int64 {
	return t.End - t.Start
}

// TileCount returns ceil(n/size), the number of tiles Tiles yields.
func TileCount(n int64, size int) (int64, error) {
	if size <= 0 {
		return 0, errors.InvalidArgumentf("tile size %d must be positive", size)
	}
	if n <= 0 {
		return 0, nil
	}
	step := int64(size)
	count := n / step
	if n%step != 0 {
		count++
	}
	return count, nil
}

// Tiles yields the contiguous tiles of n elements in order. Every tile but
// the last holds size elements. Nothing is yielded when n or size is not
// positive.
func Tiles(n int64, size int) iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		if size <= 0 {
			return
		}
		step := int64(size)
		for start := int64(0); start < n; start += step {
			end := n
			if n-start > step {
				end = start + step
			}
			if !yield(Tile{Start: start, End: end}) {
				return
			}
		}
	}
}

// TileProcessor is invoked once per tile. reference may be nil.
type TileProcessor interface {
	ProcessTile(t *core.Tensor, tile Tile, reference *core.Tensor) error
}

// TileProcessorFunc adapts a function to TileProcessor.
type TileProcessorFunc func(t *core.Tensor, tile Tile, reference *core.Tensor) error

func (f TileProcessorFunc) ProcessTile(t *core.Tensor, tile Tile, reference *core.Tensor) error {
	return f(t, tile, reference)
}

// FakeQuantizer rounds each F32 tile onto a symmetric grid of 2^(Bits-1)-1
// steps per sign, scaled by the tile's largest magnitude. When a reference
// tensor of matching length is given, the squared error of the quantized
// tile against it is accumulated.
type FakeQuantizer struct {
	Bits int

	Tiles        int
	SquaredError float64
	Compared     int64
}

// ProcessTile implements TileProcessor.
func (q *FakeQuantizer) ProcessTile(t *core.Tensor, tile Tile, reference *core.Tensor) error {
	if q.Bits < 2 || q.Bits > 16 {
		return errors.InvalidArgumentf("fake quantizer bits %d outside [2,16]", q.Bits)
	}
	data := t.Float32s()
	if data == nil || tile.End > int64(len(data)) {
		return nil
	}
	seg := data[tile.Start:tile.End]

	var maxAbs float32
	for _, v := range seg {
		if a := float32(math.Abs(float64(v))); a > maxAbs {
			maxAbs = a
		}
	}
	q.Tiles++
	if maxAbs > 0 {
		levels := float32(int(1)<<(q.Bits-1) - 1)
		step := maxAbs / levels
		for i, v := range seg {
			seg[i] = float32(math.Round(float64(v/step))) * step
		}
	}

	if reference == nil {
		return nil
	}
	ref := reference.Float32s()
	if ref == nil || tile.End > int64(len(ref)) {
		return nil
	}
	diff := make([]float32, len(seg))
	copy(diff, seg)
	for i := range diff {
		diff[i] -= ref[tile.Start+int64(i)]
	}
	q.SquaredError += float64(kernels.VectorDot(diff, diff))
	q.Compared += tile.Len()
	return nil
}

// MSE returns the mean squared error over every compared element.
func (q *FakeQuantizer) MSE() float64 {
	if q.Compared == 0 {
		return 0
	}
	return q.SquaredError / float64(q.Compared)
}
