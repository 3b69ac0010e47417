package runtime

import (
	"sync"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/noise"
)

// Allocation records one tensor carved out of a Context.
type Allocation struct {
	Name   string
	Offset uintptr
	Size   uintptr
}

// Context is an arena-backed allocation context. Tensors created by a
// Context alias its single pre-allocated buffer, so they live until Reset
// or until the Context is dropped. Each allocation starts on a cache line.
type Context struct {
	mu          sync.Mutex
	buffer      []byte
	offset      uintptr
	allocations []Allocation
	rng         *noise.Generator
}

// NewContext allocates a context with size bytes of tensor storage.
func NewContext(size int) (*Context, error) {
	if size <= 0 {
		return nil, errors.InvalidArgumentf("context size %d must be positive", size)
	}
	buf := core.AlignedBytes(int(core.AlignedSize(uintptr(size))))
	if buf == nil {
		return nil, errors.Wrapf(errors.ErrAllocationFailure, "context of %d bytes", size)
	}
	return &Context{buffer: buf}, nil
}

// Allocate bump-allocates size bytes aligned to alignment (a power of two;
// zero selects core.CacheLineSize). The returned slice is zeroed.
func (c *Context) Allocate(name string, size, alignment uintptr) ([]byte, error) {
	if alignment == 0 {
		alignment = core.CacheLineSize
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	alignedOffset := (c.offset + alignment - 1) &^ (alignment - 1)
	if alignedOffset+size > uintptr(len(c.buffer)) {
		return nil, errors.Wrapf(errors.ErrAllocationFailure,
			"context exhausted: requested %d, available %d", size, c.remainingLocked())
	}

	result := c.buffer[alignedOffset : alignedOffset+size : alignedOffset+size]
	clear(result)
	c.offset = alignedOffset + size
	c.allocations = append(c.allocations, Allocation{Name: name, Offset: alignedOffset, Size: size})
	return result, nil
}

// NewTensor allocates an unnamed tensor of the given type and shape.
func (c *Context) NewTensor(dtype core.DType, shape ...int64) (*core.Tensor, error) {
	return c.NewNamedTensor("", dtype, shape...)
}

// NewNamedTensor allocates a tensor whose storage lives in the context.
func (c *Context) NewNamedTensor(name string, dtype core.DType, shape ...int64) (*core.Tensor, error) {
	if c == nil {
		return nil, errors.InvalidArgumentf("allocation context is nil")
	}
	if err := core.ValidateShape(shape); err != nil {
		return nil, err
	}
	t := &core.Tensor{Name: name, Type: dtype, Shape: append([]int64(nil), shape...)}
	data, err := c.Allocate(name, uintptr(t.StorageSize()), core.CacheLineSize)
	if err != nil {
		return nil, err
	}
	t.Data = data
	return t, nil
}

// NewTensor1D allocates a rank-1 tensor.
func (c *Context) NewTensor1D(dtype core.DType, n0 int64) (*core.Tensor, error) {
	return c.NewTensor(dtype, n0)
}

// NewTensor2D allocates a rank-2 tensor.
func (c *Context) NewTensor2D(dtype core.DType, n0, n1 int64) (*core.Tensor, error) {
	return c.NewTensor(dtype, n0, n1)
}

// NewTensor3D allocates a rank-3 tensor.
func (c *Context) NewTensor3D(dtype core.DType, n0, n1, n2 int64) (*core.Tensor, error) {
	return c.NewTensor(dtype, n0, n1, n2)
}

// NewTensor4D allocates a rank-4 tensor.
func (c *Context) NewTensor4D(dtype core.DType, n0, n1, n2, n3 int64) (*core.Tensor, error) {
	return c.NewTensor(dtype, n0, n1, n2, n3)
}

// Generator returns the context's running noise generator, created at
// noise.DefaultSeed on first use. Reset does not restart it. Like every
// Generator it must not be drawn from concurrently.
func (c *Context) Generator() *noise.Generator {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rng == nil {
		c.rng = noise.New(noise.DefaultSeed)
	}
	return c.rng
}

// TotalSize returns the capacity of the context's buffer.
func (c *Context) TotalSize() uintptr {
	return uintptr(len(c.buffer))
}

// Used returns the bytes consumed, including alignment padding.
func (c *Context) Used() uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Remaining returns the bytes still available.
func (c *Context) Remaining() uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *Context) remainingLocked() uintptr {
	return uintptr(len(c.buffer)) - c.offset
}

// Utilization returns Used as a fraction of TotalSize.
func (c *Context) Utilization() float64 {
	if len(c.buffer) == 0 {
		return 0
	}
	return float64(c.Used()) / float64(len(c.buffer))
}

// Allocations returns a copy of the allocation log.
func (c *Context) Allocations() []Allocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Allocation(nil), c.allocations...)
}

// Reset releases every allocation. Tensors created before Reset keep
// aliasing the buffer and will be overwritten by later allocations.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
	c.allocations = c.allocations[:0]
}
