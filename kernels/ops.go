// Package kernels provides the in-place float32 operations run by graph
// nodes and by membrane rewrite rules.
//
// Every kernel has the signature func([]float32), mutates its argument in
// place and never allocates. Kernels are registered in the Catalog array and
// dispatched by opcode.
//
// Available operations:
//   - Elementwise: square-plus-x, scale, clamp, grid rounding
//   - Activations: ReLU, sigmoid, tanh, softmax
//   - Aggregations: sum, max (result stored in element 0)
package kernels

import (
	"math"
)

// KernelFn operates in place on float32 tensor storage with zero allocations.
type KernelFn func(data []float32)

// Kernel operation codes
const (
	OpNoop     = 0x00
	OpSqrPlusX = 0x01
	OpReLU     = 0x03
	OpSigmoid  = 0x04
	OpTanh     = 0x05
	OpSum      = 0x08
	OpMax      = 0x09
	OpSoftmax  = 0x0A
	OpScale    = 0x0B
	OpClamp    = 0x0C
	OpRound    = 0x0D
)

// RoundGrid is the step OpRound snaps values to.
const RoundGrid = 1.0 / 128

// Catalog maps opcodes to kernel implementations
var Catalog = [256]KernelFn{
	OpNoop:     noop,
	OpSqrPlusX: elementwise(func(x float32) float32 { return x*x + x }),
	OpReLU:     relu,
	OpSigmoid:  elementwise(sigmoid),
	OpTanh:     elementwise(tanh),
	OpSum:      vectorSum,
	OpMax:      vectorMax,
	OpSoftmax:  softmax,
	OpScale:    elementwise(func(x float32) float32 { return x * 0.5 }),
	OpClamp:    elementwise(clamp),
	OpRound:    elementwise(roundToGrid),
}

var opNames = map[byte]string{
	OpNoop:     "noop",
	OpSqrPlusX: "sqr_plus_x",
	OpReLU:     "relu",
	OpSigmoid:  "sigmoid",
	OpTanh:     "tanh",
	OpSum:      "sum",
	OpMax:      "max",
	OpSoftmax:  "softmax",
	OpScale:    "scale",
	OpClamp:    "clamp",
	OpRound:    "round",
}

// GetKernel returns the kernel function for the given opcode
func GetKernel(opcode byte) KernelFn {
	return Catalog[opcode]
}

// Valid reports whether opcode has a registered kernel.
func Valid(opcode byte) bool {
	return Catalog[opcode] != nil
}

// Name returns the opcode's name, or "" when unknown.
func Name(opcode byte) string {
	return opNames[opcode]
}

// Lookup resolves a kernel name to its opcode.
func Lookup(name string) (byte, bool) {
	for op, n := range opNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// elementwise lifts a scalar function to a kernel, processing the slice in
// batches of four.
func elementwise(scalar func(float32) float32) KernelFn {
	return func(data []float32) {
		i := 0
		for ; i+4 <= len(data); i += 4 {
			data[i] = scalar(data[i])
			data[i+1] = scalar(data[i+1])
			data[i+2] = scalar(data[i+2])
			data[i+3] = scalar(data[i+3])
		}
		for ; i < len(data); i++ {
			data[i] = scalar(data[i])
		}
	}
}

func noop(data []float32) {}

// relu implements Rectified Linear Unit: max(0, x)
func relu(data []float32) {
	for i, x := range data {
		if x < 0 {
			data[i] = 0
		}
	}
}

// sigmoid is the fast approximation x / (1 + |x|).
func sigmoid(x float32) float32 {
	if x >= 0 {
		return x / (1 + x)
	}
	return x / (1 - x)
}

// tanh implements hyperbolic tangent with a rational approximation
func tanh(x float32) float32 {
	x2 := x * x
	return x * (27 + x2) / (27 + 9*x2)
}

func clamp(x float32) float32 {
	switch {
	case x > 1:
		return 1
	case x < -1:
		return -1
	}
	return x
}

func roundToGrid(x float32) float32 {
	return float32(math.Round(float64(x)/RoundGrid) * RoundGrid)
}

// vectorSum computes the sum of all elements, stores in first position
func vectorSum(data []float32) {
	if len(data) == 0 {
		return
	}
	var sum float32
	for _, x := range data {
		sum += x
	}
	data[0] = sum
}

// vectorMax finds maximum element, stores in first position
func vectorMax(data []float32) {
	if len(data) == 0 {
		return
	}
	maxVal := float32(math.Inf(-1))
	for _, x := range data {
		if x > maxVal {
			maxVal = x
		}
	}
	data[0] = maxVal
}

// softmax implements numerically stable softmax
func softmax(data []float32) {
	if len(data) == 0 {
		return
	}

	maxVal := float32(math.Inf(-1))
	for _, x := range data {
		if x > maxVal {
			maxVal = x
		}
	}

	var sum float32
	for i, x := range data {
		data[i] = float32(math.Exp(float64(x - maxVal)))
		sum += data[i]
	}

	invSum := 1 / sum
	for i := range data {
		data[i] *= invSum
	}
}
