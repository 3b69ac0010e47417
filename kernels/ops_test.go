package kernels

import (
	"math"
	"testing"
)

const floatTolerance = 1e-6

// Helper to compare two float32 slices with tolerance
func slicesEqual(a, b []float32, tolerance float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > float64(tolerance) {
			return false
		}
	}
	return true
}

func TestElementwiseKernels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		op   byte
		in   []float32
		want []float32
	}{
		{"sqr_plus_x", OpSqrPlusX, []float32{1, 2, 3, 4, 5}, []float32{2, 6, 12, 20, 30}},
		{"relu", OpReLU, []float32{-1, 2, -3, 4}, []float32{0, 2, 0, 4}},
		{"sigmoid", OpSigmoid, []float32{0, 1, -1}, []float32{0, 0.5, -0.5}},
		{"tanh", OpTanh, []float32{0}, []float32{0}},
		{"scale", OpScale, []float32{2, -4, 1}, []float32{1, -2, 0.5}},
		{"clamp", OpClamp, []float32{-3, -0.5, 0.5, 3}, []float32{-1, -0.5, 0.5, 1}},
		{"round", OpRound, []float32{0.0039, 0.0041, 1}, []float32{0, RoundGrid, 1}},
		{"noop", OpNoop, []float32{7, 8}, []float32{7, 8}},
		{"empty", OpReLU, []float32{}, []float32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]float32(nil), tt.in...)
			GetKernel(tt.op)(data)
			if !slicesEqual(data, tt.want, floatTolerance) {
				t.Errorf("got %v, want %v", data, tt.want)
			}
		})
	}
}

func TestAggregations(t *testing.T) {
	t.Parallel()
	data := []float32{1, 5, -2, 3}
	Catalog[OpSum](data)
	if data[0] != 7 {
		t.Errorf("sum: got %f, want 7", data[0])
	}

	data = []float32{1, 5, -2, 3}
	Catalog[OpMax](data)
	if data[0] != 5 {
		t.Errorf("max: got %f, want 5", data[0])
	}

	// must not panic
	Catalog[OpSum](nil)
	Catalog[OpMax](nil)
}

func TestSoftmax(t *testing.T) {
	t.Parallel()
	data := []float32{1.0, 2.0, 3.0}
	softmax(data)

	var sum float32
	for i, val := range data {
		sum += val
		if val <= 0 {
			t.Errorf("Softmax output should be positive, got %f at index %d", val, i)
		}
	}
	if math.Abs(float64(sum-1.0)) > 1e-6 {
		t.Errorf("Softmax should sum to 1.0, got %f", sum)
	}
	if !(data[0] < data[1] && data[1] < data[2]) {
		t.Errorf("Softmax should preserve order, got %v", data)
	}
}

func TestCatalogNames(t *testing.T) {
	t.Parallel()
	for op, name := range opNames {
		if !Valid(op) {
			t.Errorf("named opcode %#x has no kernel", op)
		}
		got, ok := Lookup(name)
		if !ok || got != op {
			t.Errorf("Lookup(%q) = %#x, %v", name, got, ok)
		}
		if Name(op) != name {
			t.Errorf("Name(%#x) = %q, want %q", op, Name(op), name)
		}
	}
	if Valid(0xFF) {
		t.Error("opcode 0xFF should be invalid")
	}
	if _, ok := Lookup("matmul"); ok {
		t.Error("Lookup should fail for unregistered names")
	}
}

func TestVectorDot(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 3, 4, 7, 100} {
		a := make([]float32, n)
		b := make([]float32, n)
		var want float32
		for i := range a {
			a[i] = float32(i) * 0.5
			b[i] = float32(n - i)
			want += a[i] * b[i]
		}
		got := VectorDot(a, b)
		if math.Abs(float64(got-want)) > 1e-3*float64(n+1) {
			t.Errorf("n=%d: got %f, want %f", n, got, want)
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on length mismatch")
		}
	}()
	VectorDot([]float32{1}, []float32{1, 2})
}
