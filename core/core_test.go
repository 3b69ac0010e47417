package core

import (
	"math"
	"testing"
	"unsafe"

	"github.com/sbl8/p9ml/errors"
)

func TestTensorValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		tensor  *Tensor
		wantErr bool
	}{
		{
			name:    "nil tensor",
			tensor:  nil,
			wantErr: true,
		},
		{
			name:    "rank zero",
			tensor:  &Tensor{Name: "scalar", Type: F32},
			wantErr: true,
		},
		{
			name:    "rank five",
			tensor:  &Tensor{Type: F32, Shape: []int64{1, 1, 1, 1, 1}},
			wantErr: true,
		},
		{
			name:    "negative dimension",
			tensor:  &Tensor{Type: F32, Shape: []int64{4, -1}},
			wantErr: true,
		},
		{
			name:    "storage too small",
			tensor:  &Tensor{Type: F32, Shape: []int64{4}, Data: make([]byte, 12)},
			wantErr: true,
		},
		{
			name:    "no storage is valid",
			tensor:  &Tensor{Type: F32, Shape: []int64{4}},
			wantErr: false,
		},
		{
			name:    "valid tensor",
			tensor:  &Tensor{Type: F16, Shape: []int64{2, 2}, Data: make([]byte, 8)},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tensor.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Tensor.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestShapeElementOverflow(t *testing.T) {
	t.Parallel()
	// 3 * ((2^59+1)/3) wraps past int64 once multiplied out in bits
	wide := int64((1<<59 + 1) / 3)
	shapes := [][]int64{
		{3, wide},
		{1 << 32, 1 << 32},
		{math.MaxInt64},
		{1 << 16, 1 << 16, 1 << 16, 1 << 16},
	}
	for _, shape := range shapes {
		if err := ValidateShape(shape); !errors.IsInvalidArgument(err) {
			t.Errorf("ValidateShape(%v) = %v, want invalid argument", shape, err)
		}
		if _, err := NewTensor("w", F32, shape...); !errors.IsInvalidArgument(err) {
			t.Errorf("NewTensor(%v) = %v, want invalid argument", shape, err)
		}
		tensor := &Tensor{Name: "w", Type: F32, Shape: shape, Data: make([]byte, 4)}
		if err := tensor.Validate(); err == nil {
			t.Errorf("Validate accepted overflowing shape %v", shape)
		}
	}

	if err := ValidateShape([]int64{MaxElements}); err != nil {
		t.Errorf("ValidateShape at the element limit failed: %v", err)
	}
	if got := (&Tensor{Type: F32, Shape: []int64{MaxElements}}).StorageSize(); got != MaxElements*4 {
		t.Errorf("StorageSize at the element limit = %d", got)
	}
}

func TestTensorElements(t *testing.T) {
	t.Parallel()
	tensor, err := NewTensor("w", F32, 32, 64)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	if tensor.Elements() != 2048 {
		t.Errorf("Expected 2048 elements, got %d", tensor.Elements())
	}
	if tensor.Rank() != 2 {
		t.Errorf("Expected rank 2, got %d", tensor.Rank())
	}
	if len(tensor.Data) != 2048*4 {
		t.Errorf("Expected %d bytes of storage, got %d", 2048*4, len(tensor.Data))
	}
	if !IsAligned(uintptr(unsafe.Pointer(&tensor.Data[0]))) {
		t.Error("Tensor storage is not cache-line aligned")
	}
}

func TestTensorFloat32View(t *testing.T) {
	t.Parallel()
	data := []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0x40} // 1.0, 2.0 in little-endian float32
	tensor := &Tensor{Type: F32, Shape: []int64{2}, Data: data}

	floats := tensor.Float32s()
	if len(floats) != 2 {
		t.Fatalf("Expected 2 floats, got %d", len(floats))
	}
	if floats[0] != 1.0 || floats[1] != 2.0 {
		t.Errorf("Expected [1 2], got %v", floats)
	}

	floats[1] = 3.0
	if tensor.At(1) != 3.0 {
		t.Errorf("Float32s view does not alias storage, At(1) = %f", tensor.At(1))
	}

	half := &Tensor{Type: F16, Shape: []int64{2}, Data: make([]byte, 4)}
	if half.Float32s() != nil {
		t.Error("Float32s should be nil for F16 tensors")
	}
}

func TestTensorFloat16RoundTrip(t *testing.T) {
	t.Parallel()
	tensor, err := NewTensor("h", F16, 4)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	values := []float32{0.5, -1.25, 2.0, 0.0}
	for i, v := range values {
		tensor.Set(i, v)
	}
	for i, v := range values {
		if got := tensor.At(i); got != v {
			t.Errorf("Index %d: got %f, want %f", i, got, v)
		}
	}
}

func TestTensorClone(t *testing.T) {
	t.Parallel()
	original, _ := NewTensor("orig", F32, 3)
	original.Fill(func(i int) float32 { return float32(i) })

	clone := original.Clone()
	clone.Set(0, 42)
	clone.Shape[0] = 7

	if original.At(0) != 0 {
		t.Error("Modifying clone data changed original")
	}
	if original.Shape[0] != 3 {
		t.Error("Modifying clone shape changed original")
	}
}

func TestDTypeNames(t *testing.T) {
	t.Parallel()
	for _, d := range []DType{F32, F16, Q4_0, Q4_1, Q4K, Q8_0, I32} {
		parsed, err := ParseDType(d.String())
		if err != nil {
			t.Errorf("ParseDType(%q) failed: %v", d.String(), err)
		}
		if parsed != d {
			t.Errorf("ParseDType(%q) = %v, want %v", d.String(), parsed, d)
		}
	}
	if _, err := ParseDType("q3_xs"); err == nil {
		t.Error("Expected error for unknown dtype")
	}
	if F16.StorageSize(3) != 6 || Q4_0.StorageSize(3) != 2 {
		t.Error("StorageSize rounding is wrong")
	}
}

func TestAlignedBytes(t *testing.T) {
	t.Parallel()
	for _, size := range []int{1, 63, 64, 1000} {
		b := AlignedBytes(size)
		if len(b) != size {
			t.Errorf("AlignedBytes(%d) returned %d bytes", size, len(b))
		}
		if !IsAligned(uintptr(unsafe.Pointer(&b[0]))) {
			t.Errorf("AlignedBytes(%d) is not aligned", size)
		}
	}
	if AlignedBytes(0) != nil {
		t.Error("AlignedBytes(0) should be nil")
	}
	if AlignedSize(65) != 128 {
		t.Errorf("AlignedSize(65) = %d, want 128", AlignedSize(65))
	}
	if got := len(PadToAlignment([]byte{1, 2, 3}, 8)); got != 8 {
		t.Errorf("PadToAlignment length = %d, want 8", got)
	}
}

func TestSerializeTensor(t *testing.T) {
	t.Parallel()
	original, _ := NewTensor("attention.q", F32, 4, 2)
	original.Fill(func(i int) float32 { return float32(i) * 0.5 })

	data, err := SerializeTensor(original)
	if err != nil {
		t.Fatalf("SerializeTensor failed: %v", err)
	}

	restored, err := DeserializeTensor(data)
	if err != nil {
		t.Fatalf("DeserializeTensor failed: %v", err)
	}
	if restored.Name != original.Name || restored.Type != original.Type {
		t.Errorf("Header mismatch: got %s/%v", restored.Name, restored.Type)
	}
	if restored.Elements() != original.Elements() {
		t.Fatalf("Element count mismatch: %d vs %d", restored.Elements(), original.Elements())
	}
	for i := 0; i < int(original.Elements()); i++ {
		if math.Abs(float64(restored.At(i)-original.At(i))) > 1e-9 {
			t.Errorf("Index %d: got %f, want %f", i, restored.At(i), original.At(i))
		}
	}
}

func TestDeserializeDetectsCorruption(t *testing.T) {
	t.Parallel()
	original, _ := NewTensor("x", F32, 2)
	data, err := SerializeTensor(original)
	if err != nil {
		t.Fatalf("SerializeTensor failed: %v", err)
	}

	data[len(data)-1] ^= 0xFF
	if _, err := DeserializeTensor(data); err == nil {
		t.Error("Expected corruption error")
	}

	if _, err := DeserializeTensor([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for short input")
	}
}
