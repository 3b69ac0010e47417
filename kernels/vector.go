package kernels

// VectorDot computes the dot product of a and b.
func VectorDot(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vector length mismatch")
	}
	var sum float32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		sum += a[i]*b[i] + a[i+1]*b[i+1] + a[i+2]*b[i+2] + a[i+3]*b[i+3]
	}
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}
