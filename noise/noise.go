// Package noise provides the deterministic scalar source used to simulate
// data-free training perturbation.
//
// A Generator is an explicit value: callers own it and thread it through
// every noise-consuming operation, so two generators with the same seed
// produce identical sequences. A Generator is not safe for concurrent use.
package noise

// DefaultSeed is the seed used by New(0) and by the zero Generator.
const DefaultSeed uint32 = 12345

const (
	lcgMultiplier = 1103515245
	lcgIncrement  = 12345
	positiveMask  = 0x7FFFFFFF
)

// Generator is a 32-bit linear congruential generator.
type Generator struct {
	state  uint32
	seeded bool
}

// New returns a generator seeded with seed. A zero seed selects DefaultSeed.
func New(seed uint32) *Generator {
	if seed == 0 {
		seed = DefaultSeed
	}
	return &Generator{state: seed, seeded: true}
}

// Seed resets the generator state.
func (g *Generator) Seed(seed uint32) {
	if seed == 0 {
		seed = DefaultSeed
	}
	g.state = seed
	g.seeded = true
}

// Uint32 advances the generator and returns the new state.
func (g *Generator) Uint32() uint32 {
	if !g.seeded {
		g.state = DefaultSeed
		g.seeded = true
	}
	g.state = g.state*lcgMultiplier + lcgIncrement
	return g.state
}

// Unit returns a value in [0, 1].
func (g *Generator) Unit() float64 {
	return float64(g.Uint32()&positiveMask) / float64(positiveMask)
}

// Next returns a perturbation in [-scale, +scale]. A negative scale is
// treated as its magnitude.
func (g *Generator) Next(scale float32) float32 {
	s := float64(scale)
	if s < 0 {
		s = -s
	}
	v := (g.Unit() - 0.5) * 2 * s
	switch {
	case v > s:
		v = s
	case v < -s:
		v = -s
	}
	return float32(v)
}

// Fill writes len(dst) perturbations at the given scale into dst.
func (g *Generator) Fill(dst []float32, scale float32) {
	for i := range dst {
		dst[i] = g.Next(scale)
	}
}

// Perturb adds a perturbation at the given scale to every element of dst.
func (g *Generator) Perturb(dst []float32, scale float32) {
	for i := range dst {
		dst[i] += g.Next(scale)
	}
}
