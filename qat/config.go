// Package qat holds the data-free quantization-aware training policy: the
// configuration value attached to membranes, tile geometry with a per-tile
// processing hook, and the mixed-precision bit-width rule.
package qat

import (
	"fmt"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/noise"
)

// Defaults applied by New.
const (
	DefaultNoiseScale   = 0.1
	DefaultTemperature  = 1.0
	DefaultNumSteps     = 100
	DefaultLearningRate = 0.001
	DefaultTileSize     = 3
)

// Config describes how a subtree is trained. It is a plain value and is
// copied when attached to a membrane.
type Config struct {
	TargetType     core.DType
	NoiseScale     float32
	PerChannel     bool
	MixedPrecision bool
	Temperature    float32
	NumSteps       int
	LearningRate   float32
	TileSize       int
	UseReference   bool
	Seed           uint32 // noise seed when no namespace generator is bound

	rng *noise.Generator
}

// New returns a config for target with the given noise scale and the
// remaining fields at their defaults.
func New(target core.DType, noiseScale float32) *Config {
	return &Config{
		TargetType:     target,
		NoiseScale:     noiseScale,
		PerChannel:     true,
		MixedPrecision: false,
		Temperature:    DefaultTemperature,
		NumSteps:       DefaultNumSteps,
		LearningRate:   DefaultLearningRate,
		TileSize:       DefaultTileSize,
		UseReference:   true,
	}
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c == nil {
		return errors.InvalidArgumentf("qat config is nil")
	}
	if c.NoiseScale < 0 {
		return errors.InvalidArgumentf("noise scale %g is negative", c.NoiseScale)
	}
	if c.TileSize <= 0 {
		return errors.InvalidArgumentf("tile size %d must be positive", c.TileSize)
	}
	if c.NumSteps < 0 {
		return errors.InvalidArgumentf("num steps %d is negative", c.NumSteps)
	}
	if c.Temperature <= 0 {
		return errors.InvalidArgumentf("temperature %g must be positive", c.Temperature)
	}
	if c.LearningRate < 0 {
		return errors.InvalidArgumentf("learning rate %g is negative", c.LearningRate)
	}
	return nil
}

// Clone returns an independent copy. The copy starts a fresh noise
// sequence from Seed.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.rng = nil
	return &clone
}

// Generator returns the config's running noise generator, seeded from Seed
// on first use. Successive calls continue the same sequence.
func (c *Config) Generator() *noise.Generator {
	if c.rng == nil {
		c.rng = noise.New(c.Seed)
	}
	return c.rng
}

func (c *Config) String() string {
	return fmt.Sprintf("qat{type=%s noise=%.4f tile=%d steps=%d}", c.TargetType, c.NoiseScale, c.TileSize, c.NumSteps)
}
