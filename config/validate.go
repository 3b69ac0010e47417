package config

import (
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/qat"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.QATConfig(); err != nil {
		return err
	}
	if err := qat.ValidateThreshold(c.QAT.PrecisionThreshold); err != nil {
		return errors.Wrap(err, "qat.precision_threshold")
	}

	if c.Namespace.NoiseScale < 0 {
		return errors.InvalidArgumentf("namespace.noise_scale must be >= 0, got %g", c.Namespace.NoiseScale)
	}
	if c.Namespace.TargetBits < 1 || c.Namespace.TargetBits > 32 {
		return errors.InvalidArgumentf("namespace.target_bits must be in [1,32], got %d", c.Namespace.TargetBits)
	}

	// Capacities: 0 = unbounded, negative = invalid
	if c.Membrane.MaxChildren < 0 || c.Membrane.MaxObjects < 0 || c.Membrane.MaxRules < 0 {
		return errors.InvalidArgumentf("membrane capacities must be >= 0, got %+v", c.Membrane)
	}

	if c.Runtime.ArenaSize <= 0 {
		return errors.InvalidArgumentf("runtime.arena_size must be > 0, got %d", c.Runtime.ArenaSize)
	}
	if c.Runtime.Workers < 0 {
		return errors.InvalidArgumentf("runtime.workers must be >= 0, got %d", c.Runtime.Workers)
	}
	return nil
}
