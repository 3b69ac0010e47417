package membrane

import (
	"go.uber.org/multierr"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/logger"
	"github.com/sbl8/p9ml/noise"
	"github.com/sbl8/p9ml/qat"
)

// ApplyQAT injects bounded noise into every floating-point tensor in the
// subtree rooted at m. Noise comes from the bound namespace's generator, or
// from cfg.Generator() when m is unbound, so repeated calls with the same
// cfg keep drawing new values.
//
// The first call on a membrane attaches a copy of cfg to it; later calls
// leave that copy alone even when cfg differs. Children always see cfg
// itself, not their parent's copy.
//
// Every membrane is visited even when some fail; failures are returned
// together.
func ApplyQAT(m *Membrane, cfg *qat.Config) error {
	if m == nil || cfg == nil {
		return errors.InvalidArgumentf("apply qat: membrane or config is nil")
	}
	if m.namespace != nil && m.namespace.rng != nil {
		return ApplyQATWith(m, cfg, m.namespace.rng)
	}
	return ApplyQATWith(m, cfg, cfg.Generator())
}

// ApplyQATWith is ApplyQAT with an explicit noise source.
func ApplyQATWith(m *Membrane, cfg *qat.Config, gen *noise.Generator) error {
	if m == nil || cfg == nil || gen == nil {
		return errors.InvalidArgumentf("apply qat: membrane, config or generator is nil")
	}

	var errs error
	_ = Walk(m, func(node *Membrane) error {
		if node.qat == nil {
			node.qat = cfg.Clone()
		}
		perturbed := 0
		for _, t := range node.objects {
			ok, err := perturb(t, cfg.NoiseScale, gen)
			if err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "membrane %q", node.Name))
				continue
			}
			if ok {
				perturbed++
			}
		}
		logger.Logger.Debugw("applied qat",
			"membrane", node.Name,
			"level", node.Level,
			"perturbed", perturbed,
			"noise_scale", cfg.NoiseScale)
		return nil
	})
	return errs
}

// AttachQAT attaches a copy of cfg to m without touching its objects. Like
// ApplyQAT it never replaces an existing config; it reports whether cfg
// was attached.
func (m *Membrane) AttachQAT(cfg *qat.Config) bool {
	if m == nil || cfg == nil || m.qat != nil {
		return false
	}
	m.qat = cfg.Clone()
	return true
}

// perturb adds noise to every element of a float tensor with storage. It
// reports whether the tensor was touched.
func perturb(t *core.Tensor, scale float32, gen *noise.Generator) (bool, error) {
	if !t.Type.IsFloat() || !t.HasData() {
		return false, nil
	}
	if err := t.Validate(); err != nil {
		return false, err
	}
	if data := t.Float32s(); data != nil {
		gen.Perturb(data, scale)
		return true, nil
	}
	n := int(t.Elements())
	for i := 0; i < n; i++ {
		t.Set(i, t.At(i)+gen.Next(scale))
	}
	return true, nil
}

// TileQAT splits every object of m into cfg.TileSize-element tiles and hands
// each tile to proc. reference is passed through to proc untouched. A nil
// proc makes this a geometry-only pass.
func TileQAT(m *Membrane, cfg *qat.Config, reference *core.Tensor, proc qat.TileProcessor) error {
	if m == nil || cfg == nil {
		return errors.InvalidArgumentf("tile qat: membrane or config is nil")
	}
	if cfg.TileSize <= 0 {
		return errors.InvalidArgumentf("tile qat: tile size %d must be positive", cfg.TileSize)
	}

	var errs error
	var total int64
	for _, t := range m.objects {
		if err := t.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		n, err := qat.TileCount(t.Elements(), cfg.TileSize)
		if err != nil {
			return err
		}
		total += n
		if proc == nil {
			continue
		}
		for tile := range qat.Tiles(t.Elements(), cfg.TileSize) {
			if err := proc.ProcessTile(t, tile, reference); err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "tensor %q tile [%d,%d)", t.Name, tile.Start, tile.End))
			}
		}
	}
	logger.Logger.Debugw("tiled qat",
		"membrane", m.Name,
		"tile_size", cfg.TileSize,
		"tiles", total)
	return errs
}

// ClassifyPrecision assigns each object of m a precision bucket and bit
// width. threshold must lie in [0,1]. No tensor is modified.
func ClassifyPrecision(m *Membrane, threshold float64) ([]qat.Assignment, error) {
	if m == nil {
		return nil, errors.InvalidArgumentf("classify precision: membrane is nil")
	}
	if err := qat.ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	out := make([]qat.Assignment, 0, len(m.objects))
	for _, t := range m.objects {
		n := t.Elements()
		bucket, bits, err := qat.Classify(n, threshold)
		if err != nil {
			return nil, err
		}
		out = append(out, qat.Assignment{Tensor: t.Name, Elements: n, Bucket: bucket, Bits: bits})
	}
	return out, nil
}
