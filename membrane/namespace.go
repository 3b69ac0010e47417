package membrane

import (
	"context"

	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/logger"
	"github.com/sbl8/p9ml/model"
	"github.com/sbl8/p9ml/noise"
)

// Namespace defaults.
const (
	DefaultNamespaceName    = "default"
	DefaultNoiseScale       = 0.1
	DefaultTargetBits       = 8
	DefaultCompressionRatio = 1.0
)

// Backend executes computation graphs. runtime.Engine satisfies it.
type Backend interface {
	GraphCompute(ctx context.Context, g *model.Graph) error
}

// Namespace is the shared context of one membrane tree. It references its
// root and backend without owning either.
type Namespace struct {
	Name           string
	NoiseScale     float32
	TargetBits     int
	MixedPrecision bool

	// Caller-maintained metrics.
	TotalParams      int64
	QuantizedParams  int64
	CompressionRatio float64

	root    *Membrane
	backend Backend
	rng     *noise.Generator
}

// NewNamespace creates a namespace with default policy. backend may be nil.
func NewNamespace(name string, backend Backend) *Namespace {
	if name == "" {
		name = DefaultNamespaceName
	}
	return &Namespace{
		Name:             name,
		NoiseScale:       DefaultNoiseScale,
		TargetBits:       DefaultTargetBits,
		CompressionRatio: DefaultCompressionRatio,
		backend:          backend,
		rng:              noise.New(noise.DefaultSeed),
	}
}

// Root returns the bound root membrane, or nil.
func (ns *Namespace) Root() *Membrane { return ns.root }

// Backend returns the execution backend, or nil.
func (ns *Namespace) Backend() Backend { return ns.backend }

// Generator returns the namespace's noise generator.
func (ns *Namespace) Generator() *noise.Generator { return ns.rng }

// Seed reseeds the namespace's noise generator.
func (ns *Namespace) Seed(seed uint32) {
	ns.rng.Seed(seed)
}

// Bind makes root the namespace's root and sets the namespace on every
// membrane reachable from it, overwriting any earlier binding.
func (ns *Namespace) Bind(root *Membrane) error {
	if ns == nil || root == nil {
		return errors.InvalidArgumentf("bind: namespace or root is nil")
	}
	ns.root = root
	bound := 0
	_ = Walk(root, func(m *Membrane) error {
		m.namespace = ns
		bound++
		return nil
	})
	logger.Logger.Debugw("bound namespace",
		"namespace", ns.Name,
		"root", root.Name,
		"membranes", bound)
	return nil
}

// Destroy drops the namespace's references. Membranes are not touched.
func (ns *Namespace) Destroy() {
	if ns == nil {
		return
	}
	ns.root = nil
	ns.backend = nil
}

// Compute forwards g to the backend. Without a backend it succeeds without
// doing anything.
func (ns *Namespace) Compute(ctx context.Context, g *model.Graph) error {
	if ns == nil || g == nil {
		return errors.InvalidArgumentf("compute: namespace or graph is nil")
	}
	if ns.backend == nil {
		return nil
	}
	if err := ns.backend.GraphCompute(ctx, g); err != nil {
		return errors.Wrapf(errors.Mark(err, errors.ErrExecutionFailure), "namespace %q compute", ns.Name)
	}
	return nil
}

// SetMetrics replaces the parameter metrics.
func (ns *Namespace) SetMetrics(total, quantized int64, ratio float64) {
	ns.TotalParams = total
	ns.QuantizedParams = quantized
	ns.CompressionRatio = ratio
}

// AddParams adds to the parameter counters.
func (ns *Namespace) AddParams(total, quantized int64) {
	ns.TotalParams += total
	ns.QuantizedParams += quantized
}
