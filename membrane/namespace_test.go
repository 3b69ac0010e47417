package membrane

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
	"github.com/sbl8/p9ml/model"
	"github.com/sbl8/p9ml/runtime"
)

type fakeBackend struct {
	calls int
	err   error
}

func (f *fakeBackend) GraphCompute(_ context.Context, _ *model.Graph) error {
	f.calls++
	return f.err
}

func buildTree(t *testing.T) (root, a, b, aa *Membrane) {
	t.Helper()
	root = New("R", 0, nil)
	a = New("A", 1, nil)
	b = New("B", 1, nil)
	aa = New("AA", 2, nil)
	require.NoError(t, root.AddChild(a))
	require.NoError(t, root.AddChild(b))
	require.NoError(t, a.AddChild(aa))
	return root, a, b, aa
}

func TestNewNamespaceDefaults(t *testing.T) {
	ns := NewNamespace("", nil)
	assert.Equal(t, DefaultNamespaceName, ns.Name)
	assert.InDelta(t, 0.1, ns.NoiseScale, 1e-9)
	assert.Equal(t, 8, ns.TargetBits)
	assert.False(t, ns.MixedPrecision)
	assert.InDelta(t, 1.0, ns.CompressionRatio, 1e-9)
	assert.Zero(t, ns.TotalParams)
	assert.Nil(t, ns.Root())
	assert.Nil(t, ns.Backend())
	assert.NotNil(t, ns.Generator())
}

func TestBindPropagatesToEveryNode(t *testing.T) {
	root, a, b, aa := buildTree(t)
	ns := NewNamespace("ws", nil)
	require.NoError(t, ns.Bind(root))

	assert.Same(t, root, ns.Root())
	for _, m := range []*Membrane{root, a, b, aa} {
		assert.Same(t, ns, m.Namespace(), "membrane %s", m.Name)
	}

	second := NewNamespace("other", nil)
	require.NoError(t, second.Bind(root))
	for _, m := range []*Membrane{root, a, b, aa} {
		assert.Same(t, second, m.Namespace(), "rebinding overwrites %s", m.Name)
	}
}

func TestBindSubtree(t *testing.T) {
	root, a, b, aa := buildTree(t)
	ns := NewNamespace("ws", nil)
	require.NoError(t, ns.Bind(a))
	assert.Same(t, ns, a.Namespace())
	assert.Same(t, ns, aa.Namespace())
	assert.Nil(t, root.Namespace())
	assert.Nil(t, b.Namespace())
}

func TestBindInvalid(t *testing.T) {
	var ns *Namespace
	assert.True(t, errors.IsInvalidArgument(ns.Bind(New("r", 0, nil))))
	assert.True(t, errors.IsInvalidArgument(NewNamespace("x", nil).Bind(nil)))
}

func TestNamespaceDestroyLeavesMembranes(t *testing.T) {
	root, a, _, _ := buildTree(t)
	backend := &fakeBackend{}
	ns := NewNamespace("ws", backend)
	require.NoError(t, ns.Bind(root))

	ns.Destroy()
	assert.Nil(t, ns.Root())
	assert.Nil(t, ns.Backend())
	assert.Equal(t, 2, root.NumChildren())
	assert.Same(t, root, a.Parent())

	var nilNS *Namespace
	assert.NotPanics(t, func() { nilNS.Destroy() })
}

func TestCompute(t *testing.T) {
	ctx := context.Background()
	g := &model.Graph{}

	t.Run("nil arguments", func(t *testing.T) {
		var ns *Namespace
		assert.True(t, errors.IsInvalidArgument(ns.Compute(ctx, g)))
		assert.True(t, errors.IsInvalidArgument(NewNamespace("x", nil).Compute(ctx, nil)))
	})

	t.Run("no backend is a no-op", func(t *testing.T) {
		assert.NoError(t, NewNamespace("x", nil).Compute(ctx, g))
	})

	t.Run("forwards to backend", func(t *testing.T) {
		backend := &fakeBackend{}
		require.NoError(t, NewNamespace("x", backend).Compute(ctx, g))
		assert.Equal(t, 1, backend.calls)
	})

	t.Run("backend failure", func(t *testing.T) {
		cause := errors.New("device lost")
		backend := &fakeBackend{err: cause}
		err := NewNamespace("x", backend).Compute(ctx, g)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrExecutionFailure))
		assert.True(t, errors.Is(err, cause))
	})
}

func TestComputeWithEngine(t *testing.T) {
	rctx := newContext(t)
	x := newTensor(t, rctx, "x", 3)
	x.Fill(func(i int) float32 { return float32(i) - 1 })

	ns := NewNamespace("ws", runtime.NewEngine(&runtime.EngineOptions{Workers: 2}))
	require.NoError(t, ns.Compute(context.Background(), model.Chain(kernels.OpReLU, x)))
	assert.Equal(t, []float32{0, 0, 1}, x.Float32s())

	err := ns.Compute(context.Background(), &model.Graph{})
	assert.True(t, errors.Is(err, errors.ErrExecutionFailure))
}

func TestMetricsAndStats(t *testing.T) {
	ns := NewNamespace("ml_workspace", nil)
	ns.SetMetrics(100, 50, 2)
	ns.AddParams(10, 10)
	ns.MixedPrecision = true

	s := ns.Stats()
	assert.Equal(t, int64(110), s.TotalParams)
	assert.Equal(t, int64(60), s.QuantizedParams)
	assert.Equal(t,
		"Namespace 'ml_workspace':\n  Total params: 110\n  Quantized params: 60\n  Compression ratio: 2.00x\n  Target bits: 8\n  Mixed precision: enabled\n",
		s.String())
}
