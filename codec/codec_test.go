package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
	"github.com/sbl8/p9ml/membrane"
	"github.com/sbl8/p9ml/runtime"
)

const transformerDoc = `
version: 1
seed: 42
namespace:
  name: transformer_ns
  noise_scale: 0.05
  target_bits: 4
  mixed_precision: true
root:
  name: transformer_model
  level: 0
  children:
    - name: embedding
      level: 1
      tensors:
        - {name: emb.weight, shape: [16, 8], init: noise, scale: 0.1}
    - name: attention
      level: 1
      limits: {max_children: 2, max_objects: 4, max_rules: 2}
      tensors:
        - {name: attn.q, shape: [8, 8], init: constant, scale: -2}
        - {name: attn.k, type: f16, shape: [8, 8]}
      rules:
        - {kind: rewrite, selector: attn.q, op: relu}
        - {kind: transport, selector: attn.k, target: ffn}
      qat:
        target_type: q4_K
        noise_scale: 0.05
        num_steps: 50
    - name: ffn
      level: 1
      tensors:
        - {name: ffn.w1, type: q8_0, shape: [32]}
`

func newContext(t *testing.T) *runtime.Context {
	t.Helper()
	ctx, err := runtime.NewContext(1 << 16)
	require.NoError(t, err)
	return ctx
}

func TestImport(t *testing.T) {
	ctx := newContext(t)
	root, err := Import(strings.NewReader(transformerDoc), ctx)
	require.NoError(t, err)
	defer root.Destroy()

	assert.Equal(t, "transformer_model", root.Name)
	require.Equal(t, 3, root.NumChildren())
	assert.Equal(t, 4, membrane.Count(root))
	assert.Equal(t, int64(16*8+8*8+8*8+32), membrane.CountParams(root))

	ns := root.Namespace()
	require.NotNil(t, ns)
	assert.Equal(t, "transformer_ns", ns.Name)
	assert.Equal(t, 4, ns.TargetBits)
	assert.True(t, ns.MixedPrecision)
	assert.Equal(t, membrane.CountParams(root), ns.TotalParams)
	for _, c := range root.Children() {
		assert.Same(t, ns, c.Namespace())
	}

	emb := root.Child("embedding").Objects()[0]
	nonzero := 0
	for _, v := range emb.Float32s() {
		assert.LessOrEqual(t, v, float32(0.1))
		assert.GreaterOrEqual(t, v, float32(-0.1))
		if v != 0 {
			nonzero++
		}
	}
	assert.Positive(t, nonzero)

	attn := root.Child("attention")
	assert.Equal(t, membrane.Limits{MaxChildren: 2, MaxObjects: 4, MaxRules: 2}, attn.Limits)
	assert.Equal(t, float32(-2), attn.Objects()[0].At(0))
	assert.Equal(t, core.F16, attn.Objects()[1].Type)
	rules := attn.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, membrane.RuleRewrite, rules[0].Kind)
	assert.Equal(t, byte(kernels.OpReLU), rules[0].Op)
	assert.Equal(t, "ffn", rules[1].Target)

	cfg, ok := attn.QATConfig()
	require.True(t, ok)
	assert.Equal(t, core.Q4K, cfg.TargetType)
	assert.Equal(t, 50, cfg.NumSteps)
	assert.Equal(t, 3, cfg.TileSize, "unset fields take defaults")

	// allocations come from the arena
	assert.Len(t, ctx.Allocations(), 4)
}

func TestImportedRulesEvolve(t *testing.T) {
	root, err := Import(strings.NewReader(transformerDoc), newContext(t))
	require.NoError(t, err)

	require.NoError(t, membrane.Evolve(root))
	attn := root.Child("attention")
	ffn := root.Child("ffn")
	assert.Equal(t, float32(0), attn.Objects()[0].At(0), "relu clamps -2")
	assert.Equal(t, 1, attn.NumObjects())
	assert.Equal(t, 2, ffn.NumObjects())
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "root: {name: r, colour: blue}"},
		{"bad version", "version: 9\nroot: {name: r}"},
		{"unknown dtype", "root: {name: r, tensors: [{name: t, type: q3_xs, shape: [2]}]}"},
		{"bad shape", "root: {name: r, tensors: [{name: t, shape: []}]}"},
		{"unknown init", "root: {name: r, tensors: [{name: t, shape: [2], init: ones}]}"},
		{"noise on ints", "root: {name: r, tensors: [{name: t, type: i32, shape: [2], init: noise}]}"},
		{"unknown rule", "root: {name: r, rules: [{kind: fuse}]}"},
		{"unknown kernel", "root: {name: r, rules: [{kind: rewrite, op: gelu}]}"},
		{"transport without target", "root: {name: r, rules: [{kind: transport}]}"},
		{"bad qat", "root: {name: r, qat: {target_type: f32, noise_scale: -1}}"},
		{"over capacity", "root: {name: r, limits: {max_children: 1, max_objects: 1, max_rules: 1}, children: [{name: a}, {name: b}]}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(strings.NewReader(tt.doc), newContext(t))
			require.Error(t, err)
		})
	}

	_, err := Import(strings.NewReader("root: {name: r}"), nil)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestExportRoundTrip(t *testing.T) {
	root, err := Import(strings.NewReader(transformerDoc), newContext(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Export(root, &buf))
	out := buf.String()
	assert.Contains(t, out, "name: transformer_ns")
	assert.Contains(t, out, "shape: [16, 8]")
	assert.Contains(t, out, "op: relu")
	assert.Contains(t, out, "target_type: q4_K")

	again, err := Import(&buf, newContext(t))
	require.NoError(t, err)
	assert.Equal(t, FromTree(root).Root, FromTree(again).Root)
	assert.Equal(t, root.Namespace().Name, again.Namespace().Name)
}

func TestExportSubtreeOmitsNamespace(t *testing.T) {
	root, err := Import(strings.NewReader(transformerDoc), newContext(t))
	require.NoError(t, err)

	spec := FromTree(root.Child("ffn"))
	assert.Nil(t, spec.Namespace)
	assert.Equal(t, "ffn", spec.Root.Name)
	assert.Nil(t, spec.Root.Limits, "default limits are omitted")

	assert.True(t, errors.IsInvalidArgument(Export(nil, &bytes.Buffer{})))
}

func TestRuleSpecDirections(t *testing.T) {
	r, err := RuleSpec{Kind: "communicate", Direction: "in", Target: "child"}.Rule()
	require.NoError(t, err)
	assert.Equal(t, membrane.CommunicateIn("", "child"), r)

	r, err = RuleSpec{Kind: "communicate"}.Rule()
	require.NoError(t, err)
	assert.Equal(t, membrane.Out, r.Direction)

	_, err = RuleSpec{Kind: "communicate", Direction: "in"}.Rule()
	assert.True(t, errors.IsInvalidArgument(err))

	assert.Equal(t, RuleSpec{Kind: "divide", Selector: "w", Suffix: "_b"}, NewRuleSpec(membrane.Divide("w", "_b")))
}
