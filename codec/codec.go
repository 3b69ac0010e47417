package codec

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/logger"
	"github.com/sbl8/p9ml/membrane"
	"github.com/sbl8/p9ml/noise"
	"github.com/sbl8/p9ml/runtime"
)

// Decode parses a YAML document. Unknown fields are rejected.
func Decode(r io.Reader) (*Spec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, errors.Wrap(errors.Mark(err, errors.ErrInvalidArgument), "decode tree spec")
	}
	if spec.Version == 0 {
		spec.Version = Version
	}
	if spec.Version != Version {
		return nil, errors.InvalidArgumentf("unsupported tree spec version %d", spec.Version)
	}
	return &spec, nil
}

// Import decodes a document and builds its tree in ctx. When the document
// has a namespace section the namespace is created without a backend and
// bound to the root.
func Import(r io.Reader, ctx *runtime.Context) (*membrane.Membrane, error) {
	spec, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return spec.Build(ctx, nil)
}

// Build creates the membrane tree described by s, allocating tensors in
// ctx. The namespace, if any, is created with backend. On error the partial
// tree is destroyed; tensors already allocated stay in ctx.
func (s *Spec) Build(ctx *runtime.Context, backend membrane.Backend) (*membrane.Membrane, error) {
	if ctx == nil {
		return nil, errors.InvalidArgumentf("build tree: context is nil")
	}
	gen := noise.New(s.Seed)

	root, err := buildMembrane(&s.Root, ctx, gen)
	if err != nil {
		return nil, err
	}

	if s.Namespace != nil {
		ns := membrane.NewNamespace(s.Namespace.Name, backend)
		if s.Namespace.NoiseScale != 0 {
			ns.NoiseScale = s.Namespace.NoiseScale
		}
		if s.Namespace.TargetBits != 0 {
			ns.TargetBits = s.Namespace.TargetBits
		}
		ns.MixedPrecision = s.Namespace.MixedPrecision
		if s.Seed != 0 {
			ns.Seed(s.Seed)
		}
		if err := ns.Bind(root); err != nil {
			root.Destroy()
			return nil, err
		}
		ns.TotalParams = membrane.CountParams(root)
	}

	logger.Logger.Debugw("imported tree",
		"root", root.Name,
		"membranes", membrane.Count(root),
		"params", membrane.CountParams(root))
	return root, nil
}

func buildMembrane(ms *MembraneSpec, ctx *runtime.Context, gen *noise.Generator) (*membrane.Membrane, error) {
	limits := membrane.DefaultLimits()
	if ms.Limits != nil {
		limits = membrane.Limits{
			MaxChildren: ms.Limits.MaxChildren,
			MaxObjects:  ms.Limits.MaxObjects,
			MaxRules:    ms.Limits.MaxRules,
		}
	}
	m := membrane.NewWithLimits(ms.Name, ms.Level, ctx, limits)

	fail := func(err error, format string, args ...interface{}) (*membrane.Membrane, error) {
		m.Destroy()
		return nil, errors.Wrapf(err, format, args...)
	}

	for i := range ms.Tensors {
		t, err := buildTensor(&ms.Tensors[i], ctx, gen)
		if err != nil {
			return fail(err, "membrane %q tensor %q", ms.Name, ms.Tensors[i].Name)
		}
		if err := m.AddObject(t); err != nil {
			return fail(err, "membrane %q", ms.Name)
		}
	}
	for i, rs := range ms.Rules {
		r, err := rs.Rule()
		if err != nil {
			return fail(err, "membrane %q rule %d", ms.Name, i)
		}
		if err := m.AddRule(r); err != nil {
			return fail(err, "membrane %q", ms.Name)
		}
	}
	if ms.QAT != nil {
		cfg, err := ms.QAT.Config()
		if err != nil {
			return fail(err, "membrane %q qat", ms.Name)
		}
		m.AttachQAT(cfg)
	}
	for i := range ms.Children {
		child, err := buildMembrane(&ms.Children[i], ctx, gen)
		if err != nil {
			m.Destroy()
			return nil, err
		}
		if err := m.AddChild(child); err != nil {
			child.Destroy()
			return fail(err, "membrane %q", ms.Name)
		}
	}
	return m, nil
}

func buildTensor(ts *TensorSpec, ctx *runtime.Context, gen *noise.Generator) (*core.Tensor, error) {
	dt := core.F32
	if ts.Type != "" {
		var err error
		if dt, err = core.ParseDType(ts.Type); err != nil {
			return nil, err
		}
	}
	switch ts.Init {
	case "", InitZeros:
	case InitNoise, InitConstant:
		if !dt.IsFloat() {
			return nil, errors.InvalidArgumentf("init %q needs a float type, got %s", ts.Init, dt)
		}
	default:
		return nil, errors.InvalidArgumentf("unknown init %q", ts.Init)
	}

	t, err := ctx.NewNamedTensor(ts.Name, dt, ts.Shape...)
	if err != nil {
		return nil, err
	}
	switch ts.Init {
	case InitNoise:
		if f := t.Float32s(); f != nil {
			gen.Fill(f, ts.Scale)
		} else {
			t.Fill(func(int) float32 { return gen.Next(ts.Scale) })
		}
	case InitConstant:
		t.Fill(func(int) float32 { return ts.Scale })
	}
	return t, nil
}

// Export writes the structure of the tree rooted at root as YAML. The
// namespace section is written when root is its namespace's root.
func Export(root *membrane.Membrane, w io.Writer) error {
	if root == nil {
		return errors.InvalidArgumentf("export: root is nil")
	}
	spec := FromTree(root)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(spec); err != nil {
		return errors.Wrap(err, "encode tree spec")
	}
	return enc.Close()
}

// FromTree describes the tree rooted at root.
func FromTree(root *membrane.Membrane) *Spec {
	spec := &Spec{Version: Version, Root: membraneSpec(root)}
	if ns := root.Namespace(); ns != nil && ns.Root() == root {
		spec.Namespace = &NamespaceSpec{
			Name:           ns.Name,
			NoiseScale:     ns.NoiseScale,
			TargetBits:     ns.TargetBits,
			MixedPrecision: ns.MixedPrecision,
		}
	}
	return spec
}

func membraneSpec(m *membrane.Membrane) MembraneSpec {
	ms := MembraneSpec{Name: m.Name, Level: m.Level}
	if m.Limits != membrane.DefaultLimits() {
		ms.Limits = &LimitsSpec{
			MaxChildren: m.Limits.MaxChildren,
			MaxObjects:  m.Limits.MaxObjects,
			MaxRules:    m.Limits.MaxRules,
		}
	}
	for _, t := range m.Objects() {
		ms.Tensors = append(ms.Tensors, TensorSpec{
			Name:  t.Name,
			Type:  t.Type.String(),
			Shape: append([]int64(nil), t.Shape...),
		})
	}
	for _, r := range m.Rules() {
		ms.Rules = append(ms.Rules, NewRuleSpec(r))
	}
	if cfg, ok := m.QATConfig(); ok {
		ms.QAT = NewQATSpec(cfg)
	}
	for _, c := range m.Children() {
		ms.Children = append(ms.Children, membraneSpec(c))
	}
	return ms
}
