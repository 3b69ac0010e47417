package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
	"github.com/sbl8/p9ml/membrane"
	"github.com/sbl8/p9ml/model"
	"github.com/sbl8/p9ml/qat"
)

type demoOptions struct {
	dim       int
	threshold float64
}

func newDemoCmd(a *app) *cobra.Command {
	opts := demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the transformer membrane walkthrough",
		Long: `Builds a transformer_model membrane with embedding, attention and ffn
children, fills them with parameters, then applies data-free QAT, evolves the
membranes, classifies precision, runs tiled QAT and prints namespace stats.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDemo(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.dim, "dim", 512, "Model width; tensor shapes scale with it")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0.95, "Mixed-precision threshold")
	return cmd
}

func (a *app) runDemo(ctx context.Context, w io.Writer, opts demoOptions) error {
	if opts.dim <= 0 {
		return errors.InvalidArgumentf("dim must be positive, got %d", opts.dim)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d := int64(opts.dim)

	arena, err := a.newContext()
	if err != nil {
		return err
	}
	engine := a.newEngine()
	ns := a.cfg.NewNamespace(engine)
	ns.Name = "ml_workspace"

	heading(w, "1. Creating Membrane Computing Hierarchy")
	limits := a.cfg.Limits()
	root := membrane.NewWithLimits("transformer_model", 0, arena, limits)
	defer root.Destroy()
	defer ns.Destroy()
	layers := map[string]*membrane.Membrane{}
	for _, name := range []string{"embedding", "attention", "ffn"} {
		layers[name] = membrane.NewWithLimits(name, 1, arena, limits)
		if err := root.AddChild(layers[name]); err != nil {
			return err
		}
	}
	if err := ns.Bind(root); err != nil {
		return err
	}
	if err := renderTree(w, root); err != nil {
		return err
	}

	heading(w, "2. Adding Model Parameters (Tensors)")
	params := []struct {
		layer, name string
		shape       []int64
	}{
		{"embedding", "word_embeddings", []int64{d, 1000}},
		{"embedding", "pos_embeddings", []int64{d, d}},
		{"attention", "query_weights", []int64{d, d}},
		{"attention", "key_weights", []int64{d, d}},
		{"attention", "value_weights", []int64{d, d}},
		{"ffn", "ffn_up", []int64{d, 4 * d}},
		{"ffn", "ffn_down", []int64{4 * d, d}},
	}
	for _, p := range params {
		t, err := arena.NewNamedTensor(p.name, core.F32, p.shape...)
		if err != nil {
			return errors.Wrapf(err, "allocate %s", p.name)
		}
		if err := layers[p.layer].AddObject(t); err != nil {
			return err
		}
	}
	word := layers["embedding"].Objects()[0]
	ns.Generator().Fill(word.Float32s(), 0.05)
	ns.SetMetrics(membrane.CountParams(root), 0, membrane.DefaultCompressionRatio)
	if err := renderStats(w, allMembranes(root)...); err != nil {
		return err
	}

	heading(w, "3. Applying Data-Free QAT")
	cfg := qat.New(core.Q4K, 0.05)
	cfg.PerChannel = true
	cfg.MixedPrecision = true
	cfg.NumSteps = 50
	fmt.Fprintf(w, "QAT Configuration: %s\n", cfg)
	status(w, membrane.ApplyQAT(root, cfg), "Data-free QAT applied", "Failed to apply data-free QAT")

	heading(w, "4. Membrane Evolution (P-Systems Computation)")
	if err := layers["ffn"].AddRule(membrane.Rewrite("ffn_", kernels.OpClamp)); err != nil {
		return err
	}
	status(w, membrane.Evolve(root), "Membrane evolution completed", "Membrane evolution failed")

	heading(w, "5. Mixed Precision Optimization")
	var assignments []qat.Assignment
	var classifyErr error
	for _, m := range allMembranes(root) {
		as, err := membrane.ClassifyPrecision(m, opts.threshold)
		if err != nil {
			classifyErr = err
			break
		}
		assignments = append(assignments, as...)
	}
	status(w, classifyErr, "Mixed precision classification completed", "Mixed precision classification failed")
	if classifyErr == nil {
		if err := renderAssignments(w, assignments); err != nil {
			return err
		}
	}

	heading(w, "6. Forward Tiled QAT")
	quant := &qat.FakeQuantizer{Bits: cfg.TargetType.Bits()}
	reference, err := membrane.GenerateSynthetic(arena, []int64{d}, cfg.NoiseScale, ns.Generator())
	if err != nil {
		return err
	}
	var tileErr error
	for _, m := range allMembranes(root) {
		if tileErr = membrane.TileQAT(m, cfg, reference, quant); tileErr != nil {
			break
		}
	}
	status(w, tileErr, fmt.Sprintf("Forward tiled QAT completed (%d tiles, reference MSE %.6f)", quant.Tiles, quant.MSE()), "Forward tiled QAT failed")

	heading(w, "7. Backend Compute")
	graph := model.Chain(kernels.OpRound, layers["attention"].Objects()...)
	status(w, ns.Compute(ctx, graph), fmt.Sprintf("Computed %d nodes on %d workers", graph.NodeCount(), engine.Workers()), "Compute failed")

	heading(w, "8. Final Statistics")
	total := membrane.CountParams(root)
	ns.SetMetrics(total, total, 8.0/4.0)
	fmt.Fprint(w, ns.Stats().String())
	return nil
}
