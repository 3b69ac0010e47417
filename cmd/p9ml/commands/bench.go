package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
	"github.com/sbl8/p9ml/model"
	"github.com/sbl8/p9ml/noise"
)

type benchOptions struct {
	size int
	iter int
}

func newBenchCmd(a *app) *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure kernel, noise and engine throughput",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBench(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.size, "size", 1024, "Elements per buffer")
	cmd.Flags().IntVar(&opts.iter, "iter", 1000, "Iterations per measurement")
	return cmd
}

func (a *app) runBench(ctx context.Context, w io.Writer, opts benchOptions) error {
	if opts.size <= 0 || opts.iter <= 0 {
		return errors.InvalidArgumentf("size and iter must be positive")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	gen := noise.New(a.cfg.QAT.Seed)
	input := make([]float32, opts.size)
	gen.Fill(input, 10)
	work := make([]float32, opts.size)

	mops := func(d time.Duration) string {
		return fmt.Sprintf("%.2f", float64(opts.size)*float64(opts.iter)/d.Seconds()/1e6)
	}
	data := pterm.TableData{{"Operation", "Time", "Mops/s"}}

	ops := make([]int, 0, len(kernels.Catalog))
	for op, fn := range kernels.Catalog {
		if fn != nil {
			ops = append(ops, op)
		}
	}
	sort.Ints(ops)
	for _, op := range ops {
		fn := kernels.Catalog[op]
		start := time.Now()
		for i := 0; i < opts.iter; i++ {
			copy(work, input)
			fn(work)
		}
		d := time.Since(start)
		data = append(data, []string{kernels.Name(byte(op)), d.String(), mops(d)})
	}

	start := time.Now()
	for i := 0; i < opts.iter; i++ {
		gen.Perturb(work, 0.05)
	}
	d := time.Since(start)
	data = append(data, []string{"noise perturb", d.String(), mops(d)})

	start = time.Now()
	for i := 0; i < opts.iter; i++ {
		_ = kernels.VectorDot(input, work)
	}
	d = time.Since(start)
	data = append(data, []string{"dot", d.String(), mops(d)})

	// engine: one independent node per tensor, so a level spans every worker
	engine := a.newEngine()
	g := &model.Graph{}
	for i := 0; i < engine.Workers()*2; i++ {
		t, err := core.NewTensor(fmt.Sprintf("bench.%d", i), core.F32, int64(opts.size))
		if err != nil {
			return err
		}
		copy(t.Float32s(), input)
		g.AddNode(kernels.OpTanh, g.AddTensor(t))
	}
	start = time.Now()
	for i := 0; i < opts.iter; i++ {
		if err := engine.GraphCompute(ctx, g); err != nil {
			return err
		}
	}
	d = time.Since(start)
	data = append(data, []string{
		fmt.Sprintf("engine (%d nodes, %d workers)", g.NodeCount(), engine.Workers()),
		d.String(),
		fmt.Sprintf("%.2f", float64(opts.size)*float64(g.NodeCount())*float64(opts.iter)/d.Seconds()/1e6),
	})

	heading(w, fmt.Sprintf("Throughput (%d elements, %d iterations)", opts.size, opts.iter))
	return renderTable(w, data)
}
