package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sbl8/p9ml/codec"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/membrane"
	"github.com/sbl8/p9ml/qat"
)

type treeOptions struct {
	applyQAT bool
	evolve   int
	classify bool
	export   string
}

func newTreeCmd(a *app) *cobra.Command {
	opts := treeOptions{}
	cmd := &cobra.Command{
		Use:   "tree <spec.yaml>",
		Short: "Import a membrane tree and run QAT over it",
		Long: `Imports a YAML tree spec, binds a namespace (the document's, or one built
from config) and prints the hierarchy. Optional steps run in order: QAT noise
injection with the configured qat section, evolution steps, precision
classification, and export back to YAML.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTree(cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.applyQAT, "qat", false, "Apply data-free QAT noise")
	cmd.Flags().IntVar(&opts.evolve, "evolve", 0, "Evolution steps to run")
	cmd.Flags().BoolVar(&opts.classify, "classify", false, "Classify tensor precision")
	cmd.Flags().StringVarP(&opts.export, "export", "o", "", "Write the resulting tree as YAML to this path (- for stdout)")
	return cmd
}

// loadTree imports path with a fresh arena and engine. A document without a
// namespace section gets the configured one.
func (a *app) loadTree(path string) (*membrane.Membrane, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	spec, err := codec.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	arena, err := a.newContext()
	if err != nil {
		return nil, err
	}
	engine := a.newEngine()
	root, err := spec.Build(arena, engine)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if root.Namespace() == nil {
		ns := a.cfg.NewNamespace(engine)
		if err := ns.Bind(root); err != nil {
			return nil, err
		}
		ns.TotalParams = membrane.CountParams(root)
	}
	return root, nil
}

func (a *app) runTree(w io.Writer, path string, opts treeOptions) error {
	root, err := a.loadTree(path)
	if err != nil {
		return err
	}
	defer root.Destroy()

	heading(w, "Membrane tree")
	if err := renderTree(w, root); err != nil {
		return err
	}

	if opts.applyQAT {
		cfg, err := a.cfg.QATConfig()
		if err != nil {
			return err
		}
		heading(w, "Data-free QAT")
		fmt.Fprintf(w, "QAT Configuration: %s\n", cfg)
		status(w, membrane.ApplyQAT(root, cfg), "Data-free QAT applied", "Data-free QAT failed")
	}

	for i := 0; i < opts.evolve; i++ {
		if i == 0 {
			heading(w, "Evolution")
		}
		status(w, membrane.Evolve(root), fmt.Sprintf("Step %d completed", i+1), fmt.Sprintf("Step %d failed", i+1))
	}

	if opts.classify {
		heading(w, "Mixed precision")
		var all []qat.Assignment
		for _, m := range allMembranes(root) {
			as, err := membrane.ClassifyPrecision(m, a.cfg.QAT.PrecisionThreshold)
			if err != nil {
				return err
			}
			all = append(all, as...)
		}
		if err := renderAssignments(w, all); err != nil {
			return err
		}
	}

	heading(w, "Statistics")
	if err := renderStats(w, allMembranes(root)...); err != nil {
		return err
	}
	fmt.Fprint(w, root.Namespace().Stats().String())

	if opts.export != "" {
		return exportTree(w, root, opts.export)
	}
	return nil
}

func exportTree(w io.Writer, root *membrane.Membrane, path string) error {
	if path == "-" {
		return codec.Export(root, w)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := codec.Export(root, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
