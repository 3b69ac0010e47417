// Package commands implements the p9ml command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/sbl8/p9ml/config"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/logger"
	"github.com/sbl8/p9ml/runtime"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	jsonLogs   bool
	logLevel   string

	cfg *config.Config
}

// NewRootCmd builds the p9ml command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "p9ml",
		Short: "Membrane hierarchies with data-free QAT",
		Long: `p9ml - Membrane computing for model parameters.

Organises a model's tensors into nested membranes, binds a namespace to the
tree and propagates data-free quantization-aware training across it.

Examples:
  p9ml demo                          # Run the transformer walkthrough
  p9ml tree model.yaml --qat         # Import a tree, inject QAT noise, show stats
  p9ml snapshot save model.yaml v1   # Store a tree in the snapshot database
  p9ml bench --size 4096             # Kernel and noise throughput`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default: ~/.p9ml/config.toml and ./p9ml.toml)")
	flags.BoolVar(&a.jsonLogs, "json-logs", false, "Log as JSON")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newDemoCmd(a),
		newTreeCmd(a),
		newBenchCmd(a),
		newSnapshotCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFromFile(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if err := a.cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	level := a.cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	if err := logger.Initialize(a.jsonLogs || a.cfg.Log.JSON, level); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	return nil
}

// newContext creates an allocation arena sized from config.
func (a *app) newContext() (*runtime.Context, error) {
	return runtime.NewContext(a.cfg.Runtime.ArenaSize)
}

// newEngine creates the compute backend. Zero workers means one per CPU.
func (a *app) newEngine() *runtime.Engine {
	opts := runtime.DefaultEngineOptions()
	if a.cfg.Runtime.Workers > 0 {
		opts.Workers = a.cfg.Runtime.Workers
	}
	return runtime.NewEngine(&opts)
}
