package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sbl8/p9ml/logger"
	"github.com/sbl8/p9ml/membrane"
	"github.com/sbl8/p9ml/store/sqlite"
)

func newSnapshotCmd(a *app) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save and restore membrane trees",
		Long: `Stores membrane trees, tensor contents included, in a SQLite database
(store.path in config, or --db).

Examples:
  p9ml snapshot save model.yaml v1      # Import a tree spec and store it as v1
  p9ml snapshot load v1 -o model.yaml   # Restore v1 and export its structure
  p9ml snapshot ls                      # List stored snapshots
  p9ml snapshot rm v1                   # Delete v1`,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Snapshot database (overrides store.path)")

	open := func() (*sqlite.Store, error) {
		path := a.cfg.Store.Path
		if dbPath != "" {
			path = dbPath
		}
		db, err := sqlite.Open(path, logger.Logger)
		if err != nil {
			return nil, err
		}
		s, err := sqlite.New(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}

	var applyQAT bool
	save := &cobra.Command{
		Use:   "save <spec.yaml> <name>",
		Short: "Import a tree spec and store it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			return a.runSnapshotSave(cmd.Context(), cmd.OutOrStdout(), s, args[0], args[1], applyQAT)
		},
	}
	save.Flags().BoolVar(&applyQAT, "qat", false, "Apply data-free QAT before saving")

	var export string
	load := &cobra.Command{
		Use:   "load <name>",
		Short: "Restore a stored tree and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			return runSnapshotLoad(cmd.Context(), cmd.OutOrStdout(), s, args[0], export)
		},
	}
	load.Flags().StringVarP(&export, "export", "o", "", "Write the restored tree as YAML to this path (- for stdout)")

	list := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored snapshots",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			return runSnapshotList(cmd.Context(), cmd.OutOrStdout(), s)
		},
	}

	remove := &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.DeleteSnapshot(ctxOrBackground(cmd.Context()), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted snapshot %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(save, load, list, remove)
	return cmd
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func (a *app) runSnapshotSave(ctx context.Context, w io.Writer, s *sqlite.Store, specPath, name string, applyQAT bool) error {
	root, err := a.loadTree(specPath)
	if err != nil {
		return err
	}
	defer root.Destroy()

	if applyQAT {
		cfg, err := a.cfg.QATConfig()
		if err != nil {
			return err
		}
		if err := membrane.ApplyQAT(root, cfg); err != nil {
			return err
		}
	}

	snap, err := s.SaveTree(ctxOrBackground(ctx), name, root)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ Saved snapshot %s (%s): %d membranes, %d tensors\n", snap.Name, snap.ID, snap.Membranes, snap.Tensors)
	return nil
}

func runSnapshotLoad(ctx context.Context, w io.Writer, s *sqlite.Store, name, export string) error {
	root, err := s.LoadTree(ctxOrBackground(ctx), name)
	if err != nil {
		return err
	}
	defer root.Destroy()

	heading(w, "Snapshot "+name)
	if err := renderTree(w, root); err != nil {
		return err
	}
	if err := renderStats(w, allMembranes(root)...); err != nil {
		return err
	}
	if ns := root.Namespace(); ns != nil {
		fmt.Fprint(w, ns.Stats().String())
	}
	if export != "" {
		return exportTree(w, root, export)
	}
	return nil
}

func runSnapshotList(ctx context.Context, w io.Writer, s *sqlite.Store) error {
	snaps, err := s.ListSnapshots(ctxOrBackground(ctx))
	if err != nil {
		return err
	}
	data := pterm.TableData{{"Name", "Namespace", "Membranes", "Tensors", "Created", "ID"}}
	for _, snap := range snaps {
		data = append(data, []string{
			snap.Name,
			snap.Namespace,
			fmt.Sprint(snap.Membranes),
			fmt.Sprint(snap.Tensors),
			snap.CreatedAt.Format("2006-01-02 15:04:05"),
			snap.ID.String(),
		})
	}
	return renderTable(w, data)
}
