package commands

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/sbl8/p9ml/membrane"
	"github.com/sbl8/p9ml/qat"
)

func heading(w io.Writer, title string) {
	s, _ := pterm.DefaultSection.Srender(title)
	fmt.Fprint(w, s)
}

// renderTree draws the membrane hierarchy with object counts.
func renderTree(w io.Writer, root *membrane.Membrane) error {
	var list pterm.LeveledList
	_ = membrane.Walk(root, func(m *membrane.Membrane) error {
		depth := 0
		for p := m; p != root; p = p.Parent() {
			depth++
		}
		list = append(list, pterm.LeveledListItem{
			Level: depth,
			Text:  fmt.Sprintf("%s (level %d, %d objects)", m.Name, m.Level, m.NumObjects()),
		})
		return nil
	})
	s, err := pterm.DefaultTree.WithRoot(putils.TreeFromLeveledList(list)).Srender()
	if err != nil {
		return err
	}
	fmt.Fprint(w, s)
	return nil
}

// renderStats prints one row of membrane statistics per membrane.
func renderStats(w io.Writer, ms ...*membrane.Membrane) error {
	data := pterm.TableData{{"Membrane", "Level", "Objects", "Children", "Rules", "QAT"}}
	for _, m := range ms {
		s := m.Stats()
		q := "disabled"
		if s.QATEnabled {
			q = fmt.Sprintf("noise=%.3f, bits=%s", s.NoiseScale, s.TargetType)
		}
		data = append(data, []string{
			s.Name,
			fmt.Sprint(s.Level),
			fmt.Sprintf("%d/%s", s.Objects, limit(s.MaxObjects)),
			fmt.Sprintf("%d/%s", s.Children, limit(s.MaxChildren)),
			fmt.Sprintf("%d/%s", s.Rules, limit(s.MaxRules)),
			q,
		})
	}
	return renderTable(w, data)
}

func renderAssignments(w io.Writer, as []qat.Assignment) error {
	data := pterm.TableData{{"Tensor", "Elements", "Bucket", "Bits"}}
	for _, a := range as {
		data = append(data, []string{a.Tensor, fmt.Sprint(a.Elements), a.Bucket.String(), fmt.Sprint(a.Bits)})
	}
	return renderTable(w, data)
}

func renderTable(w io.Writer, data pterm.TableData) error {
	s, err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, s)
	return nil
}

func limit(n int) string {
	if n == 0 {
		return "unbounded"
	}
	return fmt.Sprint(n)
}

// allMembranes lists the subtree in pre-order.
func allMembranes(root *membrane.Membrane) []*membrane.Membrane {
	var out []*membrane.Membrane
	_ = membrane.Walk(root, func(m *membrane.Membrane) error {
		out = append(out, m)
		return nil
	})
	return out
}

func status(w io.Writer, err error, ok, failed string) {
	if err != nil {
		fmt.Fprintf(w, "✗ %s: %v\n", failed, err)
		return
	}
	fmt.Fprintf(w, "✓ %s\n", ok)
}
