package membrane

import (
	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
)

var errStop = errors.New("stop walk")

// WalkFunc is called for every membrane visited by Walk.
type WalkFunc func(m *Membrane) error

// Walk visits m and its descendants depth-first, pre-order. A node's
// children are snapshotted after fn returns for that node, so fn may change
// them; membranes added elsewhere during the walk are not visited. The
// first error returned by fn stops the walk.
func Walk(m *Membrane, fn WalkFunc) error {
	if m == nil {
		return nil
	}
	if err := fn(m); err != nil {
		return err
	}
	for _, c := range m.Children() {
		if err := Walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the first membrane named name in a pre-order walk from m.
func Find(m *Membrane, name string) *Membrane {
	var found *Membrane
	_ = Walk(m, func(n *Membrane) error {
		if n.Name == name {
			found = n
			return errStop
		}
		return nil
	})
	return found
}

// Count returns the number of membranes in the subtree rooted at m.
func Count(m *Membrane) int {
	n := 0
	_ = Walk(m, func(*Membrane) error {
		n++
		return nil
	})
	return n
}

// CountParams sums the element counts of every tensor referenced in the
// subtree. A tensor attached to several membranes is counted once.
func CountParams(root *Membrane) int64 {
	seen := make(map[*core.Tensor]struct{})
	var total int64
	_ = Walk(root, func(m *Membrane) error {
		for _, t := range m.objects {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			total += t.Elements()
		}
		return nil
	})
	return total
}
