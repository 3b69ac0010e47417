package membrane

import (
	"go.uber.org/multierr"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
	"github.com/sbl8/p9ml/logger"
)

type ruleFunc func(m *Membrane, r Rule) error

var ruleTable = map[RuleKind]ruleFunc{
	RuleRewrite:     fireRewrite,
	RuleCommunicate: fireCommunicate,
	RuleDivide:      fireDivide,
	RuleTransport:   fireTransport,
}

// Evolve runs one evolution step over the subtree rooted at m: depth-first,
// pre-order, each membrane fires its rules in order before its children are
// visited. Membranes created by division during the step are not visited
// until the next step. Every membrane is visited even when rules fail;
// failures are returned together.
//
// Rules see the objects a membrane holds when it is visited. Objects moved
// by Communicate In or Transport into a membrane later in the walk are
// therefore subject to that membrane's rules in the same step, and can
// descend several levels at once. Objects moved to an already visited
// membrane, such as a parent, wait for the next step.
func Evolve(m *Membrane) error {
	if m == nil {
		return errors.InvalidArgumentf("evolve: membrane is nil")
	}
	var errs error
	_ = Walk(m, func(node *Membrane) error {
		for i, r := range node.Rules() {
			fire, ok := ruleTable[r.Kind]
			if !ok {
				errs = multierr.Append(errs, errors.InvalidArgumentf("membrane %q rule %d: unknown kind %d", node.Name, i, r.Kind))
				continue
			}
			if err := fire(node, r); err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "membrane %q rule %d (%s)", node.Name, i, r))
				continue
			}
			logger.Logger.Debugw("fired rule", "membrane", node.Name, "rule", r.String())
		}
		return nil
	})
	return errs
}

func fireRewrite(m *Membrane, r Rule) error {
	kernel := kernels.GetKernel(r.Op)
	if kernel == nil {
		return errors.InvalidArgumentf("unknown kernel %#x", r.Op)
	}
	var errs error
	for _, t := range m.objects {
		if !r.Matches(t) || t.Type != core.F32 || !t.HasData() {
			continue
		}
		if err := t.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		kernel(t.Float32s())
	}
	return errs
}

func fireCommunicate(m *Membrane, r Rule) error {
	var dst *Membrane
	switch r.Direction {
	case Out:
		dst = m.parent
		if dst == nil {
			return errors.InvalidArgumentf("root membrane %q cannot communicate out", m.Name)
		}
	case In:
		dst = m.Child(r.Target)
		if dst == nil {
			return errors.InvalidArgumentf("membrane %q has no child %q", m.Name, r.Target)
		}
	}
	return moveObjects(m, dst, r.Matches)
}

// fireDivide creates a sibling of m carrying m's level, limits, namespace and
// rules, and moves the second half of m's matching objects into it. Nothing
// happens when no object matches.
func fireDivide(m *Membrane, r Rule) error {
	parent := m.parent
	if parent == nil {
		return errors.InvalidArgumentf("root membrane %q cannot divide", m.Name)
	}
	var matching []*core.Tensor
	for _, t := range m.objects {
		if r.Matches(t) {
			matching = append(matching, t)
		}
	}
	if len(matching) == 0 {
		return nil
	}
	if full(len(parent.children), parent.Limits.MaxChildren) {
		return errors.Wrapf(errors.ErrCapacityExceeded, "membrane %q children (%d)", parent.Name, parent.Limits.MaxChildren)
	}

	moving := make(map[*core.Tensor]bool)
	for _, t := range matching[len(matching)/2:] {
		moving[t] = true
	}
	sibling := NewWithLimits(m.Name+r.Suffix, m.Level, m.ctx, m.Limits)
	if !sibling.hasRoomFor(len(moving)) {
		return errors.Wrapf(errors.ErrCapacityExceeded, "membrane %q objects (%d)", sibling.Name, sibling.Limits.MaxObjects)
	}
	sibling.rules = append(sibling.rules, m.rules...)
	if err := parent.AddChild(sibling); err != nil {
		return err
	}
	sibling.namespace = m.namespace
	sibling.objects = append(sibling.objects, m.takeObjects(func(t *core.Tensor) bool { return moving[t] })...)
	return nil
}

func fireTransport(m *Membrane, r Rule) error {
	start := m.Root()
	if m.namespace != nil && m.namespace.root != nil {
		start = m.namespace.root
	}
	dst := Find(start, r.Target)
	if dst == nil {
		return errors.InvalidArgumentf("no membrane named %q", r.Target)
	}
	if dst == m {
		return nil
	}
	return moveObjects(m, dst, r.Matches)
}

// moveObjects moves every object of src selected by match to dst, or
// nothing when dst lacks room for all of them.
func moveObjects(src, dst *Membrane, match func(*core.Tensor) bool) error {
	n := 0
	for _, t := range src.objects {
		if match(t) {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	if !dst.hasRoomFor(n) {
		return errors.Wrapf(errors.ErrCapacityExceeded, "membrane %q objects (%d)", dst.Name, dst.Limits.MaxObjects)
	}
	dst.objects = append(dst.objects, src.takeObjects(match)...)
	return nil
}
