// Package membrane organises model tensors into a tree of scoped containers
// and coordinates data-free QAT across it.
//
// A Membrane owns its child membranes and an optional QAT config clone. It
// references, but never owns, the tensors attached as objects. A Namespace is
// bound to a root and propagated to every descendant; it carries the shared
// policy, the backend handle and the noise generator used by QAT.
//
// A tree has a single logical owner. Nothing in this package locks.
package membrane

import (
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/qat"
	"github.com/sbl8/p9ml/runtime"
)

const (
	// MaxNameLen is the longest stored membrane name in bytes.
	MaxNameLen = 63
	// DefaultName replaces an empty membrane name.
	DefaultName = "unnamed"
)

// Limits bounds the containers of a membrane. A zero field means unbounded.
type Limits struct {
	MaxChildren int
	MaxObjects  int
	MaxRules    int
}

// DefaultLimits returns the stock capacities: 16 children, 256 objects and
// 64 rules.
func DefaultLimits() Limits {
	return Limits{MaxChildren: 16, MaxObjects: 256, MaxRules: 64}
}

// Membrane is a node in the hierarchy.
type Membrane struct {
	ID     uuid.UUID
	Name   string
	Level  int
	Limits Limits

	parent    *Membrane
	children  []*Membrane
	objects   []*core.Tensor
	rules     []Rule
	namespace *Namespace
	qat       *qat.Config
	ctx       *runtime.Context
}

// New creates a membrane with DefaultLimits. Level is stored as given.
func New(name string, level int, ctx *runtime.Context) *Membrane {
	return NewWithLimits(name, level, ctx, DefaultLimits())
}

// NewWithLimits creates a membrane with explicit capacities.
func NewWithLimits(name string, level int, ctx *runtime.Context, limits Limits) *Membrane {
	return &Membrane{
		ID:     uuid.New(),
		Name:   normalizeName(name),
		Level:  level,
		Limits: limits,
		ctx:    ctx,
	}
}

func normalizeName(name string) string {
	if name == "" {
		return DefaultName
	}
	if len(name) <= MaxNameLen {
		return name
	}
	cut := MaxNameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// Parent returns the enclosing membrane, or nil for a root.
func (m *Membrane) Parent() *Membrane { return m.parent }

// Namespace returns the bound namespace, or nil.
func (m *Membrane) Namespace() *Namespace { return m.namespace }

// Context returns the allocation context the membrane was created with.
func (m *Membrane) Context() *runtime.Context { return m.ctx }

// Children returns a copy of the child list.
func (m *Membrane) Children() []*Membrane {
	return append([]*Membrane(nil), m.children...)
}

// Objects returns a copy of the object list.
func (m *Membrane) Objects() []*core.Tensor {
	return append([]*core.Tensor(nil), m.objects...)
}

// Rules returns a copy of the rule list.
func (m *Membrane) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// NumChildren returns the number of direct children.
func (m *Membrane) NumChildren() int { return len(m.children) }

// NumObjects returns the number of attached tensors.
func (m *Membrane) NumObjects() int { return len(m.objects) }

// NumRules returns the number of rules.
func (m *Membrane) NumRules() int { return len(m.rules) }

// QATConfig returns a copy of the attached QAT config, if any.
func (m *Membrane) QATConfig() (qat.Config, bool) {
	if m.qat == nil {
		return qat.Config{}, false
	}
	return *m.qat, true
}

// Root walks parent links to the top of the tree.
func (m *Membrane) Root() *Membrane {
	for m.parent != nil {
		m = m.parent
	}
	return m
}

// IsAncestorOf reports whether m is other or one of its ancestors.
func (m *Membrane) IsAncestorOf(other *Membrane) bool {
	for p := other; p != nil; p = p.parent {
		if p == m {
			return true
		}
	}
	return false
}

// Child returns the direct child with the given name.
func (m *Membrane) Child(name string) *Membrane {
	for _, c := range m.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// AddChild attaches child under m and copies m's namespace onto the child
// only. A child that already has a parent, m itself, or an ancestor of m is
// rejected.
func (m *Membrane) AddChild(child *Membrane) error {
	if m == nil || child == nil {
		return errors.InvalidArgumentf("add child: membrane is nil")
	}
	if child.parent != nil {
		return errors.InvalidArgumentf("membrane %q already has parent %q", child.Name, child.parent.Name)
	}
	if child.IsAncestorOf(m) {
		return errors.InvalidArgumentf("adding %q under %q would create a cycle", child.Name, m.Name)
	}
	if full(len(m.children), m.Limits.MaxChildren) {
		return errors.Wrapf(errors.ErrCapacityExceeded, "membrane %q children (%d)", m.Name, m.Limits.MaxChildren)
	}
	m.children = append(m.children, child)
	child.parent = m
	child.namespace = m.namespace
	return nil
}

// AddObject attaches a tensor reference. The tensor is not inspected.
func (m *Membrane) AddObject(t *core.Tensor) error {
	if m == nil || t == nil {
		return errors.InvalidArgumentf("add object: membrane or tensor is nil")
	}
	if full(len(m.objects), m.Limits.MaxObjects) {
		return errors.Wrapf(errors.ErrCapacityExceeded, "membrane %q objects (%d)", m.Name, m.Limits.MaxObjects)
	}
	m.objects = append(m.objects, t)
	return nil
}

// AddRule appends an evolution rule after validating it.
func (m *Membrane) AddRule(r Rule) error {
	if m == nil {
		return errors.InvalidArgumentf("add rule: membrane is nil")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if full(len(m.rules), m.Limits.MaxRules) {
		return errors.Wrapf(errors.ErrCapacityExceeded, "membrane %q rules (%d)", m.Name, m.Limits.MaxRules)
	}
	m.rules = append(m.rules, r)
	return nil
}

// Destroy tears down m and its subtree, post-order, and detaches m from its
// parent. Referenced tensors are left alone. Destroy on nil is a no-op.
func (m *Membrane) Destroy() {
	if m == nil {
		return
	}
	if m.parent != nil {
		m.parent.removeChild(m)
	}
	m.destroy()
}

func (m *Membrane) destroy() {
	for _, c := range m.children {
		c.destroy()
	}
	m.qat = nil
	m.children = nil
	m.objects = nil
	m.rules = nil
	m.parent = nil
	m.namespace = nil
	m.ctx = nil
}

func (m *Membrane) removeChild(child *Membrane) {
	for i, c := range m.children {
		if c == child {
			m.children = append(m.children[:i], m.children[i+1:]...)
			child.parent = nil
			return
		}
	}
}

// takeObjects removes and returns the objects selected by match, keeping the
// relative order of the rest.
func (m *Membrane) takeObjects(match func(*core.Tensor) bool) []*core.Tensor {
	var taken []*core.Tensor
	kept := m.objects[:0]
	for _, t := range m.objects {
		if match(t) {
			taken = append(taken, t)
			continue
		}
		kept = append(kept, t)
	}
	clear(m.objects[len(kept):])
	m.objects = kept
	return taken
}

// hasRoomFor reports whether n more objects fit.
func (m *Membrane) hasRoomFor(n int) bool {
	return m.Limits.MaxObjects == 0 || len(m.objects)+n <= m.Limits.MaxObjects
}

func full(size, limit int) bool {
	return limit > 0 && size >= limit
}
