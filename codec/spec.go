// Package codec reads and writes membrane trees as YAML documents.
//
// A document describes the namespace policy, then the tree: each membrane
// with its capacities, tensors (name, type, shape, initial contents),
// evolution rules, optional QAT config and children. Import builds the tree
// and allocates every tensor in a runtime.Context; Export writes a tree's
// structure back out. Tensor contents are not exported.
package codec

import (
	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
	"github.com/sbl8/p9ml/membrane"
	"github.com/sbl8/p9ml/qat"
)

// Version is the document version written by Export.
const Version = 1

// Tensor initialisers.
const (
	InitZeros    = "zeros"
	InitNoise    = "noise"
	InitConstant = "constant"
)

// Spec is a YAML tree document.
type Spec struct {
	Version   int            `yaml:"version"`
	Seed      uint32         `yaml:"seed,omitempty"`
	Namespace *NamespaceSpec `yaml:"namespace,omitempty"`
	Root      MembraneSpec   `yaml:"root"`
}

// NamespaceSpec is the namespace bound to the root after import.
type NamespaceSpec struct {
	Name           string  `yaml:"name"`
	NoiseScale     float32 `yaml:"noise_scale,omitempty"`
	TargetBits     int     `yaml:"target_bits,omitempty"`
	MixedPrecision bool    `yaml:"mixed_precision,omitempty"`
}

// MembraneSpec describes one membrane and its subtree.
type MembraneSpec struct {
	Name     string         `yaml:"name"`
	Level    int            `yaml:"level"`
	Limits   *LimitsSpec    `yaml:"limits,omitempty"`
	Tensors  []TensorSpec   `yaml:"tensors,omitempty"`
	Rules    []RuleSpec     `yaml:"rules,omitempty"`
	QAT      *QATSpec       `yaml:"qat,omitempty"`
	Children []MembraneSpec `yaml:"children,omitempty"`
}

// LimitsSpec overrides the default capacities. Zero means unbounded.
type LimitsSpec struct {
	MaxChildren int `yaml:"max_children"`
	MaxObjects  int `yaml:"max_objects"`
	MaxRules    int `yaml:"max_rules"`
}

// TensorSpec describes a tensor to allocate.
type TensorSpec struct {
	Name  string  `yaml:"name"`
	Type  string  `yaml:"type,omitempty"` // defaults to f32
	Shape []int64 `yaml:"shape,flow"`
	Init  string  `yaml:"init,omitempty"`  // zeros, noise or constant
	Scale float32 `yaml:"scale,omitempty"` // noise bound or constant value
}

// RuleSpec is the YAML form of membrane.Rule.
type RuleSpec struct {
	Kind      string `yaml:"kind"`
	Selector  string `yaml:"selector,omitempty"`
	Op        string `yaml:"op,omitempty"`
	Direction string `yaml:"direction,omitempty"`
	Target    string `yaml:"target,omitempty"`
	Suffix    string `yaml:"suffix,omitempty"`
}

// QATSpec is the YAML form of qat.Config.
type QATSpec struct {
	TargetType     string  `yaml:"target_type"`
	NoiseScale     float32 `yaml:"noise_scale"`
	PerChannel     *bool   `yaml:"per_channel,omitempty"`
	MixedPrecision bool    `yaml:"mixed_precision"`
	Temperature    float32 `yaml:"temperature"`
	NumSteps       int     `yaml:"num_steps"`
	LearningRate   float32 `yaml:"learning_rate"`
	TileSize       int     `yaml:"tile_size"`
	UseReference   *bool   `yaml:"use_reference,omitempty"`
	Seed           uint32  `yaml:"seed,omitempty"`
}

// Rule converts the spec to a validated membrane.Rule.
func (r RuleSpec) Rule() (membrane.Rule, error) {
	kind, err := membrane.ParseRuleKind(r.Kind)
	if err != nil {
		return membrane.Rule{}, err
	}
	rule := membrane.Rule{
		Kind:     kind,
		Selector: r.Selector,
		Target:   r.Target,
		Suffix:   r.Suffix,
	}
	if kind == membrane.RuleRewrite {
		op, ok := kernels.Lookup(r.Op)
		if !ok {
			return membrane.Rule{}, errors.InvalidArgumentf("unknown kernel %q", r.Op)
		}
		rule.Op = op
	}
	if kind == membrane.RuleCommunicate {
		if rule.Direction, err = membrane.ParseDirection(r.Direction); err != nil {
			return membrane.Rule{}, err
		}
	}
	return rule, rule.Validate()
}

// NewRuleSpec describes r.
func NewRuleSpec(r membrane.Rule) RuleSpec {
	s := RuleSpec{Kind: r.Kind.String(), Selector: r.Selector}
	switch r.Kind {
	case membrane.RuleRewrite:
		s.Op = kernels.Name(r.Op)
	case membrane.RuleCommunicate:
		s.Direction = r.Direction.String()
		if r.Direction == membrane.In {
			s.Target = r.Target
		}
	case membrane.RuleDivide:
		s.Suffix = r.Suffix
	case membrane.RuleTransport:
		s.Target = r.Target
	}
	return s
}

// Config converts the spec to a qat.Config. Unset fields take the qat.New
// defaults.
func (q *QATSpec) Config() (*qat.Config, error) {
	dt, err := core.ParseDType(q.TargetType)
	if err != nil {
		return nil, err
	}
	cfg := qat.New(dt, q.NoiseScale)
	cfg.MixedPrecision = q.MixedPrecision
	if q.PerChannel != nil {
		cfg.PerChannel = *q.PerChannel
	}
	if q.UseReference != nil {
		cfg.UseReference = *q.UseReference
	}
	cfg.Seed = q.Seed
	if q.Temperature != 0 {
		cfg.Temperature = q.Temperature
	}
	if q.NumSteps != 0 {
		cfg.NumSteps = q.NumSteps
	}
	if q.LearningRate != 0 {
		cfg.LearningRate = q.LearningRate
	}
	if q.TileSize != 0 {
		cfg.TileSize = q.TileSize
	}
	return cfg, cfg.Validate()
}

// NewQATSpec describes c.
func NewQATSpec(c qat.Config) *QATSpec {
	return &QATSpec{
		TargetType:     c.TargetType.String(),
		NoiseScale:     c.NoiseScale,
		PerChannel:     &c.PerChannel,
		MixedPrecision: c.MixedPrecision,
		Temperature:    c.Temperature,
		NumSteps:       c.NumSteps,
		LearningRate:   c.LearningRate,
		TileSize:       c.TileSize,
		UseReference:   &c.UseReference,
		Seed:           c.Seed,
	}
}
