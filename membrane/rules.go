package membrane

import (
	"strings"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
)

// RuleKind tags the variant held by a Rule.
type RuleKind uint8

const (
	// RuleRewrite applies a kernel to matching objects in place.
	RuleRewrite RuleKind = iota + 1
	// RuleCommunicate moves matching objects to the parent or a named child.
	RuleCommunicate
	// RuleDivide splits the membrane, moving half of the matching objects
	// into a new sibling.
	RuleDivide
	// RuleTransport moves matching objects to a named membrane anywhere in
	// the tree.
	RuleTransport
)

var ruleKindNames = map[RuleKind]string{
	RuleRewrite:     "rewrite",
	RuleCommunicate: "communicate",
	RuleDivide:      "divide",
	RuleTransport:   "transport",
}

func (k RuleKind) String() string {
	if name, ok := ruleKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseRuleKind parses a kind name as produced by String.
func ParseRuleKind(s string) (RuleKind, error) {
	for k, name := range ruleKindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, errors.InvalidArgumentf("unknown rule kind %q", s)
}

// Direction selects where a communicate rule sends objects.
type Direction uint8

const (
	// Out sends objects to the parent membrane.
	Out Direction = iota
	// In sends objects to the direct child named by Rule.Target.
	In
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// ParseDirection parses "in" or "out".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "", "out":
		return Out, nil
	case "in":
		return In, nil
	}
	return 0, errors.InvalidArgumentf("unknown direction %q", s)
}

// Rule is one evolution rule. Selector is a tensor name prefix; an empty
// selector matches every object. The remaining fields are read according to
// Kind.
type Rule struct {
	Kind      RuleKind
	Selector  string
	Op        byte      // rewrite
	Direction Direction // communicate
	Target    string    // communicate in, transport
	Suffix    string    // divide
}

// Rewrite returns a rule applying kernel op to matching objects.
func Rewrite(selector string, op byte) Rule {
	return Rule{Kind: RuleRewrite, Selector: selector, Op: op}
}

// CommunicateOut returns a rule moving matching objects to the parent.
func CommunicateOut(selector string) Rule {
	return Rule{Kind: RuleCommunicate, Selector: selector, Direction: Out}
}

// CommunicateIn returns a rule moving matching objects into child target.
func CommunicateIn(selector, target string) Rule {
	return Rule{Kind: RuleCommunicate, Selector: selector, Direction: In, Target: target}
}

// Divide returns a rule splitting the membrane into a sibling named with
// suffix appended.
func Divide(selector, suffix string) Rule {
	return Rule{Kind: RuleDivide, Selector: selector, Suffix: suffix}
}

// Transport returns a rule moving matching objects to membrane target.
func Transport(selector, target string) Rule {
	return Rule{Kind: RuleTransport, Selector: selector, Target: target}
}

// Validate checks that the fields required by Kind are set.
func (r Rule) Validate() error {
	switch r.Kind {
	case RuleRewrite:
		if !kernels.Valid(r.Op) {
			return errors.InvalidArgumentf("rewrite rule: unknown kernel %#x", r.Op)
		}
	case RuleCommunicate:
		if r.Direction == In && r.Target == "" {
			return errors.InvalidArgumentf("communicate-in rule needs a target")
		}
	case RuleDivide:
		if r.Suffix == "" {
			return errors.InvalidArgumentf("divide rule needs a suffix")
		}
	case RuleTransport:
		if r.Target == "" {
			return errors.InvalidArgumentf("transport rule needs a target")
		}
	default:
		return errors.InvalidArgumentf("unknown rule kind %d", r.Kind)
	}
	return nil
}

// Matches reports whether the rule selects t.
func (r Rule) Matches(t *core.Tensor) bool {
	return strings.HasPrefix(t.Name, r.Selector)
}

func (r Rule) String() string {
	switch r.Kind {
	case RuleRewrite:
		return "rewrite(" + r.Selector + "*, " + kernels.Name(r.Op) + ")"
	case RuleCommunicate:
		if r.Direction == In {
			return "communicate(" + r.Selector + "*, in " + r.Target + ")"
		}
		return "communicate(" + r.Selector + "*, out)"
	case RuleDivide:
		return "divide(" + r.Selector + "*, " + r.Suffix + ")"
	case RuleTransport:
		return "transport(" + r.Selector + "*, " + r.Target + ")"
	}
	return "unknown"
}
