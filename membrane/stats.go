package membrane

import (
	"fmt"
	"strings"
)

// MembraneStats is a point-in-time summary of one membrane.
type MembraneStats struct {
	Name        string
	Level       int
	Objects     int
	MaxObjects  int
	Children    int
	MaxChildren int
	Rules       int
	MaxRules    int
	QATEnabled  bool
	NoiseScale  float32
	TargetType  string
}

// Stats summarises m.
func (m *Membrane) Stats() MembraneStats {
	s := MembraneStats{
		Name:        m.Name,
		Level:       m.Level,
		Objects:     len(m.objects),
		MaxObjects:  m.Limits.MaxObjects,
		Children:    len(m.children),
		MaxChildren: m.Limits.MaxChildren,
		Rules:       len(m.rules),
		MaxRules:    m.Limits.MaxRules,
	}
	if m.qat != nil {
		s.QATEnabled = true
		s.NoiseScale = m.qat.NoiseScale
		s.TargetType = m.qat.TargetType.String()
	}
	return s
}

func (s MembraneStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Membrane '%s' (Level %d):\n", s.Name, s.Level)
	fmt.Fprintf(&b, "  Objects: %d/%s\n", s.Objects, limitString(s.MaxObjects))
	fmt.Fprintf(&b, "  Children: %d/%s\n", s.Children, limitString(s.MaxChildren))
	fmt.Fprintf(&b, "  Rules: %d/%s\n", s.Rules, limitString(s.MaxRules))
	if s.QATEnabled {
		fmt.Fprintf(&b, "  QAT: enabled (noise=%.3f, bits=%s)\n", s.NoiseScale, s.TargetType)
	}
	return b.String()
}

func limitString(limit int) string {
	if limit == 0 {
		return "unbounded"
	}
	return fmt.Sprint(limit)
}

// NamespaceStats is a point-in-time summary of a namespace.
type NamespaceStats struct {
	Name             string
	TotalParams      int64
	QuantizedParams  int64
	CompressionRatio float64
	TargetBits       int
	MixedPrecision   bool
}

// Stats summarises ns.
func (ns *Namespace) Stats() NamespaceStats {
	return NamespaceStats{
		Name:             ns.Name,
		TotalParams:      ns.TotalParams,
		QuantizedParams:  ns.QuantizedParams,
		CompressionRatio: ns.CompressionRatio,
		TargetBits:       ns.TargetBits,
		MixedPrecision:   ns.MixedPrecision,
	}
}

func (s NamespaceStats) String() string {
	mixed := "disabled"
	if s.MixedPrecision {
		mixed = "enabled"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Namespace '%s':\n", s.Name)
	fmt.Fprintf(&b, "  Total params: %d\n", s.TotalParams)
	fmt.Fprintf(&b, "  Quantized params: %d\n", s.QuantizedParams)
	fmt.Fprintf(&b, "  Compression ratio: %.2fx\n", s.CompressionRatio)
	fmt.Fprintf(&b, "  Target bits: %d\n", s.TargetBits)
	fmt.Fprintf(&b, "  Mixed precision: %s\n", mixed)
	return b.String()
}
