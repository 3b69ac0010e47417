// Package config loads p9ml settings from TOML files and P9ML_* environment
// variables.
package config

import (
	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/membrane"
	"github.com/sbl8/p9ml/qat"
)

// Config is the full p9ml configuration.
type Config struct {
	QAT       QATConfig       `mapstructure:"qat" toml:"qat"`
	Namespace NamespaceConfig `mapstructure:"namespace" toml:"namespace"`
	Membrane  MembraneConfig  `mapstructure:"membrane" toml:"membrane"`
	Runtime   RuntimeConfig   `mapstructure:"runtime" toml:"runtime"`
	Store     StoreConfig     `mapstructure:"store" toml:"store"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

// QATConfig mirrors qat.Config with the target type as a name.
type QATConfig struct {
	TargetType     string  `mapstructure:"target_type" toml:"target_type"`
	NoiseScale     float64 `mapstructure:"noise_scale" toml:"noise_scale"`
	PerChannel     bool    `mapstructure:"per_channel" toml:"per_channel"`
	MixedPrecision bool    `mapstructure:"mixed_precision" toml:"mixed_precision"`
	Temperature    float64 `mapstructure:"temperature" toml:"temperature"`
	NumSteps       int     `mapstructure:"num_steps" toml:"num_steps"`
	LearningRate   float64 `mapstructure:"learning_rate" toml:"learning_rate"`
	TileSize       int     `mapstructure:"tile_size" toml:"tile_size"`
	UseReference   bool    `mapstructure:"use_reference" toml:"use_reference"`
	Seed           uint32  `mapstructure:"seed" toml:"seed"`
	// PrecisionThreshold feeds ClassifyPrecision.
	PrecisionThreshold float64 `mapstructure:"precision_threshold" toml:"precision_threshold"`
}

// NamespaceConfig sets the policy of namespaces created by the CLI.
type NamespaceConfig struct {
	Name           string  `mapstructure:"name" toml:"name"`
	NoiseScale     float64 `mapstructure:"noise_scale" toml:"noise_scale"`
	TargetBits     int     `mapstructure:"target_bits" toml:"target_bits"`
	MixedPrecision bool    `mapstructure:"mixed_precision" toml:"mixed_precision"`
	Seed           uint32  `mapstructure:"seed" toml:"seed"`
}

// MembraneConfig holds per-membrane capacities. Zero means unbounded.
type MembraneConfig struct {
	MaxChildren int `mapstructure:"max_children" toml:"max_children"`
	MaxObjects  int `mapstructure:"max_objects" toml:"max_objects"`
	MaxRules    int `mapstructure:"max_rules" toml:"max_rules"`
}

// RuntimeConfig sizes the allocation arena and the compute engine.
type RuntimeConfig struct {
	ArenaSize int `mapstructure:"arena_size" toml:"arena_size"`
	Workers   int `mapstructure:"workers" toml:"workers"`
}

// StoreConfig locates the snapshot database.
type StoreConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// LogConfig selects log output.
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
	JSON  bool   `mapstructure:"json" toml:"json"`
}

// QATConfig converts the qat section into a validated qat.Config.
func (c *Config) QATConfig() (*qat.Config, error) {
	dt, err := core.ParseDType(c.QAT.TargetType)
	if err != nil {
		return nil, errors.Wrap(err, "qat.target_type")
	}
	cfg := qat.New(dt, float32(c.QAT.NoiseScale))
	cfg.PerChannel = c.QAT.PerChannel
	cfg.MixedPrecision = c.QAT.MixedPrecision
	cfg.Temperature = float32(c.QAT.Temperature)
	cfg.NumSteps = c.QAT.NumSteps
	cfg.LearningRate = float32(c.QAT.LearningRate)
	cfg.TileSize = c.QAT.TileSize
	cfg.UseReference = c.QAT.UseReference
	cfg.Seed = c.QAT.Seed
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Limits returns the configured membrane capacities.
func (c *Config) Limits() membrane.Limits {
	return membrane.Limits{
		MaxChildren: c.Membrane.MaxChildren,
		MaxObjects:  c.Membrane.MaxObjects,
		MaxRules:    c.Membrane.MaxRules,
	}
}

// NewNamespace creates a namespace with the configured policy and seed.
func (c *Config) NewNamespace(backend membrane.Backend) *membrane.Namespace {
	ns := membrane.NewNamespace(c.Namespace.Name, backend)
	ns.NoiseScale = float32(c.Namespace.NoiseScale)
	ns.TargetBits = c.Namespace.TargetBits
	ns.MixedPrecision = c.Namespace.MixedPrecision
	ns.Seed(c.Namespace.Seed)
	return ns
}
