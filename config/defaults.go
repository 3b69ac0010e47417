package config

import (
	"github.com/spf13/viper"

	"github.com/sbl8/p9ml/membrane"
	"github.com/sbl8/p9ml/noise"
	"github.com/sbl8/p9ml/qat"
)

// Default file locations.
const (
	ProjectConfigName     = "p9ml.toml"
	DefaultStorePath      = "p9ml.db"
	DefaultArenaSize      = 64 << 20
	DefaultDirPermissions = 0o750
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	limits := membrane.DefaultLimits()

	// QAT defaults follow qat.New
	v.SetDefault("qat.target_type", "q8_0")
	v.SetDefault("qat.noise_scale", qat.DefaultNoiseScale)
	v.SetDefault("qat.per_channel", true)
	v.SetDefault("qat.mixed_precision", false)
	v.SetDefault("qat.temperature", qat.DefaultTemperature)
	v.SetDefault("qat.num_steps", qat.DefaultNumSteps)
	v.SetDefault("qat.learning_rate", qat.DefaultLearningRate)
	v.SetDefault("qat.tile_size", qat.DefaultTileSize)
	v.SetDefault("qat.use_reference", true)
	v.SetDefault("qat.seed", noise.DefaultSeed)
	v.SetDefault("qat.precision_threshold", 0.95)

	v.SetDefault("namespace.name", membrane.DefaultNamespaceName)
	v.SetDefault("namespace.noise_scale", membrane.DefaultNoiseScale)
	v.SetDefault("namespace.target_bits", membrane.DefaultTargetBits)
	v.SetDefault("namespace.mixed_precision", false)
	v.SetDefault("namespace.seed", noise.DefaultSeed)

	v.SetDefault("membrane.max_children", limits.MaxChildren)
	v.SetDefault("membrane.max_objects", limits.MaxObjects)
	v.SetDefault("membrane.max_rules", limits.MaxRules)

	v.SetDefault("runtime.arena_size", DefaultArenaSize)
	v.SetDefault("runtime.workers", 0) // 0 = one per CPU

	v.SetDefault("store.path", DefaultStorePath)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}
