// Package config loads runtime configuration for a dispatch run. Values are
// populated from .superscene.yaml, SUPERSCENE_* env vars, and CLI flags.
package config

import (
	"github.com/spf13/viper"

	"github.com/jmcewan/superscene/internal/patch"
	"github.com/jmcewan/superscene/internal/scene"
)

// Config holds the full tuning surface of a run. Radii are scene
// arcseconds.
type Config struct {
	Manifest  string `mapstructure:"manifest"`
	Snapshot  string `mapstructure:"snapshot"`
	Telemetry string `mapstructure:"telemetry"`
	Tuning    string `mapstructure:"tuning"`

	Workers          int   `mapstructure:"workers"`
	Seed             int64 `mapstructure:"seed"`
	NIterPerPatch    int   `mapstructure:"niter_per_patch"`
	ConflictAttempts int   `mapstructure:"conflict_attempts"`

	TargetNIter       int     `mapstructure:"target_niter"`
	MaxActiveFraction float64 `mapstructure:"maxactive_fraction"`
	MaxActivePerPatch int     `mapstructure:"maxactive_per_patch"`
	NScale            float64 `mapstructure:"nscale"`
	BoundaryRadius    float64 `mapstructure:"boundary_radius"`
	MaxRadius         float64 `mapstructure:"max_radius"`
	MinRadius         float64 `mapstructure:"min_radius"`
	Sigma             float64 `mapstructure:"sigma"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() Config {
	viper.SetDefault("manifest", "scene.toml")
	viper.SetDefault("snapshot", "superscene.db")
	viper.SetDefault("telemetry", "events.jsonl")
	viper.SetDefault("tuning", "")
	viper.SetDefault("workers", 4)
	viper.SetDefault("seed", 0)
	viper.SetDefault("niter_per_patch", 64)
	viper.SetDefault("conflict_attempts", 10)
	viper.SetDefault("target_niter", 200)
	viper.SetDefault("maxactive_fraction", 0.1)
	viper.SetDefault("maxactive_per_patch", 20)
	viper.SetDefault("nscale", 3)
	viper.SetDefault("boundary_radius", 8.0)
	viper.SetDefault("max_radius", 5.0)
	viper.SetDefault("min_radius", 1.0)
	viper.SetDefault("sigma", 20.0)

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return cfg
}

// SceneConfig converts the flat knob surface into the dispatcher's config.
func (c Config) SceneConfig() scene.Config {
	return scene.Config{
		Patch: patch.Config{
			BoundaryRadius: c.BoundaryRadius,
			MaxRadius:      c.MaxRadius,
			MinRadius:      c.MinRadius,
			NScale:         c.NScale,
			MaxActive:      c.MaxActivePerPatch,
		},
		MaxActiveFraction: c.MaxActiveFraction,
		TargetNIter:       c.TargetNIter,
		Sigma:             c.Sigma,
	}
}
