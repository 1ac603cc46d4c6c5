package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	cfg := Load()

	if cfg.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.TargetNIter != 200 {
		t.Errorf("expected target_niter 200, got %d", cfg.TargetNIter)
	}
	if cfg.MaxActiveFraction != 0.1 {
		t.Errorf("expected maxactive_fraction 0.1, got %v", cfg.MaxActiveFraction)
	}
	if cfg.BoundaryRadius != 8 || cfg.MaxRadius != 5 || cfg.MinRadius != 1 {
		t.Errorf("unexpected radii defaults: %v %v %v",
			cfg.BoundaryRadius, cfg.MaxRadius, cfg.MinRadius)
	}
	if cfg.Sigma != 20 {
		t.Errorf("expected sigma 20, got %v", cfg.Sigma)
	}
}

func TestLoadOverride(t *testing.T) {
	viper.Reset()
	viper.Set("workers", 16)
	viper.Set("max_radius", 12.5)
	defer viper.Reset()

	cfg := Load()
	if cfg.Workers != 16 {
		t.Errorf("expected workers override 16, got %d", cfg.Workers)
	}
	if cfg.MaxRadius != 12.5 {
		t.Errorf("expected max_radius override 12.5, got %v", cfg.MaxRadius)
	}
}

func TestSceneConfig(t *testing.T) {
	viper.Reset()
	cfg := Load()
	sc := cfg.SceneConfig()

	if sc.Patch.BoundaryRadius != cfg.BoundaryRadius {
		t.Errorf("boundary radius not carried over")
	}
	if sc.Patch.MaxActive != cfg.MaxActivePerPatch {
		t.Errorf("maxactive not carried over")
	}
	if sc.TargetNIter != cfg.TargetNIter || sc.Sigma != cfg.Sigma {
		t.Errorf("tuning knobs not carried over")
	}
}
