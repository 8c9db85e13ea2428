package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if !cfg.HasMeshSource() {
		t.Error("default config should describe a mesh")
	}
}

func TestValidateRejectsBadTimeSteps(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero duration", func(c *Config) { c.SimulationDuration = 0 }},
		{"negative printing dt", func(c *Config) { c.PrintingTimeStep = -1 }},
		{"zero pde dt", func(c *Config) { c.PdeTimeStep = 0 }},
		{"ode does not divide pde", func(c *Config) { c.OdeTimeStep = 0.007 }},
		{"pde does not divide printing", func(c *Config) { c.PdeTimeStep = 0.03 }},
		{"zero node spacing", func(c *Config) { c.Mesh.NodeSpacing = 0 }},
		{"4d slab", func(c *Config) { c.Mesh.SlabDimensions = []float64{1, 1, 1, 1} }},
	}

	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestDivides(t *testing.T) {
	cases := []struct {
		small, big float64
		want       bool
	}{
		{0.01, 0.1, true},
		{0.1, 0.1, true},
		{0.03, 0.1, false},
		{0.01, 50, true},
		{0, 1, false},
		{0.2, 0.1, false},
	}
	for _, tc := range cases {
		if got := Divides(tc.small, tc.big); got != tc.want {
			t.Errorf("Divides(%g, %g) = %v, want %v", tc.small, tc.big, got, tc.want)
		}
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.SimulationDuration = 42
	cfg.OutputDirectory = "/tmp/out"
	cfg.OutputFilenamePrefix = "beat"
	cfg.Output.Variables = []string{"W", "W__IDX__1"}

	path := filepath.Join(t.TempDir(), "sim.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SimulationDuration != 42 {
		t.Errorf("duration = %g, want 42", loaded.SimulationDuration)
	}
	if loaded.OutputFilenamePrefix != "beat" {
		t.Errorf("prefix = %q, want beat", loaded.OutputFilenamePrefix)
	}
	if len(loaded.Output.Variables) != 2 {
		t.Errorf("variables = %v", loaded.Output.Variables)
	}
	// unset fields keep defaults
	if loaded.PdeTimeStep != DefaultPdeDt {
		t.Errorf("pde dt = %g, want default", loaded.PdeTimeStep)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
