package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDuration    = 10.0
	DefaultPrintingDt  = 0.1
	DefaultPdeDt       = 0.01
	DefaultOdeDt       = 0.01
	DefaultNodeSpacing = 0.1

	// DivisibilityTolerance is the absolute tolerance used when checking
	// that one time step divides another.
	DivisibilityTolerance = 1e-10
)

type Config struct {
	SimulationDuration   float64 `yaml:"duration"`
	PrintingTimeStep     float64 `yaml:"printing_dt"`
	PdeTimeStep          float64 `yaml:"pde_dt"`
	OdeTimeStep          float64 `yaml:"ode_dt"`
	OutputDirectory      string  `yaml:"output_dir"`
	OutputFilenamePrefix string  `yaml:"output_prefix"`

	Mesh           MeshConfig           `yaml:"mesh"`
	Output         OutputConfig         `yaml:"output"`
	PostProcessing PostProcessingConfig `yaml:"post_processing"`
}

type MeshConfig struct {
	// LoadPath names a node-listing file to load; when set it takes
	// precedence over slab generation.
	LoadPath string `yaml:"load_path"`

	NodeSpacing    float64   `yaml:"node_spacing"`
	SlabDimensions []float64 `yaml:"slab_dimensions"`
}

type OutputConfig struct {
	// Variables names extra per-node cell variables to persist beside
	// voltage. A "__IDX__n" suffix selects the n-th co-located cell
	// model.
	Variables []string `yaml:"variables"`

	OriginalNodeOrdering bool `yaml:"original_node_ordering"`

	// Visualizers lists converter names ("csv", "vtk") run after the
	// solve.
	Visualizers []string `yaml:"visualizers"`

	// ChunkSizeAndAlignment is passed to the result writer on fresh
	// creates; zero means writer defaults.
	ChunkSizeAndAlignment int `yaml:"chunk_size_and_alignment"`

	UseWriterCache bool `yaml:"use_writer_cache"`
}

type PostProcessingConfig struct {
	Enabled             bool    `yaml:"enabled"`
	ActivationThreshold float64 `yaml:"activation_threshold"`
	VoltageExtrema      bool    `yaml:"voltage_extrema"`
}

// Default returns a runnable configuration over a small 1D slab. The
// output directory is left empty; callers either set one or disable
// printing.
func Default() *Config {
	return &Config{
		SimulationDuration: DefaultDuration,
		PrintingTimeStep:   DefaultPrintingDt,
		PdeTimeStep:        DefaultPdeDt,
		OdeTimeStep:        DefaultOdeDt,
		Mesh: MeshConfig{
			NodeSpacing:    DefaultNodeSpacing,
			SlabDimensions: []float64{1.0},
		},
		PostProcessing: PostProcessingConfig{
			ActivationThreshold: 0.0,
			VoltageExtrema:      true,
		},
	}
}

// Load reads a YAML configuration, filling unset fields from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the time-step relationships that hold independently of
// any particular run: positive steps, ODE dt dividing PDE dt, PDE dt
// dividing the printing step.
func (c *Config) Validate() error {
	if c.SimulationDuration <= 0 {
		return fmt.Errorf("config: duration must be positive, got %g", c.SimulationDuration)
	}
	if c.PrintingTimeStep <= 0 || c.PdeTimeStep <= 0 || c.OdeTimeStep <= 0 {
		return fmt.Errorf("config: all time steps must be positive")
	}
	if !Divides(c.OdeTimeStep, c.PdeTimeStep) {
		return fmt.Errorf("config: ODE time step %g does not divide PDE time step %g",
			c.OdeTimeStep, c.PdeTimeStep)
	}
	if !Divides(c.PdeTimeStep, c.PrintingTimeStep) {
		return fmt.Errorf("config: PDE time step %g does not divide printing time step %g",
			c.PdeTimeStep, c.PrintingTimeStep)
	}
	if c.Mesh.LoadPath == "" && len(c.Mesh.SlabDimensions) > 0 {
		if c.Mesh.NodeSpacing <= 0 {
			return fmt.Errorf("config: node spacing must be positive, got %g", c.Mesh.NodeSpacing)
		}
		if len(c.Mesh.SlabDimensions) > 3 {
			return fmt.Errorf("config: slab may have at most 3 dimensions, got %d", len(c.Mesh.SlabDimensions))
		}
	}
	return nil
}

// HasMeshSource reports whether the configuration describes a mesh to
// load or generate.
func (c *Config) HasMeshSource() bool {
	return c.Mesh.LoadPath != "" || len(c.Mesh.SlabDimensions) > 0
}

// Divides reports whether small evenly divides big within the tolerance.
func Divides(small, big float64) bool {
	if small <= 0 || big <= 0 {
		return false
	}
	n := math.Round(big / small)
	return n >= 1 && math.Abs(big-small*n) <= DivisibilityTolerance
}
