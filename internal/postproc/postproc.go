// Package postproc derives secondary datasets from a completed (or
// partial) result store and converts the store into external
// visualization formats. It runs after the solve loop, never interleaved
// with it, and only on the rank that owns aggregated I/O.
package postproc

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/cardiosim/internal/config"
	"github.com/san-kum/cardiosim/internal/mesh"
	"github.com/san-kum/cardiosim/internal/results"
)

// Converter turns a result store into one external visualization format.
// hasBath tells it that the run modelled a conductive bath, so bath
// nodes can be marked in the output.
type Converter interface {
	Name() string
	Convert(r *results.Reader, m *mesh.Mesh, outputDir, prefix string, hasBath bool) error
}

// Pipeline runs the configured derived-dataset writers and converters.
type Pipeline struct {
	cfg        *config.Config
	log        *slog.Logger
	converters []Converter
}

// NewPipeline builds a pipeline from the configuration. Unknown
// visualizer names fail construction rather than being silently skipped.
func NewPipeline(cfg *config.Config, log *slog.Logger) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg, log: log}
	for _, name := range cfg.Output.Visualizers {
		switch name {
		case "csv":
			p.converters = append(p.converters, CSVConverter{})
		case "vtk":
			p.converters = append(p.converters, VTKConverter{})
		default:
			return nil, fmt.Errorf("postproc: unknown visualizer %q", name)
		}
	}
	return p, nil
}

// Run derives the configured datasets and invokes every converter. The
// reader may cover a partial run; everything here works on whatever rows
// were flushed. The two phases are also callable separately so the
// driver can account their time under different sections.
func (p *Pipeline) Run(r *results.Reader, m *mesh.Mesh, hasBath bool) error {
	if err := p.RunDerived(r); err != nil {
		return err
	}
	return p.RunConverters(r, m, hasBath)
}

// RunDerived writes the configured derived per-node datasets.
func (p *Pipeline) RunDerived(r *results.Reader) error {
	dir := p.cfg.OutputDirectory
	prefix := p.cfg.OutputFilenamePrefix

	if !p.cfg.PostProcessing.Enabled {
		return nil
	}
	if err := p.writeActivationMap(r, dir, prefix); err != nil {
		return err
	}
	if p.cfg.PostProcessing.VoltageExtrema {
		return p.writeVoltageExtrema(r, dir, prefix)
	}
	return nil
}

// RunConverters invokes every configured visualizer converter.
func (p *Pipeline) RunConverters(r *results.Reader, m *mesh.Mesh, hasBath bool) error {
	for _, c := range p.converters {
		p.log.Info("converting results", "format", c.Name())
		if err := c.Convert(r, m, p.cfg.OutputDirectory, p.cfg.OutputFilenamePrefix, hasBath); err != nil {
			return fmt.Errorf("postproc: %s conversion: %w", c.Name(), err)
		}
	}
	return nil
}

// writeActivationMap records, per node, the first time the voltage
// crossed the activation threshold; NaN for nodes that never activated.
func (p *Pipeline) writeActivationMap(r *results.Reader, dir, prefix string) error {
	times, err := r.UnlimitedDimensionValues()
	if err != nil {
		return err
	}
	threshold := p.cfg.PostProcessing.ActivationThreshold

	dim := r.FixedDimension()
	activation := make([]float64, dim)
	for i := range activation {
		activation[i] = math.NaN()
	}

	for step := range times {
		row, err := r.VariableValues("V", step)
		if err != nil {
			return err
		}
		for node, v := range row {
			if math.IsNaN(activation[node]) && v >= threshold {
				activation[node] = times[step]
			}
		}
	}

	return writeNodeTable(dir, prefix+"_activation.csv", []string{"node", "activation_time"},
		func(node int) []float64 { return []float64{activation[node]} }, dim)
}

func (p *Pipeline) writeVoltageExtrema(r *results.Reader, dir, prefix string) error {
	times, err := r.UnlimitedDimensionValues()
	if err != nil {
		return err
	}
	dim := r.FixedDimension()
	minV := make([]float64, dim)
	maxV := make([]float64, dim)
	for i := range minV {
		minV[i] = math.Inf(1)
		maxV[i] = math.Inf(-1)
	}

	for step := range times {
		row, err := r.VariableValues("V", step)
		if err != nil {
			return err
		}
		for node, v := range row {
			minV[node] = math.Min(minV[node], v)
			maxV[node] = math.Max(maxV[node], v)
		}
	}

	return writeNodeTable(dir, prefix+"_extrema.csv", []string{"node", "min_v", "max_v"},
		func(node int) []float64 { return []float64{minV[node], maxV[node]} }, dim)
}
