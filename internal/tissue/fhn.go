package tissue

import (
	"fmt"

	"github.com/san-kum/cardiosim/internal/mesh"
)

// FHNCell is a FitzHugh-Nagumo style two-variable cell model. It stands in
// for the heavyweight ionic models when exercising the driver end to end.
type FHNCell struct {
	v, w float64

	Epsilon  float64
	Beta     float64
	Gamma    float64
	Stimulus func(t float64) float64
}

// NewFHNCell returns a cell at rest with standard parameters.
func NewFHNCell() *FHNCell {
	return &FHNCell{Epsilon: 0.08, Beta: 0.7, Gamma: 0.8}
}

func (c *FHNCell) Voltage() float64     { return c.v }
func (c *FHNCell) SetVoltage(v float64) { c.v = v }

// Recovery returns the slow recovery variable.
func (c *FHNCell) Recovery() float64 { return c.w }

func (c *FHNCell) AnyVariable(name string, t float64) (float64, error) {
	switch name {
	case "V":
		return c.v, nil
	case "W":
		return c.w, nil
	default:
		return 0, fmt.Errorf("tissue: cell has no variable %q", name)
	}
}

// Step advances the cell ODEs by one forward-Euler step.
func (c *FHNCell) Step(t, dt float64) {
	stim := 0.0
	if c.Stimulus != nil {
		stim = c.Stimulus(t)
	}
	dv := c.v - c.v*c.v*c.v/3 - c.w + stim
	dw := c.Epsilon * (c.v + c.Beta - c.Gamma*c.w)
	c.v += dt * dv
	c.w += dt * dw
}

// FHNCellFactory places one FHNCell at every tissue node. An optional
// stimulated node set receives a brief initial current to start a wave.
type FHNCellFactory struct {
	mesh            *mesh.Mesh
	StimulatedNodes map[int]bool
	StimulusValue   float64
	StimulusEnd     float64
	RestingVoltage  float64
}

// NewFHNCellFactory builds a factory that stimulates the first node.
func NewFHNCellFactory() *FHNCellFactory {
	return &FHNCellFactory{
		StimulatedNodes: map[int]bool{0: true},
		StimulusValue:   0.8,
		StimulusEnd:     1.0,
		RestingVoltage:  -1.2,
	}
}

func (f *FHNCellFactory) SetMesh(m *mesh.Mesh) { f.mesh = m }
func (f *FHNCellFactory) CellsPerNode() int    { return 1 }

func (f *FHNCellFactory) CreateCellForNode(node, which int) (Cell, error) {
	if f.mesh == nil {
		return nil, fmt.Errorf("tissue: cell factory has no mesh")
	}
	cell := NewFHNCell()
	cell.SetVoltage(f.RestingVoltage)
	if f.StimulatedNodes[node] {
		stop := f.StimulusEnd
		amp := f.StimulusValue
		cell.Stimulus = func(t float64) float64 {
			if t < stop {
				return amp
			}
			return 0
		}
	}
	return cell, nil
}
