package solver

import "github.com/san-kum/cardiosim/internal/mesh"

// NeumannCondition is a flux condition on one boundary node and problem
// component.
type NeumannCondition struct {
	Node      int
	Component int
	Value     float64
}

// BoundaryConditions is the shared container of flux conditions applied
// during a Solve call. It may be shared between the driver and the solver
// for the lifetime of one call.
type BoundaryConditions struct {
	conditions []NeumannCondition
}

// ZeroNeumann builds the default container: zero flux on every boundary
// node for every problem component.
func ZeroNeumann(m *mesh.Mesh, components int) *BoundaryConditions {
	bc := &BoundaryConditions{}
	for _, node := range m.BoundaryNodes() {
		for c := 0; c < components; c++ {
			bc.conditions = append(bc.conditions, NeumannCondition{Node: node, Component: c})
		}
	}
	return bc
}

// Add appends a condition.
func (b *BoundaryConditions) Add(c NeumannCondition) { b.conditions = append(b.conditions, c) }

// Conditions returns the flux conditions in definition order.
func (b *BoundaryConditions) Conditions() []NeumannCondition { return b.conditions }

// IsZeroFlux reports whether every condition carries zero flux.
func (b *BoundaryConditions) IsZeroFlux() bool {
	for _, c := range b.conditions {
		if c.Value != 0 {
			return false
		}
	}
	return true
}
