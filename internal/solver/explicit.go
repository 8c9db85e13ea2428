package solver

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/cardiosim/internal/dist"
	"github.com/san-kum/cardiosim/internal/tissue"
)

// ExplicitSolver is the reference monodomain-style solver: operator
// splitting with forward-Euler cell ODE updates and a nearest-neighbour
// diffusion stencil. It exists to exercise the driver end to end, not to
// be numerically serious.
type ExplicitSolver struct {
	tissue     *tissue.Tissue
	bc         *BoundaryConditions
	components int

	Diffusion float64

	dt         float64
	start, end float64
	ic         *dist.Vector
	controller TimeAdaptivityController
}

// NewExplicit builds the reference solver over the given tissue. The
// boundary container is shared with the driver for the call's duration.
func NewExplicit(t *tissue.Tissue, bc *BoundaryConditions, components int) *ExplicitSolver {
	return &ExplicitSolver{
		tissue:     t,
		bc:         bc,
		components: components,
		Diffusion:  0.05,
	}
}

func (s *ExplicitSolver) SetTimeStep(dt float64) { s.dt = dt }

func (s *ExplicitSolver) SetTimeAdaptivityController(c TimeAdaptivityController) {
	s.controller = c
}

func (s *ExplicitSolver) SetTimes(start, end float64) {
	s.start = start
	s.end = end
}

func (s *ExplicitSolver) SetInitialCondition(ic *dist.Vector) { s.ic = ic }

// Solve advances the state from start to end. The returned vector is a
// fresh allocation owned by the caller; the initial condition is read but
// never destroyed here.
func (s *ExplicitSolver) Solve(ctx context.Context) (*dist.Vector, error) {
	if s.ic == nil {
		return nil, fmt.Errorf("solver: no initial condition set")
	}
	if s.dt <= 0 {
		return nil, fmt.Errorf("solver: time step not set")
	}

	m := s.tissue.Mesh()
	out := m.VectorFactory().CreateVector(s.components)
	copy(out.Values(), s.ic.Values())

	voltage := out.Stripe(0)
	scratch := make([]float64, voltage.Len())

	t := s.start
	dt := s.dt
	for t < s.end-1e-12 {
		select {
		case <-ctx.Done():
			out.Destroy()
			return nil, ctx.Err()
		default:
		}

		if s.controller != nil {
			dt = s.controller.ComputeTimeStep(t, dt)
		}
		step := math.Min(dt, s.end-t)
		if step <= 0 {
			out.Destroy()
			return nil, fmt.Errorf("solver: adaptive time step collapsed to %g at t=%g", step, t)
		}

		// diffusion over the mesh adjacency
		for i := 0; i < voltage.Len(); i++ {
			lap := 0.0
			for _, j := range m.Neighbours(i) {
				lap += voltage.Get(j) - voltage.Get(i)
			}
			scratch[i] = voltage.Get(i) + step*s.Diffusion*lap
		}

		// per-node cell ODE update, skipping bath nodes
		for i := 0; i < voltage.Len(); i++ {
			cell := s.tissue.Cell(i)
			if cell == nil {
				voltage.Set(i, scratch[i])
				continue
			}
			cell.SetVoltage(scratch[i])
			if ode, ok := cell.(tissue.OdeSteppable); ok {
				ode.Step(t, step)
			}
			voltage.Set(i, cell.Voltage())
		}

		// non-zero Neumann flux enters as a boundary source term
		for _, c := range s.bc.Conditions() {
			if c.Value != 0 && c.Component == 0 {
				voltage.Set(c.Node, voltage.Get(c.Node)+step*c.Value)
			}
		}

		t += step
	}

	for _, v := range out.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.Destroy()
			return nil, fmt.Errorf("%w at t=%g", ErrDiverged, t)
		}
	}
	return out, nil
}
