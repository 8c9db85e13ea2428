// Package solver defines the contract the cardiac problem driver consumes
// to advance the coupled PDE/ODE state over one printing interval, plus a
// simple explicit reference implementation.
package solver

import (
	"context"
	"errors"

	"github.com/san-kum/cardiosim/internal/dist"
)

// ErrDiverged is wrapped by solvers when the numerical state leaves the
// representable range (NaN/Inf).
var ErrDiverged = errors.New("solver: solution diverged")

// TimeAdaptivityController may shrink or grow the sub-step size between
// solves.
type TimeAdaptivityController interface {
	// ComputeTimeStep returns the sub-step to use from currentTime
	// given the step used so far.
	ComputeTimeStep(currentTime, currentDt float64) float64
}

// Solver advances the coupled tissue state across one interval. It is
// stateful: the driver configures times and the initial condition before
// each Solve call. Solve returns a freshly allocated solution vector whose
// ownership passes to the caller; the input initial condition remains
// owned by the caller and is never destroyed by the solver.
type Solver interface {
	SetTimeStep(dt float64)
	SetTimeAdaptivityController(c TimeAdaptivityController)
	SetTimes(start, end float64)
	SetInitialCondition(ic *dist.Vector)
	Solve(ctx context.Context) (*dist.Vector, error)
}
