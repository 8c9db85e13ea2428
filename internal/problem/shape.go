package problem

import (
	"github.com/san-kum/cardiosim/internal/dist"
	"github.com/san-kum/cardiosim/internal/mesh"
)

// Hooks is the per-variant customization surface of the driver. Every
// method has a no-op default; a variant overrides only what it needs
// (electrode switching, bath handling, extra stopping times).
type Hooks interface {
	// AtBeginningOfTimestep runs just before the solver advances over
	// [t, nextStop].
	AtBeginningOfTimestep(t float64)

	// OnEndOfTimestep runs after the clock has advanced to t and the
	// new solution has been adopted.
	OnEndOfTimestep(t float64)

	// ExtraStoppingTimes returns event times to merge into the printing
	// schedule (electrode on/off and the like).
	ExtraStoppingTimes() []float64

	// SetupElectrodes runs at the end of Initialise, once the mesh is
	// available.
	SetupElectrodes(m *mesh.Mesh) error

	// HasBath reports whether the variant models a conductive bath.
	HasBath() bool
}

// NoHooks is the all-default hook set.
type NoHooks struct{}

func (NoHooks) AtBeginningOfTimestep(t float64)    {}
func (NoHooks) OnEndOfTimestep(t float64)          {}
func (NoHooks) ExtraStoppingTimes() []float64      { return nil }
func (NoHooks) SetupElectrodes(m *mesh.Mesh) error { return nil }
func (NoHooks) HasBath() bool                      { return false }

// Shape describes a problem variant: how many coupled unknowns live at
// each node and which hook set customizes the run. One generic driver
// serves every variant.
type Shape struct {
	Name  string
	Dim   int
	Hooks Hooks
}

// NewShape builds a custom variant descriptor; nil hooks get the no-op
// set.
func NewShape(name string, dim int, hooks Hooks) Shape {
	if hooks == nil {
		hooks = NoHooks{}
	}
	return Shape{Name: name, Dim: dim, Hooks: hooks}
}

// The stock variants.

func Monodomain() Shape       { return NewShape("monodomain", 1, nil) }
func Bidomain() Shape         { return NewShape("bidomain", 2, nil) }
func ExtendedBidomain() Shape { return NewShape("extended-bidomain", 3, nil) }
func Tetradomain() Shape      { return NewShape("tetradomain", 4, nil) }

// OutputModifier observes the solution at run start, every stop time and
// run end. Modifiers hold a read-only view and never own simulation
// state.
type OutputModifier interface {
	InitialiseAtStart(factory *dist.VectorFactory)
	ProcessSolutionAtTimeStep(t float64, solution *dist.Vector, problemDim int)
	FinaliseAtEnd()
}
