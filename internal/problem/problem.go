// Package problem implements the cardiac problem driver: the orchestrator
// that owns the full Initialise -> Solve -> close lifecycle, composing the
// mesh, tissue, solver, time stepper, result writer, progress reporting
// and post-processing pipeline.
package problem

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/san-kum/cardiosim/internal/config"
	"github.com/san-kum/cardiosim/internal/dist"
	"github.com/san-kum/cardiosim/internal/events"
	"github.com/san-kum/cardiosim/internal/mesh"
	"github.com/san-kum/cardiosim/internal/postproc"
	"github.com/san-kum/cardiosim/internal/progress"
	"github.com/san-kum/cardiosim/internal/results"
	"github.com/san-kum/cardiosim/internal/solver"
	"github.com/san-kum/cardiosim/internal/stepper"
	"github.com/san-kum/cardiosim/internal/tissue"
)

// State is the driver lifecycle state.
type State int

const (
	Uninitialised State = iota
	Initialised
	Solving
	Solved
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialised:
		return "uninitialised"
	case Initialised:
		return "initialised"
	case Solving:
		return "solving"
	case Solved:
		return "solved"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SolverFactory builds the PDE/ODE solver over the tissue for one Solve
// call. The boundary container is shared with the driver for the call's
// duration.
type SolverFactory func(t *tissue.Tissue, bc *solver.BoundaryConditions, components int) (solver.Solver, error)

// Problem is the cardiac problem driver. Exactly one of the driver and
// the in-flight solver owns the current solution buffer at any instant;
// ownership moves explicitly at loop boundaries.
type Problem struct {
	cfg   *config.Config
	shape Shape
	comm  dist.Comm
	log   *slog.Logger
	clock *events.Handler

	cellFactory   tissue.CellFactory
	solverFactory SolverFactory

	mesh   *mesh.Mesh
	tissue *tissue.Tissue

	solution    *dist.Vector
	currentTime float64
	state       State

	bc            *solver.BoundaryConditions
	adaptivity    solver.TimeAdaptivityController
	useAdaptivity bool

	printOutput   bool
	writeInfo     bool
	nodesToOutput []int
	modifiers     []OutputModifier

	inFlight         solver.Solver
	writer           *results.Writer
	voltageColumnID  int
	extraVariableIDs []int
}

// Option customises a Problem at construction.
type Option func(*Problem)

// WithComm injects the collective communicator; the default is the
// sequential single-rank one.
func WithComm(c dist.Comm) Option { return func(p *Problem) { p.comm = c } }

// WithLogger injects the structured logger.
func WithLogger(l *slog.Logger) Option { return func(p *Problem) { p.log = l } }

// New builds a driver. The cell factory is mandatory, matching the
// original contract that a problem cannot exist without one.
func New(cfg *config.Config, shape Shape, cellFactory tissue.CellFactory, solverFactory SolverFactory, opts ...Option) (*Problem, error) {
	if cellFactory == nil {
		return nil, &ConfigurationError{Reason: "a cell factory is required to construct a cardiac problem"}
	}
	if solverFactory == nil {
		return nil, &ConfigurationError{Reason: "a solver factory is required to construct a cardiac problem"}
	}
	if shape.Dim < 1 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("problem dimension must be at least 1, got %d", shape.Dim)}
	}
	if shape.Hooks == nil {
		shape.Hooks = NoHooks{}
	}
	p := &Problem{
		cfg:           cfg,
		shape:         shape,
		comm:          dist.SeqComm{},
		log:           slog.Default(),
		clock:         events.NewHandler(),
		cellFactory:   cellFactory,
		solverFactory: solverFactory,
		printOutput:   true,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.clock.Begin(events.Everything)
	return p, nil
}

// SetMesh supplies an externally built mesh. Must be called before
// Initialise, and at most once.
func (p *Problem) SetMesh(m *mesh.Mesh) error {
	if p.mesh != nil {
		return &ConfigurationError{Reason: "mesh has already been set"}
	}
	if m == nil {
		return &ConfigurationError{Reason: "cannot set a nil mesh"}
	}
	p.mesh = m
	return nil
}

// PrintOutput switches persistent output on or off.
func (p *Problem) PrintOutput(enabled bool) { p.printOutput = enabled }

// SetWriteInfo switches per-step voltage diagnostics on or off.
func (p *Problem) SetWriteInfo(enabled bool) { p.writeInfo = enabled }

// SetUseTimeAdaptivityController enables or disables time adaptivity.
func (p *Problem) SetUseTimeAdaptivityController(use bool, c solver.TimeAdaptivityController) error {
	if use && c == nil {
		return &ConfigurationError{Reason: "time adaptivity requested without a controller"}
	}
	p.useAdaptivity = use
	if use {
		p.adaptivity = c
	} else {
		p.adaptivity = nil
	}
	return nil
}

// SetBoundaryConditions supplies a shared boundary container used by
// subsequent Solve calls instead of the default zero-Neumann one.
func (p *Problem) SetBoundaryConditions(bc *solver.BoundaryConditions) { p.bc = bc }

// SetOutputNodes restricts persistent output to a node subset. The
// subset is kept sorted; rows are written in ascending node order.
func (p *Problem) SetOutputNodes(nodes []int) {
	p.nodesToOutput = append([]int(nil), nodes...)
	sort.Ints(p.nodesToOutput)
}

// AddOutputModifier attaches an observer invoked at run start, every stop
// time and run end.
func (p *Problem) AddOutputModifier(m OutputModifier) {
	p.modifiers = append(p.modifiers, m)
}

// GetSolution returns the current solution vector, still owned by the
// driver. Nil before the first Solve.
func (p *Problem) GetSolution() *dist.Vector { return p.solution }

// GetCurrentTime returns the simulation clock.
func (p *Problem) GetCurrentTime() float64 { return p.currentTime }

// State returns the lifecycle state.
func (p *Problem) State() State { return p.state }

// Mesh returns the mesh, or nil before one is set or built.
func (p *Problem) Mesh() *mesh.Mesh { return p.mesh }

// GetTissue returns the tissue model built by Initialise.
func (p *Problem) GetTissue() (*tissue.Tissue, error) {
	if p.tissue == nil {
		return nil, &ConfigurationError{Reason: "tissue not yet set up, call Initialise before GetTissue"}
	}
	return p.tissue, nil
}

// EventTimings returns the per-phase wall-clock accounting for this
// driver.
func (p *Problem) EventTimings() *events.Handler { return p.clock }

// GetDataReader opens a reader over the run's result store.
func (p *Problem) GetDataReader() (*results.Reader, error) {
	if p.cfg.OutputDirectory == "" || p.cfg.OutputFilenamePrefix == "" {
		return nil, &ConfigurationError{Reason: "data reader invalid as the output location was never configured"}
	}
	return results.NewReader(p.cfg.OutputDirectory, p.cfg.OutputFilenamePrefix)
}

// Initialise acquires or builds the mesh, rebuilds the tissue model
// (safe to call twice), discards any previous solution and resets the
// clock to zero.
func (p *Problem) Initialise() error {
	p.clock.Begin(events.ReadMesh)
	if p.mesh == nil {
		m, err := p.buildMeshFromConfig()
		if err != nil {
			p.clock.End(events.ReadMesh)
			return err
		}
		p.mesh = m
	} else if p.comm.Size() > 1 && !p.mesh.Distributed() {
		p.log.Warn("using a non-distributed mesh in a parallel simulation is not a good idea")
	}
	p.cellFactory.SetMesh(p.mesh)
	p.clock.End(events.ReadMesh)

	p.clock.Begin(events.Initialise)
	if p.tissue != nil {
		p.tissue.Release()
	}
	tis, err := tissue.New(p.mesh, p.cellFactory)
	if err != nil {
		p.clock.End(events.Initialise)
		return fmt.Errorf("building tissue model: %w", err)
	}
	p.tissue = tis
	p.clock.End(events.Initialise)

	// Any previous solution is stale once the tissue is rebuilt.
	if p.solution != nil {
		p.clock.Begin(events.Communication)
		p.solution.Destroy()
		p.solution = nil
		p.clock.End(events.Communication)
	}

	p.currentTime = 0

	if err := p.shape.Hooks.SetupElectrodes(p.mesh); err != nil {
		return fmt.Errorf("setting up electrodes: %w", err)
	}

	p.state = Initialised
	return nil
}

func (p *Problem) buildMeshFromConfig() (*mesh.Mesh, error) {
	mc := p.cfg.Mesh
	switch {
	case mc.LoadPath != "":
		f, err := os.Open(mc.LoadPath)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("no mesh given: cannot open %s: %v", mc.LoadPath, err)}
		}
		defer f.Close()
		m, err := mesh.ConstructFromReader(f)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("no mesh given: loading %s: %v", mc.LoadPath, err)}
		}
		return m, nil
	case len(mc.SlabDimensions) > 0:
		m, err := mesh.ConstructRegularSlab(mc.NodeSpacing, mc.SlabDimensions...)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("no mesh given: generating slab: %v", err)}
		}
		return m, nil
	default:
		return nil, &ConfigurationError{Reason: "no mesh given: define one in the configuration or call SetMesh"}
	}
}

// PreSolveChecks validates the configuration against the current driver
// state. It is the first action of Solve and has no side effects.
func (p *Problem) PreSolveChecks() error {
	if p.tissue == nil {
		return &ConfigurationError{Reason: "cardiac tissue is nil, Initialise probably has not been called"}
	}
	if p.cfg.SimulationDuration <= p.currentTime {
		return &ConfigurationError{Reason: "end time should be in the future"}
	}
	if p.printOutput {
		if p.cfg.OutputDirectory == "" || p.cfg.OutputFilenamePrefix == "" {
			return &ConfigurationError{Reason: "either disable printing with PrintOutput(false) or configure the output directory and filename prefix"}
		}
	}
	// The solver requires a constant sub-step across the run.
	if !config.Divides(p.cfg.PdeTimeStep, p.cfg.SimulationDuration-p.currentTime) {
		return &ConfigurationError{Reason: "PDE timestep does not seem to divide the remaining run duration, check parameters"}
	}
	return nil
}

// createInitialCondition synthesizes the starting solution from the
// tissue's per-node voltages: stripe 0 carries voltage, any remaining
// problem components start at zero.
func (p *Problem) createInitialCondition() *dist.Vector {
	ic := p.mesh.VectorFactory().CreateVector(p.shape.Dim)
	voltage := ic.Stripe(0)
	for i := 0; i < voltage.Len(); i++ {
		voltage.Set(i, p.tissue.VoltageAt(i))
	}
	return ic
}

// Solve runs the simulation from the current clock to the configured
// duration, one printing interval at a time. On success the driver
// retains the final solution and a further Solve call (after extending
// the configured duration) resumes from it, extending the result store.
func (p *Problem) Solve(ctx context.Context) error {
	if err := p.PreSolveChecks(); err != nil {
		return err
	}

	ts, err := stepper.New(p.currentTime, p.cfg.SimulationDuration, p.cfg.PrintingTimeStep,
		p.shape.Hooks.ExtraStoppingTimes()...)
	if err != nil {
		return &ConfigurationError{Reason: err.Error()}
	}

	p.state = Solving

	bc := p.bc
	if bc == nil {
		// Default zero-flux container scoped to this call.
		bc = solver.ZeroNeumann(p.mesh, p.shape.Dim)
	}

	if p.inFlight != nil {
		p.state = Failed
		return &ConfigurationError{Reason: "a previous solver instance is still in flight"}
	}
	slv, err := p.solverFactory(p.tissue, bc, p.shape.Dim)
	if err != nil {
		p.state = Failed
		return fmt.Errorf("constructing solver: %w", err)
	}
	p.inFlight = slv

	// Resuming reuses the previous run's final solution.
	initialCondition := p.solution
	if initialCondition == nil {
		initialCondition = p.createInitialCondition()
	}

	progressDir := ""
	if p.printOutput {
		p.clock.Begin(events.WriteOutput)
		extending, err := p.initialiseWriter()
		if err != nil {
			p.releaseWriter()
			p.inFlight = nil
			if initialCondition != p.solution {
				initialCondition.Destroy()
			}
			p.clock.End(events.WriteOutput)
			p.state = Failed
			return err
		}

		// When resuming into an existing store the initial condition is
		// already on disk as the previous run's final row.
		if !(p.solution != nil && extending) {
			if err := p.writeOneStep(ts.Time(), initialCondition); err != nil {
				p.failWriterSetup(initialCondition)
				return err
			}
			if err := p.writer.AdvanceAlongUnlimitedDimension(); err != nil {
				p.failWriterSetup(initialCondition)
				return err
			}
		}
		p.clock.End(events.WriteOutput)
		progressDir = p.cfg.OutputDirectory
	}

	for _, m := range p.modifiers {
		m.InitialiseAtStart(p.mesh.VectorFactory())
		m.ProcessSolutionAtTimeStep(ts.Time(), initialCondition, p.shape.Dim)
	}

	reporter := progress.NewReporter(progressDir, p.currentTime, p.cfg.SimulationDuration)
	defer reporter.Close()
	reporter.Update(p.currentTime)

	p.inFlight.SetTimeStep(p.cfg.PdeTimeStep)
	if p.useAdaptivity && p.adaptivity != nil {
		p.inFlight.SetTimeAdaptivityController(p.adaptivity)
	}

	for !ts.IsTimeAtEnd() {
		p.inFlight.SetTimes(ts.Time(), ts.NextTime())
		p.inFlight.SetInitialCondition(initialCondition)

		p.shape.Hooks.AtBeginningOfTimestep(ts.Time())

		p.clock.Begin(events.SolveODEs)
		newSolution, solveErr := p.inFlight.Solve(ctx)
		// An error detected on one rank must become a decision every
		// rank takes identically, or the collective close below
		// deadlocks.
		solveErr = p.comm.ReplicateError(solveErr)
		p.clock.End(events.SolveODEs)

		if solveErr != nil {
			p.inFlight = nil
			if initialCondition != p.solution {
				initialCondition.Destroy()
			}
			p.clock.Reset()
			if err := p.closeFilesAndPostProcess(); err != nil {
				p.log.Error("cleanup after failed solve", "err", err)
			}
			p.state = Failed
			return &SolveError{Time: ts.Time(), Err: solveErr}
		}

		// Adopt the new solution. The old buffer is consumed here; when
		// resuming it is the same object as p.solution, which is
		// re-pointed first so the destroy happens exactly once.
		p.clock.Begin(events.Communication)
		old := initialCondition
		p.solution = newSolution
		initialCondition = newSolution
		old.Destroy()
		p.clock.End(events.Communication)

		if err := ts.AdvanceOneTimeStep(); err != nil {
			p.state = Failed
			return fmt.Errorf("time stepper: %w", err)
		}
		p.currentTime = ts.Time()

		if p.writeInfo {
			p.logStepInfo(ts.Time())
		}

		for _, m := range p.modifiers {
			m.ProcessSolutionAtTimeStep(ts.Time(), p.solution, p.shape.Dim)
		}

		if p.printOutput {
			p.clock.Begin(events.WriteOutput)
			if err := p.writeOneStep(ts.Time(), p.solution); err != nil {
				p.clock.End(events.WriteOutput)
				return p.failMidLoop(err)
			}
			if err := p.writer.AdvanceAlongUnlimitedDimension(); err != nil {
				p.clock.End(events.WriteOutput)
				return p.failMidLoop(err)
			}
			p.clock.End(events.WriteOutput)
		}

		reporter.Update(ts.Time())

		p.shape.Hooks.OnEndOfTimestep(ts.Time())
	}

	p.inFlight = nil

	reporter.PrintFinalising()
	for _, m := range p.modifiers {
		m.FinaliseAtEnd()
	}
	if err := p.closeFilesAndPostProcess(); err != nil {
		p.state = Failed
		return err
	}

	p.clock.End(events.Everything)
	p.state = Solved
	return nil
}

// failMidLoop is the cleanup path for writer failures inside the loop:
// the solver is released and the store closed around whatever was
// written.
func (p *Problem) failMidLoop(err error) error {
	p.inFlight = nil
	if cerr := p.closeFilesAndPostProcess(); cerr != nil {
		p.log.Error("cleanup after failed write", "err", cerr)
	}
	p.state = Failed
	return err
}

// failWriterSetup releases resources when writing the very first row
// fails.
func (p *Problem) failWriterSetup(initialCondition *dist.Vector) {
	p.releaseWriter()
	p.inFlight = nil
	if initialCondition != p.solution {
		initialCondition.Destroy()
	}
	p.clock.End(events.WriteOutput)
	p.state = Failed
}

func (p *Problem) releaseWriter() {
	if p.writer != nil {
		p.writer.Close()
		p.writer = nil
	}
}

func (p *Problem) logStepInfo(t float64) {
	voltage := p.solution.Stripe(0)
	minV, maxV := math.Inf(1), math.Inf(-1)
	for i := 0; i < voltage.Len(); i++ {
		v := voltage.Get(i)
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	p.log.Info("solved interval", "t", t, "v_min", minV, "v_max", maxV)
}

// closeFilesAndPostProcess closes the result store and, when output was
// requested, runs the post-processing pipeline over it. The closing half
// runs unconditionally; post-processing is skipped when output was never
// requested, and conversion also when only a node subset was written.
func (p *Problem) closeFilesAndPostProcess() error {
	p.clock.Begin(events.WriteOutput)
	p.releaseWriter()
	p.clock.End(events.WriteOutput)

	if !p.printOutput {
		return nil
	}

	pipeline, err := postproc.NewPipeline(p.cfg, p.log)
	if err != nil {
		return err
	}
	if !p.cfg.PostProcessing.Enabled && len(p.cfg.Output.Visualizers) == 0 {
		return nil
	}
	if len(p.nodesToOutput) != 0 {
		// Converters need every node; derived maps over a subset would
		// mislabel nodes.
		return nil
	}
	if !p.comm.IsMaster() {
		return nil
	}

	reader, err := results.NewReader(p.cfg.OutputDirectory, p.cfg.OutputFilenamePrefix)
	if err != nil {
		return err
	}

	p.clock.Begin(events.PostProc)
	err = pipeline.RunDerived(reader)
	p.clock.End(events.PostProc)
	if err != nil {
		return err
	}

	p.clock.Begin(events.DataConversion)
	defer p.clock.End(events.DataConversion)
	return pipeline.RunConverters(reader, p.mesh, p.shape.Hooks.HasBath())
}
