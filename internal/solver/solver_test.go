package solver

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/cardiosim/internal/mesh"
	"github.com/san-kum/cardiosim/internal/tissue"
)

func buildTissue(t *testing.T) *tissue.Tissue {
	t.Helper()
	m, err := mesh.ConstructRegularSlab(0.1, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	f := tissue.NewFHNCellFactory()
	f.SetMesh(m)
	tis, err := tissue.New(m, f)
	if err != nil {
		t.Fatal(err)
	}
	return tis
}

func TestZeroNeumannCoversBoundary(t *testing.T) {
	m, _ := mesh.ConstructRegularSlab(0.5, 1.0, 1.0)
	bc := ZeroNeumann(m, 2)

	if len(bc.Conditions()) != len(m.BoundaryNodes())*2 {
		t.Errorf("expected %d conditions, got %d", len(m.BoundaryNodes())*2, len(bc.Conditions()))
	}
	if !bc.IsZeroFlux() {
		t.Error("default container should be zero flux")
	}

	bc.Add(NeumannCondition{Node: 0, Component: 0, Value: 1.5})
	if bc.IsZeroFlux() {
		t.Error("container with applied flux is not zero flux")
	}
}

func TestExplicitSolverAdvances(t *testing.T) {
	tis := buildTissue(t)
	bc := ZeroNeumann(tis.Mesh(), 1)
	s := NewExplicit(tis, bc, 1)

	ic := tis.Mesh().VectorFactory().CreateVector(1)
	defer ic.Destroy()
	stripe := ic.Stripe(0)
	for i := 0; i < stripe.Len(); i++ {
		stripe.Set(i, tis.VoltageAt(i))
	}

	s.SetTimeStep(0.01)
	s.SetTimes(0, 0.5)
	s.SetInitialCondition(ic)

	out, err := s.Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer out.Destroy()

	// the stimulated node must have depolarized away from rest
	if out.Stripe(0).Get(0) <= -1.2 {
		t.Errorf("stimulated node did not depolarize: %f", out.Stripe(0).Get(0))
	}

	for i, v := range out.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite value at %d", i)
		}
	}
}

func TestExplicitSolverRequiresSetup(t *testing.T) {
	tis := buildTissue(t)
	s := NewExplicit(tis, ZeroNeumann(tis.Mesh(), 1), 1)

	if _, err := s.Solve(context.Background()); err == nil {
		t.Error("expected error with no initial condition")
	}

	ic := tis.Mesh().VectorFactory().CreateVector(1)
	defer ic.Destroy()
	s.SetInitialCondition(ic)
	if _, err := s.Solve(context.Background()); err == nil {
		t.Error("expected error with no time step")
	}
}

func TestExplicitSolverHonoursCancellation(t *testing.T) {
	tis := buildTissue(t)
	s := NewExplicit(tis, ZeroNeumann(tis.Mesh(), 1), 1)

	ic := tis.Mesh().VectorFactory().CreateVector(1)
	defer ic.Destroy()
	s.SetTimeStep(0.001)
	s.SetTimes(0, 100)
	s.SetInitialCondition(ic)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	live := tis.Mesh().VectorFactory().Live()
	if _, err := s.Solve(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if tis.Mesh().VectorFactory().Live() != live {
		t.Error("cancelled solve leaked its working vector")
	}
}

type halvingController struct{}

func (halvingController) ComputeTimeStep(t, dt float64) float64 {
	return math.Max(dt/2, 0.01)
}

func TestAdaptivityControllerConsulted(t *testing.T) {
	tis := buildTissue(t)
	s := NewExplicit(tis, ZeroNeumann(tis.Mesh(), 1), 1)

	ic := tis.Mesh().VectorFactory().CreateVector(1)
	defer ic.Destroy()
	s.SetTimeStep(0.05)
	s.SetTimes(0, 0.1)
	s.SetInitialCondition(ic)
	s.SetTimeAdaptivityController(halvingController{})

	out, err := s.Solve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out.Destroy()
}
