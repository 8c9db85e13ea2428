package dist

import (
	"fmt"
	"sync"
)

// VectorFactory allocates solution vectors over the locally-owned node
// range. It also counts allocations and destructions, which is how the
// single-owner discipline of the solve loop stays checkable.
type VectorFactory struct {
	numNodes int
	lo, hi   int // locally owned half-open range [lo, hi)

	mu        sync.Mutex
	allocated int
	destroyed int
}

// NewVectorFactory returns a factory for vectors over numNodes nodes, all
// locally owned.
func NewVectorFactory(numNodes int) *VectorFactory {
	return &VectorFactory{numNodes: numNodes, lo: 0, hi: numNodes}
}

func (f *VectorFactory) NumNodes() int  { return f.numNodes }
func (f *VectorFactory) Low() int       { return f.lo }
func (f *VectorFactory) High() int      { return f.hi }
func (f *VectorFactory) LocalSize() int { return f.hi - f.lo }

// CreateVector allocates a zeroed vector with the given number of
// interleaved components per node. Ownership passes to the caller, who
// must Destroy it exactly once.
func (f *VectorFactory) CreateVector(components int) *Vector {
	if components < 1 {
		panic(fmt.Sprintf("dist: vector needs at least one component, got %d", components))
	}
	f.mu.Lock()
	f.allocated++
	f.mu.Unlock()
	return &Vector{
		factory:    f,
		components: components,
		data:       make([]float64, f.LocalSize()*components),
	}
}

// Allocated returns the number of vectors created by this factory.
func (f *VectorFactory) Allocated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocated
}

// Destroyed returns the number of vectors destroyed so far.
func (f *VectorFactory) Destroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// Live returns the number of vectors currently alive.
func (f *VectorFactory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocated - f.destroyed
}

// Vector is a distributed numeric vector with interleaved per-node
// components and single-owner semantics. The owner hands it off by move:
// whoever holds the reference last must Destroy it, and nothing may touch
// it afterwards.
type Vector struct {
	factory    *VectorFactory
	components int
	data       []float64
	destroyed  bool
}

func (v *Vector) Components() int { return v.components }

// Values exposes the raw interleaved storage. The slice is invalidated by
// Destroy.
func (v *Vector) Values() []float64 {
	v.checkLive()
	return v.data
}

// Stripe returns a view over one component of the vector.
func (v *Vector) Stripe(component int) Stripe {
	v.checkLive()
	if component < 0 || component >= v.components {
		panic(fmt.Sprintf("dist: stripe %d out of range (vector has %d components)", component, v.components))
	}
	return Stripe{vec: v, component: component}
}

// Destroy releases the vector. Destroying twice is an ownership bug and
// panics.
func (v *Vector) Destroy() {
	v.checkLive()
	v.destroyed = true
	v.data = nil
	v.factory.mu.Lock()
	v.factory.destroyed++
	v.factory.mu.Unlock()
}

func (v *Vector) checkLive() {
	if v.destroyed {
		panic("dist: use of destroyed vector")
	}
}

// Stripe is a strided view over one component of a striped vector,
// indexed by local node.
type Stripe struct {
	vec       *Vector
	component int
}

func (s Stripe) Len() int { return s.vec.factory.LocalSize() }

func (s Stripe) Get(local int) float64 {
	return s.vec.data[local*s.vec.components+s.component]
}

func (s Stripe) Set(local int, value float64) {
	s.vec.data[local*s.vec.components+s.component] = value
}

// CopyTo gathers the stripe into dst, which must have length Len().
func (s Stripe) CopyTo(dst []float64) {
	for i := 0; i < s.Len(); i++ {
		dst[i] = s.Get(i)
	}
}
