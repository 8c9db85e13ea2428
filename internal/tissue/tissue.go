// Package tissue couples a spatial mesh with per-node ionic cell models.
// Bath nodes carry no cells; queries against them either return zero or an
// error, depending on the accessor.
package tissue

import (
	"errors"
	"fmt"

	"github.com/san-kum/cardiosim/internal/mesh"
)

// ErrBathNode is returned when a cell accessor is used on a node in the
// bath region.
var ErrBathNode = errors.New("tissue: node is in the bath region and has no cell model")

// Cell is one ionic cell model instance.
type Cell interface {
	Voltage() float64
	SetVoltage(v float64)

	// AnyVariable looks up a named state variable or derived quantity
	// at the given simulation time.
	AnyVariable(name string, t float64) (float64, error)
}

// OdeSteppable is implemented by cells that can advance their own state;
// the reference explicit solver uses it.
type OdeSteppable interface {
	Step(t, dt float64)
}

// CellFactory builds the cell models placed at each mesh node. CellsPerNode
// may be up to 3 for problems with co-located cell populations.
type CellFactory interface {
	SetMesh(m *mesh.Mesh)
	CellsPerNode() int

	// CreateCellForNode builds the which-th cell model (0-based) at the
	// given node.
	CreateCellForNode(node, which int) (Cell, error)
}

// Tissue is the coupled PDE+ODE tissue model: the mesh plus the cell
// models living at its non-bath nodes.
type Tissue struct {
	mesh     *mesh.Mesh
	cells    [][]Cell // cells[which][node], nil entries for bath nodes
	perNode  int
	released bool
}

// New builds the tissue over m using the supplied factory. The factory's
// SetMesh must already have been called by the problem driver.
func New(m *mesh.Mesh, factory CellFactory) (*Tissue, error) {
	perNode := factory.CellsPerNode()
	if perNode < 1 || perNode > 3 {
		return nil, fmt.Errorf("tissue: factory must supply 1 to 3 cells per node, got %d", perNode)
	}

	t := &Tissue{mesh: m, perNode: perNode}
	t.cells = make([][]Cell, perNode)
	for which := 0; which < perNode; which++ {
		t.cells[which] = make([]Cell, m.NumNodes())
		for node := 0; node < m.NumNodes(); node++ {
			if m.Node(node).Region == mesh.Bath {
				continue
			}
			cell, err := factory.CreateCellForNode(node, which)
			if err != nil {
				return nil, fmt.Errorf("tissue: cell %d at node %d: %w", which, node, err)
			}
			t.cells[which][node] = cell
		}
	}
	return t, nil
}

func (t *Tissue) Mesh() *mesh.Mesh  { return t.mesh }
func (t *Tissue) CellsPerNode() int { return t.perNode }

// Cell returns the primary cell model at a node, or nil for bath nodes.
func (t *Tissue) Cell(node int) Cell { return t.cells[0][node] }

// CellAt returns the which-th co-located cell model at a node.
func (t *Tissue) CellAt(node, which int) (Cell, error) {
	if which < 0 || which >= t.perNode {
		return nil, fmt.Errorf("tissue: cell index %d out of range (have %d per node)", which, t.perNode)
	}
	c := t.cells[which][node]
	if c == nil {
		return nil, ErrBathNode
	}
	return c, nil
}

// VoltageAt returns the primary cell voltage at a node; bath nodes read
// as zero.
func (t *Tissue) VoltageAt(node int) float64 {
	if c := t.cells[0][node]; c != nil {
		return c.Voltage()
	}
	return 0
}

// Release drops the cell models. The driver calls this before rebuilding
// the tissue on a repeated Initialise.
func (t *Tissue) Release() {
	t.cells = nil
	t.released = true
}
