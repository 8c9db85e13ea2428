package mesh

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/san-kum/cardiosim/internal/dist"
)

// Region classifies a node as excitable tissue or conductive bath.
type Region int

const (
	Tissue Region = iota
	Bath
)

// Node is one spatial point of the mesh.
type Node struct {
	Index  int
	Coords []float64
	Region Region
}

// Mesh is a structured or file-loaded spatial mesh: nodes with
// coordinates, neighbour adjacency for diffusion stencils, and an
// optional node permutation left behind by partitioning.
type Mesh struct {
	dim         int
	nodes       []Node
	adjacency   [][]int
	boundary    []int
	permutation []int
	factory     *dist.VectorFactory
	distributed bool
}

func (m *Mesh) Dim() int          { return m.dim }
func (m *Mesh) NumNodes() int     { return len(m.nodes) }
func (m *Mesh) Node(i int) *Node  { return &m.nodes[i] }
func (m *Mesh) Distributed() bool { return m.distributed }

// Neighbours returns the indices of nodes adjacent to node i.
func (m *Mesh) Neighbours(i int) []int { return m.adjacency[i] }

// BoundaryNodes returns the indices of nodes on the mesh boundary.
func (m *Mesh) BoundaryNodes() []int { return m.boundary }

// Permutation returns the node reordering applied during partitioning,
// or nil if the mesh has no meaningful permutation.
func (m *Mesh) Permutation() []int { return m.permutation }

// SetPermutation records a node reordering; len(perm) must equal the
// node count.
func (m *Mesh) SetPermutation(perm []int) error {
	if perm != nil && len(perm) != len(m.nodes) {
		return fmt.Errorf("mesh: permutation length %d does not match %d nodes", len(perm), len(m.nodes))
	}
	m.permutation = perm
	return nil
}

// SetRegion marks node i as tissue or bath.
func (m *Mesh) SetRegion(i int, r Region) { m.nodes[i].Region = r }

// HasBathNodes reports whether any node lies in the bath region.
func (m *Mesh) HasBathNodes() bool {
	for i := range m.nodes {
		if m.nodes[i].Region == Bath {
			return true
		}
	}
	return false
}

// VectorFactory returns the factory for vectors distributed over this
// mesh's nodes.
func (m *Mesh) VectorFactory() *dist.VectorFactory { return m.factory }

// ConstructRegularSlab builds a regular 1, 2 or 3 dimensional slab mesh
// with the given inter-node spacing. dims gives the physical extent along
// each axis.
func ConstructRegularSlab(spacing float64, dims ...float64) (*Mesh, error) {
	if spacing <= 0 {
		return nil, fmt.Errorf("mesh: node spacing must be positive, got %g", spacing)
	}
	if len(dims) < 1 || len(dims) > 3 {
		return nil, fmt.Errorf("mesh: slab must be 1, 2 or 3 dimensional, got %d extents", len(dims))
	}

	counts := make([]int, len(dims))
	for i, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("mesh: slab extent %d must be positive, got %g", i, d)
		}
		counts[i] = int(math.Round(d/spacing)) + 1
	}

	m := &Mesh{dim: len(dims)}
	switch len(dims) {
	case 1:
		m.buildGrid(spacing, counts[0], 1, 1)
	case 2:
		m.buildGrid(spacing, counts[0], counts[1], 1)
	case 3:
		m.buildGrid(spacing, counts[0], counts[1], counts[2])
	}
	m.factory = dist.NewVectorFactory(len(m.nodes))
	m.distributed = true
	return m, nil
}

func (m *Mesh) buildGrid(spacing float64, nx, ny, nz int) {
	index := func(x, y, z int) int { return (z*ny+y)*nx + x }

	m.nodes = make([]Node, nx*ny*nz)
	m.adjacency = make([][]int, nx*ny*nz)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				i := index(x, y, z)
				coords := []float64{float64(x) * spacing}
				if m.dim >= 2 {
					coords = append(coords, float64(y)*spacing)
				}
				if m.dim >= 3 {
					coords = append(coords, float64(z)*spacing)
				}
				m.nodes[i] = Node{Index: i, Coords: coords}

				var adj []int
				if x > 0 {
					adj = append(adj, index(x-1, y, z))
				}
				if x < nx-1 {
					adj = append(adj, index(x+1, y, z))
				}
				if m.dim >= 2 && y > 0 {
					adj = append(adj, index(x, y-1, z))
				}
				if m.dim >= 2 && y < ny-1 {
					adj = append(adj, index(x, y+1, z))
				}
				if m.dim >= 3 && z > 0 {
					adj = append(adj, index(x, y, z-1))
				}
				if m.dim >= 3 && z < nz-1 {
					adj = append(adj, index(x, y, z+1))
				}
				m.adjacency[i] = adj

				onBoundary := x == 0 || x == nx-1 ||
					(m.dim >= 2 && (y == 0 || y == ny-1)) ||
					(m.dim >= 3 && (z == 0 || z == nz-1))
				if onBoundary {
					m.boundary = append(m.boundary, i)
				}
			}
		}
	}
}

// ConstructFromReader loads a mesh from a plain-text node listing:
// a header line "numNodes dim" followed by one line of coordinates per
// node, with an optional trailing region flag (0 tissue, 1 bath).
// Adjacency is rebuilt by nearest-neighbour distance, so this is only
// suitable for small meshes.
func ConstructFromReader(r io.Reader) (*Mesh, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return nil, fmt.Errorf("mesh: empty input")
	}
	header := strings.Fields(sc.Text())
	if len(header) != 2 {
		return nil, fmt.Errorf("mesh: header must be \"numNodes dim\", got %q", sc.Text())
	}
	numNodes, err := strconv.Atoi(header[0])
	if err != nil || numNodes <= 0 {
		return nil, fmt.Errorf("mesh: bad node count %q", header[0])
	}
	dim, err := strconv.Atoi(header[1])
	if err != nil || dim < 1 || dim > 3 {
		return nil, fmt.Errorf("mesh: bad dimension %q", header[1])
	}

	m := &Mesh{dim: dim, nodes: make([]Node, 0, numNodes)}
	for i := 0; i < numNodes; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("mesh: expected %d nodes, input ended after %d", numNodes, i)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < dim {
			return nil, fmt.Errorf("mesh: node %d has %d coordinates, want %d", i, len(fields), dim)
		}
		coords := make([]float64, dim)
		for j := 0; j < dim; j++ {
			coords[j], err = strconv.ParseFloat(fields[j], 64)
			if err != nil {
				return nil, fmt.Errorf("mesh: node %d coordinate %d: %w", i, j, err)
			}
		}
		region := Tissue
		if len(fields) > dim {
			flag, err := strconv.Atoi(fields[dim])
			if err != nil {
				return nil, fmt.Errorf("mesh: node %d region flag: %w", i, err)
			}
			if flag != 0 {
				region = Bath
			}
		}
		m.nodes = append(m.nodes, Node{Index: i, Coords: coords, Region: region})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("mesh: read: %w", err)
	}

	m.buildNearestNeighbourAdjacency()
	m.factory = dist.NewVectorFactory(len(m.nodes))
	return m, nil
}

func (m *Mesh) buildNearestNeighbourAdjacency() {
	n := len(m.nodes)
	m.adjacency = make([][]int, n)
	if n < 2 {
		return
	}

	// Connect each node to every node within 1.5x its nearest-neighbour
	// distance.
	for i := 0; i < n; i++ {
		nearest := math.Inf(1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if d := distance(m.nodes[i].Coords, m.nodes[j].Coords); d < nearest {
				nearest = d
			}
		}
		cutoff := nearest * 1.5
		for j := 0; j < n; j++ {
			if j != i && distance(m.nodes[i].Coords, m.nodes[j].Coords) <= cutoff {
				m.adjacency[i] = append(m.adjacency[i], j)
			}
		}
	}

	for i := 0; i < n; i++ {
		if len(m.adjacency[i]) < 2*m.dim {
			m.boundary = append(m.boundary, i)
		}
	}
}

func distance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
