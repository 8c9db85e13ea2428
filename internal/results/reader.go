package results

import (
	"fmt"
)

// Reader provides read access to a store, including one that is still
// being written (it sees whatever rows have been flushed).
type Reader struct {
	storeDir string
	meta     *metadata
}

// NewReader opens the store at the given output directory and prefix.
func NewReader(dir, prefix string) (*Reader, error) {
	storeDir := StoreDir(dir, prefix)
	meta, err := readMetadata(storeDir)
	if err != nil {
		return nil, err
	}
	return &Reader{storeDir: storeDir, meta: meta}, nil
}

// FixedDimension returns the number of values per row.
func (r *Reader) FixedDimension() int { return r.meta.FixedDimension }

// NodeSubset returns the node subset the store was restricted to, or nil
// when all nodes were written.
func (r *Reader) NodeSubset() []int { return r.meta.NodeSubset }

// Variables returns the column names in definition order.
func (r *Reader) Variables() []string {
	names := make([]string, len(r.meta.Variables))
	for i, v := range r.meta.Variables {
		names[i] = v.Name
	}
	return names
}

// Units returns the units a variable was registered with.
func (r *Reader) Units(name string) (string, error) {
	for _, v := range r.meta.Variables {
		if v.Name == name {
			return v.Units, nil
		}
	}
	return "", fmt.Errorf("results: store has no variable %q", name)
}

// UnlimitedDimensionValues returns every recorded time coordinate, in
// write order.
func (r *Reader) UnlimitedDimensionValues() ([]float64, error) {
	return readFloats(timeFile(r.storeDir))
}

// NumRows returns the number of complete rows on the medium.
func (r *Reader) NumRows() (int, error) {
	times, err := r.UnlimitedDimensionValues()
	if err != nil {
		return 0, err
	}
	return len(times), nil
}

// VariableValues returns one variable's row at the given time step index.
func (r *Reader) VariableValues(name string, step int) ([]float64, error) {
	all, err := readFloats(variableFile(r.storeDir, name))
	if err != nil {
		return nil, fmt.Errorf("results: read column %q: %w", name, err)
	}
	dim := r.meta.FixedDimension
	if step < 0 || (step+1)*dim > len(all) {
		return nil, fmt.Errorf("results: step %d out of range (%d rows of %q on disk)", step, len(all)/dim, name)
	}
	return all[step*dim : (step+1)*dim], nil
}

// VariableOverTime returns the trace of one node across every row.
func (r *Reader) VariableOverTime(name string, node int) ([]float64, error) {
	all, err := readFloats(variableFile(r.storeDir, name))
	if err != nil {
		return nil, fmt.Errorf("results: read column %q: %w", name, err)
	}
	dim := r.meta.FixedDimension
	if node < 0 || node >= dim {
		return nil, fmt.Errorf("results: node %d out of range [0, %d)", node, dim)
	}
	rows := len(all) / dim
	trace := make([]float64, rows)
	for i := 0; i < rows; i++ {
		trace[i] = all[i*dim+node]
	}
	return trace, nil
}
