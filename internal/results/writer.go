package results

import (
	"bufio"
	"fmt"
	"os"
	"sort"
)

// Writer appends rows to a store. A fresh writer starts in define mode:
// the fixed dimension, variables and time dimension must all be declared
// and EndDefineMode called before any data is written. An extending writer
// opens with the existing layout and accepts rows immediately.
type Writer struct {
	storeDir  string
	extending bool

	defineMode bool
	meta       *metadata

	chunkSize int
	alignment int
	useCache  bool

	perm []int

	files    map[int]*bufio.Writer
	raw      []*os.File
	timeBuf  *bufio.Writer
	timeRaw  *os.File
	rowsDone int
	closed   bool

	scratch []float64
}

// NewWriter opens the store for writing. With extend=false any existing
// store at the location is removed and a fresh one created in define mode;
// with extend=true the existing layout is loaded and rows append after the
// ones already on disk.
func NewWriter(dir, prefix string, extend, useCache bool) (*Writer, error) {
	storeDir := StoreDir(dir, prefix)
	w := &Writer{
		storeDir:  storeDir,
		extending: extend,
		useCache:  useCache,
		files:     make(map[int]*bufio.Writer),
	}

	if extend {
		meta, err := readMetadata(storeDir)
		if err != nil {
			return nil, err
		}
		w.meta = meta
		if err := w.openDataFiles(); err != nil {
			w.Close()
			return nil, err
		}
		return w, nil
	}

	if err := os.RemoveAll(storeDir); err != nil {
		return nil, fmt.Errorf("results: clear previous store: %w", err)
	}
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, fmt.Errorf("results: create store: %w", err)
	}
	w.defineMode = true
	w.meta = &metadata{}
	return w, nil
}

// IsExtending reports whether this writer appends to a pre-existing store.
func (w *Writer) IsExtending() bool { return w.extending }

// SetTargetChunkSize sets the I/O buffer size used for column files. Only
// honoured before EndDefineMode on a fresh store.
func (w *Writer) SetTargetChunkSize(n int) error {
	if !w.defineMode {
		return fmt.Errorf("results: chunk size must be set in define mode")
	}
	w.chunkSize = n
	return nil
}

// SetAlignment records the storage alignment hint. Only honoured before
// EndDefineMode on a fresh store.
func (w *Writer) SetAlignment(n int) error {
	if !w.defineMode {
		return fmt.Errorf("results: alignment must be set in define mode")
	}
	w.alignment = n
	return nil
}

// DefineFixedDimension declares that every column carries one value per
// node, for n nodes.
func (w *Writer) DefineFixedDimension(n int) error {
	if !w.defineMode {
		return fmt.Errorf("results: fixed dimension must be defined in define mode")
	}
	if n <= 0 {
		return fmt.Errorf("results: fixed dimension must be positive, got %d", n)
	}
	w.meta.FixedDimension = n
	w.meta.NodeSubset = nil
	return nil
}

// DefineFixedDimensionSubset declares output restricted to the given node
// subset of a mesh with total nodes.
func (w *Writer) DefineFixedDimensionSubset(nodes []int, total int) error {
	if !w.defineMode {
		return fmt.Errorf("results: fixed dimension must be defined in define mode")
	}
	if len(nodes) == 0 {
		return fmt.Errorf("results: node subset is empty")
	}
	subset := append([]int(nil), nodes...)
	sort.Ints(subset)
	if subset[0] < 0 || subset[len(subset)-1] >= total {
		return fmt.Errorf("results: node subset out of range [0, %d)", total)
	}
	w.meta.FixedDimension = len(subset)
	w.meta.NodeSubset = subset
	return nil
}

// DefineVariable registers a named column and returns its id.
func (w *Writer) DefineVariable(name, units string) (int, error) {
	if !w.defineMode {
		return 0, fmt.Errorf("results: variables must be defined in define mode")
	}
	if name == "" {
		return 0, fmt.Errorf("results: variable name is empty")
	}
	for _, v := range w.meta.Variables {
		if v.Name == name {
			return 0, fmt.Errorf("results: variable %q already defined", name)
		}
	}
	id := len(w.meta.Variables)
	w.meta.Variables = append(w.meta.Variables, variableMeta{ID: id, Name: name, Units: units})
	return id, nil
}

// VariableByName resolves an existing column id; used when extending.
func (w *Writer) VariableByName(name string) (int, error) {
	for _, v := range w.meta.Variables {
		if v.Name == name {
			return v.ID, nil
		}
	}
	return 0, fmt.Errorf("results: store has no variable %q", name)
}

// DefineUnlimitedDimension declares the time dimension with a pre-sizing
// estimate. The estimate is a hint; the store grows past it without error.
func (w *Writer) DefineUnlimitedDimension(name, units string, estimatedSteps int) error {
	if !w.defineMode {
		return fmt.Errorf("results: unlimited dimension must be defined in define mode")
	}
	w.meta.Unlimited = unlimitedMeta{Name: name, Units: units, Estimate: estimatedSteps}
	return nil
}

// ApplyPermutation arranges for rows to be written in the original node
// ordering. Returns false (and leaves the writer untouched) when perm is
// nil or the identity. When extending, the caller vouches that the store
// was written with the same permutation.
func (w *Writer) ApplyPermutation(perm []int, unsafeExtend bool) (bool, error) {
	if w.extending && !unsafeExtend {
		return false, fmt.Errorf("results: cannot apply a permutation to an extending writer")
	}
	if perm == nil {
		return false, nil
	}
	if len(perm) != w.meta.FixedDimension || w.meta.NodeSubset != nil {
		return false, fmt.Errorf("results: permutation length %d does not match dimension %d", len(perm), w.meta.FixedDimension)
	}
	identity := true
	seen := make([]bool, len(perm))
	for i, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return false, fmt.Errorf("results: not a permutation")
		}
		seen[p] = true
		if p != i {
			identity = false
		}
	}
	if identity {
		return false, nil
	}
	w.perm = append([]int(nil), perm...)
	w.meta.Permuted = true
	return true, nil
}

// EndDefineMode finalizes the physical layout: metadata is persisted and
// the column files created. Must be called exactly once on a fresh store
// before any data row.
func (w *Writer) EndDefineMode() error {
	if !w.defineMode {
		return fmt.Errorf("results: writer is not in define mode")
	}
	if w.meta.FixedDimension == 0 {
		return fmt.Errorf("results: fixed dimension was never defined")
	}
	if len(w.meta.Variables) == 0 {
		return fmt.Errorf("results: no variables defined")
	}
	if w.meta.Unlimited.Name == "" {
		return fmt.Errorf("results: unlimited dimension was never defined")
	}
	if err := writeMetadata(w.storeDir, w.meta); err != nil {
		return err
	}
	if err := w.openDataFiles(); err != nil {
		return err
	}
	w.defineMode = false
	return nil
}

func (w *Writer) openDataFiles() error {
	bufSize := 64 * 1024
	if w.chunkSize > 0 {
		bufSize = w.chunkSize
	}
	open := func(path string) (*os.File, error) {
		return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	}

	for _, v := range w.meta.Variables {
		f, err := open(variableFile(w.storeDir, v.Name))
		if err != nil {
			return fmt.Errorf("results: open column %q: %w", v.Name, err)
		}
		w.raw = append(w.raw, f)
		w.files[v.ID] = bufio.NewWriterSize(f, bufSize)
	}
	f, err := open(timeFile(w.storeDir))
	if err != nil {
		return fmt.Errorf("results: open time index: %w", err)
	}
	w.timeRaw = f
	w.timeBuf = bufio.NewWriterSize(f, 4096)
	return nil
}

// PutUnlimitedVariable records the time coordinate of the row being
// assembled.
func (w *Writer) PutUnlimitedVariable(t float64) error {
	if w.defineMode {
		return fmt.Errorf("results: cannot write before EndDefineMode")
	}
	if w.closed {
		return fmt.Errorf("results: writer is closed")
	}
	return appendBuffered(w.timeBuf, []float64{t})
}

// PutVector writes one column's values for the row being assembled. data
// must have exactly the fixed dimension.
func (w *Writer) PutVector(columnID int, data []float64) error {
	if w.defineMode {
		return fmt.Errorf("results: cannot write before EndDefineMode")
	}
	if w.closed {
		return fmt.Errorf("results: writer is closed")
	}
	buf, ok := w.files[columnID]
	if !ok {
		return fmt.Errorf("results: unknown column id %d", columnID)
	}
	if len(data) != w.meta.FixedDimension {
		return fmt.Errorf("results: vector length %d does not match fixed dimension %d", len(data), w.meta.FixedDimension)
	}
	if w.perm != nil {
		if cap(w.scratch) < len(data) {
			w.scratch = make([]float64, len(data))
		}
		out := w.scratch[:len(data)]
		for i, p := range w.perm {
			out[i] = data[p]
		}
		data = out
	}
	return appendBuffered(buf, data)
}

// AdvanceAlongUnlimitedDimension marks the current row complete. Unless
// write caching is enabled, the row is flushed to the medium here.
func (w *Writer) AdvanceAlongUnlimitedDimension() error {
	if w.defineMode {
		return fmt.Errorf("results: cannot advance before EndDefineMode")
	}
	if w.closed {
		return fmt.Errorf("results: writer is closed")
	}
	w.rowsDone++
	if w.useCache {
		return nil
	}
	return w.flush()
}

func (w *Writer) flush() error {
	for _, b := range w.files {
		if err := b.Flush(); err != nil {
			return fmt.Errorf("results: flush column: %w", err)
		}
	}
	if w.timeBuf != nil {
		if err := w.timeBuf.Flush(); err != nil {
			return fmt.Errorf("results: flush time index: %w", err)
		}
	}
	return nil
}

// Close flushes and releases the store. Closing twice, or closing a writer
// still in define mode, is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var firstErr error
	if !w.defineMode {
		firstErr = w.flush()
	}
	for _, f := range w.raw {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.timeRaw != nil {
		if err := w.timeRaw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func appendBuffered(b *bufio.Writer, values []float64) error {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		putFloat(buf[i*8:], v)
	}
	_, err := b.Write(buf)
	return err
}
