package problem

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/san-kum/cardiosim/internal/dist"
	"github.com/san-kum/cardiosim/internal/results"
	"github.com/san-kum/cardiosim/internal/stepper"
	"github.com/san-kum/cardiosim/internal/tissue"
)

// extraVariableIndexMarker separates a cell variable name from the index
// of the co-located cell model it is read from, e.g. "Ca_i__IDX__1".
const extraVariableIndexMarker = "__IDX__"

// SetWriterChunkSizeAndAlignment overrides the configured writer chunk
// size for fresh stores; zero restores writer defaults.
func (p *Problem) SetWriterChunkSizeAndAlignment(n int) { p.cfg.Output.ChunkSizeAndAlignment = n }

// SetUseWriterCache switches row buffering in the result writer.
func (p *Problem) SetUseWriterCache(use bool) { p.cfg.Output.UseWriterCache = use }

// initialiseWriter opens the result store: extended when this driver is
// resuming (it holds a solution) and a store already exists, created
// fresh otherwise. It reports whether the store is being extended. The
// existence check is bracketed by barriers so that no rank races a fresh
// create against another rank's probe.
func (p *Problem) initialiseWriter() (extending bool, err error) {
	extendFile := p.solution != nil
	p.comm.Barrier("writer-extension-check")
	extendFile = extendFile && results.Exists(p.cfg.OutputDirectory, p.cfg.OutputFilenamePrefix)
	p.comm.Barrier("writer-extension-check")

	// Disk state ahead of the driver clock means the store belongs to a
	// longer run than the one being resumed.
	if extendFile {
		diskTime, terr := lastStoredTime(p.cfg.OutputDirectory, p.cfg.OutputFilenamePrefix)
		if terr != nil {
			return false, terr
		}
		if diskTime > p.currentTime+stepper.TimeTolerance {
			return false, &ResumeConsistencyError{
				Store:      results.StoreDir(p.cfg.OutputDirectory, p.cfg.OutputFilenamePrefix),
				DiskTime:   diskTime,
				ResumeTime: p.currentTime,
			}
		}
	}

	w, err := results.NewWriter(p.cfg.OutputDirectory, p.cfg.OutputFilenamePrefix,
		extendFile, p.cfg.Output.UseWriterCache)
	if err != nil {
		return false, err
	}
	p.writer = w

	if !extendFile {
		if err := p.defineWriterColumns(); err != nil {
			return false, err
		}
		if _, err := p.applyOutputPermutation(false); err != nil {
			return false, err
		}
		if err := w.EndDefineMode(); err != nil {
			return false, err
		}
	} else {
		if p.voltageColumnID, err = w.VariableByName("V"); err != nil {
			return false, err
		}
		if p.extraVariableIDs, err = p.lookUpExtraVariableColumns(); err != nil {
			return false, err
		}
		if _, err := p.applyOutputPermutation(true); err != nil {
			return false, err
		}
	}
	return extendFile, nil
}

// defineWriterColumns lays out a fresh store: the fixed node dimension
// (possibly a subset), the time dimension with a pre-size hint, the
// voltage column and any configured extra cell variables.
func (p *Problem) defineWriterColumns() error {
	if n := p.cfg.Output.ChunkSizeAndAlignment; n > 0 {
		if err := p.writer.SetTargetChunkSize(n); err != nil {
			return err
		}
		if err := p.writer.SetAlignment(n); err != nil {
			return err
		}
	}

	if len(p.nodesToOutput) == 0 {
		if err := p.writer.DefineFixedDimension(p.mesh.NumNodes()); err != nil {
			return err
		}
	} else {
		if err := p.writer.DefineFixedDimensionSubset(p.nodesToOutput, p.mesh.NumNodes()); err != nil {
			return err
		}
	}

	ts, err := stepper.New(p.currentTime, p.cfg.SimulationDuration, p.cfg.PrintingTimeStep)
	if err != nil {
		return err
	}
	// One extra row for the initial condition.
	if err := p.writer.DefineUnlimitedDimension("Time", "ms", ts.EstimateTimeSteps()+1); err != nil {
		return err
	}

	if p.voltageColumnID, err = p.writer.DefineVariable("V", "mV"); err != nil {
		return err
	}
	return p.defineExtraVariablesWriterColumns()
}

// defineExtraVariablesWriterColumns registers a column per configured
// extra cell variable, after checking that the named variable and cell
// index actually exist in the tissue.
func (p *Problem) defineExtraVariablesWriterColumns() error {
	p.extraVariableIDs = p.extraVariableIDs[:0]
	for _, name := range p.cfg.Output.Variables {
		base, which, err := splitExtraVariableName(name)
		if err != nil {
			return err
		}
		if which >= p.tissue.CellsPerNode() {
			return &ConfigurationError{Reason: fmt.Sprintf(
				"output variable %q selects cell %d but the tissue has %d per node",
				name, which, p.tissue.CellsPerNode())}
		}
		if err := p.checkVariableExists(base, which, name); err != nil {
			return err
		}
		id, err := p.writer.DefineVariable(name, "")
		if err != nil {
			return err
		}
		p.extraVariableIDs = append(p.extraVariableIDs, id)
	}
	return nil
}

// checkVariableExists probes the first non-bath cell for the variable so
// misconfiguration fails before any rows are written.
func (p *Problem) checkVariableExists(base string, which int, full string) error {
	for node := 0; node < p.mesh.NumNodes(); node++ {
		cell, err := p.tissue.CellAt(node, which)
		if err != nil {
			continue
		}
		if _, err := cell.AnyVariable(base, p.currentTime); err != nil {
			return &ConfigurationError{Reason: fmt.Sprintf(
				"output variable %q is not defined by the cell model: %v", full, err)}
		}
		return nil
	}
	return &ConfigurationError{Reason: fmt.Sprintf(
		"output variable %q cannot be checked, every node is in the bath", full)}
}

// lookUpExtraVariableColumns resolves the configured cell variables to
// their existing columns on the extend path, validating each name the
// same way the fresh path does.
func (p *Problem) lookUpExtraVariableColumns() ([]int, error) {
	ids := make([]int, 0, len(p.cfg.Output.Variables))
	for _, name := range p.cfg.Output.Variables {
		base, which, err := splitExtraVariableName(name)
		if err != nil {
			return nil, err
		}
		if which >= p.tissue.CellsPerNode() {
			return nil, &ConfigurationError{Reason: fmt.Sprintf(
				"output variable %q selects cell %d but the tissue has %d per node",
				name, which, p.tissue.CellsPerNode())}
		}
		if err := p.checkVariableExists(base, which, name); err != nil {
			return nil, err
		}
		id, err := p.writer.VariableByName(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// applyOutputPermutation restores the original node ordering in the
// store when requested and the mesh was permuted. When the permutation
// cannot be applied the request flag is cleared so later writer setups
// do not retry it.
func (p *Problem) applyOutputPermutation(unsafeExtend bool) (bool, error) {
	if !p.cfg.Output.OriginalNodeOrdering {
		return false, nil
	}
	perm := p.mesh.Permutation()
	if perm == nil {
		p.log.Warn("asked to write output in original mesh ordering but the mesh was not permuted")
		p.cfg.Output.OriginalNodeOrdering = false
		return false, nil
	}
	applied, err := p.writer.ApplyPermutation(perm, unsafeExtend)
	if err != nil {
		return false, err
	}
	if !applied {
		p.cfg.Output.OriginalNodeOrdering = false
	}
	return applied, nil
}

// outputNodes lists the nodes written per row, in row order.
func (p *Problem) outputNodes() []int {
	if len(p.nodesToOutput) != 0 {
		return p.nodesToOutput
	}
	nodes := make([]int, p.mesh.NumNodes())
	for i := range nodes {
		nodes[i] = i
	}
	return nodes
}

// writeOneStep writes one time row: the stamp, the voltage stripe and
// any extra per-node cell variables.
func (p *Problem) writeOneStep(t float64, solution *dist.Vector) error {
	if err := p.writer.PutUnlimitedVariable(t); err != nil {
		return err
	}

	nodes := p.outputNodes()
	voltage := solution.Stripe(0)
	data := make([]float64, len(nodes))
	for i, node := range nodes {
		data[i] = voltage.Get(node)
	}
	if err := p.writer.PutVector(p.voltageColumnID, data); err != nil {
		return err
	}
	return p.writeExtraVariablesOneStep(t, nodes, data)
}

// writeExtraVariablesOneStep evaluates each configured cell variable at
// every output node. Bath nodes, having no cell, are padded with zero.
func (p *Problem) writeExtraVariablesOneStep(t float64, nodes []int, scratch []float64) error {
	for i, name := range p.cfg.Output.Variables {
		base, which, err := splitExtraVariableName(name)
		if err != nil {
			return err
		}
		for j, node := range nodes {
			cell, cerr := p.tissue.CellAt(node, which)
			if errors.Is(cerr, tissue.ErrBathNode) {
				scratch[j] = 0
				continue
			}
			if cerr != nil {
				return fmt.Errorf("reading %q at node %d: %w", name, node, cerr)
			}
			v, verr := cell.AnyVariable(base, t)
			if verr != nil {
				return fmt.Errorf("reading %q at node %d: %w", name, node, verr)
			}
			scratch[j] = v
		}
		if err := p.writer.PutVector(p.extraVariableIDs[i], scratch); err != nil {
			return err
		}
	}
	return nil
}

// splitExtraVariableName splits "name__IDX__n" into the cell variable
// name and the 0-based co-located cell index; a bare name means cell 0.
func splitExtraVariableName(name string) (base string, which int, err error) {
	idx := strings.LastIndex(name, extraVariableIndexMarker)
	if idx < 0 {
		return name, 0, nil
	}
	base = name[:idx]
	which, err = strconv.Atoi(name[idx+len(extraVariableIndexMarker):])
	if err != nil || which < 0 || base == "" {
		return "", 0, &ConfigurationError{Reason: fmt.Sprintf("malformed output variable name %q", name)}
	}
	return base, which, nil
}

// lastStoredTime reads the final time stamp of an existing store.
func lastStoredTime(dir, prefix string) (float64, error) {
	r, err := results.NewReader(dir, prefix)
	if err != nil {
		return 0, err
	}
	times, err := r.UnlimitedDimensionValues()
	if err != nil {
		return 0, err
	}
	if len(times) == 0 {
		return 0, nil
	}
	return times[len(times)-1], nil
}
