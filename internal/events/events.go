// Package events accounts wall-clock time spent in the coarse phases of a
// simulation run (mesh read, initialise, solve, output, post-processing).
// A Handler is owned by one problem driver and passed explicitly; there is
// no ambient global state.
package events

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Section identifies one accounted phase.
type Section int

const (
	Everything Section = iota
	ReadMesh
	Initialise
	SolveODEs
	Communication
	WriteOutput
	PostProc
	DataConversion
	numSections
)

var sectionNames = [numSections]string{
	"Total",
	"ReadMesh",
	"Initialise",
	"Solve",
	"Communication",
	"WriteOutput",
	"PostProc",
	"DataConversion",
}

func (s Section) String() string {
	if s < 0 || s >= numSections {
		return fmt.Sprintf("Section(%d)", int(s))
	}
	return sectionNames[s]
}

// Handler accumulates elapsed time per section. Begin/End pairs may not
// nest within the same section.
type Handler struct {
	startedAt [numSections]time.Time
	elapsed   [numSections]time.Duration
	active    [numSections]bool
	now       func() time.Time
}

// NewHandler returns an empty handler.
func NewHandler() *Handler {
	return &Handler{now: time.Now}
}

// Begin starts accounting a section. Beginning an active section is
// ignored.
func (h *Handler) Begin(s Section) {
	if h.active[s] {
		return
	}
	h.active[s] = true
	h.startedAt[s] = h.now()
}

// End stops accounting a section, folding the interval into its total.
// Ending an inactive section is ignored.
func (h *Handler) End(s Section) {
	if !h.active[s] {
		return
	}
	h.elapsed[s] += h.now().Sub(h.startedAt[s])
	h.active[s] = false
}

// Elapsed returns the accumulated time in a section, including a
// currently-open interval.
func (h *Handler) Elapsed(s Section) time.Duration {
	d := h.elapsed[s]
	if h.active[s] {
		d += h.now().Sub(h.startedAt[s])
	}
	return d
}

// Reset discards all accounting. The driver calls this on the failure
// path so a later run starts clean.
func (h *Handler) Reset() {
	for s := Section(0); s < numSections; s++ {
		h.elapsed[s] = 0
		h.active[s] = false
	}
}

// Report writes a per-section timing table.
func (h *Handler) Report(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "section\telapsed")
	for s := Section(0); s < numSections; s++ {
		fmt.Fprintf(tw, "%s\t%s\n", s, h.Elapsed(s).Round(time.Microsecond))
	}
	return tw.Flush()
}
