// Package progress reports fractional completion of a simulation run.
// Reporting is a cheap side channel: it writes percent milestones to a
// status file in the output directory and never influences control flow.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Reporter tracks how far through [start, end] the simulation clock has
// advanced, emitting one line per whole percent.
type Reporter struct {
	out         io.Writer
	file        *os.File
	start, end  float64
	lastPercent int
}

// NewReporter creates a reporter writing to progress_status.txt under
// outputDir. An empty outputDir discards all reporting. Failures to create
// the status file degrade to discarding, never to an error.
func NewReporter(outputDir string, start, end float64) *Reporter {
	r := &Reporter{out: io.Discard, start: start, end: end, lastPercent: -1}
	if outputDir == "" {
		return r
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return r
	}
	f, err := os.Create(filepath.Join(outputDir, "progress_status.txt"))
	if err != nil {
		return r
	}
	r.file = f
	r.out = f
	return r
}

// Update records the current simulation time, printing any whole-percent
// milestones passed since the last call.
func (r *Reporter) Update(t float64) {
	if r.end <= r.start {
		return
	}
	percent := int(100 * (t - r.start) / (r.end - r.start))
	if percent > 100 {
		percent = 100
	}
	if percent > r.lastPercent {
		fmt.Fprintf(r.out, "%d%% completed\n", percent)
		r.lastPercent = percent
	}
}

// PrintFinalising marks the transition from solving to output
// finalisation.
func (r *Reporter) PrintFinalising() {
	fmt.Fprintln(r.out, "Finalising...")
}

// Close releases the status file. Safe to call when reporting was
// discarded.
func (r *Reporter) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.out = io.Discard
	return err
}
