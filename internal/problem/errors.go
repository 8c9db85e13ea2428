package problem

import "fmt"

// ConfigurationError reports a problem that makes the run impossible to
// start: missing mesh source, bad output settings, non-dividing time
// steps, an end time already passed. It is always detected before any
// resource acquisition and never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "cardiac problem: " + e.Reason
}

// ResumeConsistencyError reports an attempt to extend a result store with
// a time range that overlaps what is already on disk. Extension must be
// strictly forward-progressing.
type ResumeConsistencyError struct {
	Store      string
	DiskTime   float64
	ResumeTime float64
}

func (e *ResumeConsistencyError) Error() string {
	return fmt.Sprintf(
		"cardiac problem: attempting to extend %s with results from time %g, but it already contains results up to time %g; direct output elsewhere before solving",
		e.Store, e.ResumeTime, e.DiskTime)
}

// SolveError reports a collaborator failure during a sub-interval
// advance. It is fatal to the Solve call but the partial output written
// so far remains readable.
type SolveError struct {
	Time float64
	Err  error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("cardiac problem: solve failed in the interval starting at t=%g: %v", e.Time, e.Err)
}

func (e *SolveError) Unwrap() error { return e.Err }
