// Package stepper computes the schedule of stopping times for a
// simulation: regular printing boundaries plus any injected extra stopping
// times, with an immutable schedule and a mutable cursor.
package stepper

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// TimeTolerance is the absolute tolerance used when comparing stop times.
const TimeTolerance = 1e-10

// ErrUnevenInterval is wrapped by New when the printing interval does not
// evenly divide the simulation window.
var ErrUnevenInterval = errors.New("printing interval does not divide the simulation duration")

// ErrAlreadyAtEnd is returned by AdvanceOneTimeStep once the cursor has
// reached the end of the schedule.
var ErrAlreadyAtEnd = errors.New("time stepper is already at the end time")

// TimeStepper walks a strictly increasing schedule of stop times covering
// [start, end]. The schedule is fixed at construction.
type TimeStepper struct {
	start, end float64
	interval   float64
	stops      []float64
	cursor     int
	estimate   int
}

// New builds the schedule for [start, end] with the given printing
// interval. Extra stopping times must lie within (start, end]; each either
// coincides with a regular boundary or splits the interval containing it.
// If the interval does not evenly divide end-start the configuration is
// rejected outright.
func New(start, end, printingInterval float64, extraStoppingTimes ...float64) (*TimeStepper, error) {
	if end <= start {
		return nil, fmt.Errorf("stepper: end time %g must be after start time %g", end, start)
	}
	if printingInterval <= 0 {
		return nil, fmt.Errorf("stepper: printing interval must be positive, got %g", printingInterval)
	}

	span := end - start
	n := math.Round(span / printingInterval)
	if n < 1 || math.Abs(span-printingInterval*n) > TimeTolerance {
		return nil, fmt.Errorf("stepper: %w: duration %g, interval %g", ErrUnevenInterval, span, printingInterval)
	}
	steps := int(n)

	stops := make([]float64, 0, steps+1+len(extraStoppingTimes))
	for i := 0; i < steps; i++ {
		stops = append(stops, start+float64(i)*printingInterval)
	}
	stops = append(stops, end) // exact, no accumulated rounding

	for _, extra := range extraStoppingTimes {
		if extra < start-TimeTolerance || extra > end+TimeTolerance {
			return nil, fmt.Errorf("stepper: extra stopping time %g outside [%g, %g]", extra, start, end)
		}
		stops = insertStop(stops, extra)
	}

	return &TimeStepper{
		start:    start,
		end:      end,
		interval: printingInterval,
		stops:    stops,
		estimate: steps,
	}, nil
}

// insertStop merges t into the sorted schedule, dropping it when it
// coincides with an existing stop.
func insertStop(stops []float64, t float64) []float64 {
	i := sort.SearchFloat64s(stops, t)
	if i < len(stops) && math.Abs(stops[i]-t) <= TimeTolerance {
		return stops
	}
	if i > 0 && math.Abs(stops[i-1]-t) <= TimeTolerance {
		return stops
	}
	stops = append(stops, 0)
	copy(stops[i+1:], stops[i:])
	stops[i] = t
	return stops
}

// Time returns the current stop time.
func (s *TimeStepper) Time() float64 { return s.stops[s.cursor] }

// NextTime returns the stop time one step ahead of the cursor; at the end
// of the schedule it returns the end time.
func (s *TimeStepper) NextTime() float64 {
	if s.cursor+1 >= len(s.stops) {
		return s.end
	}
	return s.stops[s.cursor+1]
}

// IsTimeAtEnd reports whether the cursor has reached the end time.
func (s *TimeStepper) IsTimeAtEnd() bool {
	return s.stops[s.cursor] >= s.end-TimeTolerance
}

// AdvanceOneTimeStep moves the cursor to the next scheduled stop.
func (s *TimeStepper) AdvanceOneTimeStep() error {
	if s.IsTimeAtEnd() {
		return ErrAlreadyAtEnd
	}
	s.cursor++
	return nil
}

// EstimateTimeSteps returns the number of regular printing intervals in
// the schedule. Extra stopping times add stops beyond this count; the
// result store treats the estimate as a pre-sizing hint only.
func (s *TimeStepper) EstimateTimeSteps() int { return s.estimate }

// TotalStops returns the number of scheduled stop times, including start
// and end and any merged extras.
func (s *TimeStepper) TotalStops() int { return len(s.stops) }
