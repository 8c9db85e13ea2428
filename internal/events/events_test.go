package events

import (
	"strings"
	"testing"
	"time"
)

func handlerWithClock() (*Handler, *time.Time) {
	now := time.Unix(0, 0)
	h := NewHandler()
	h.now = func() time.Time { return now }
	return h, &now
}

func TestBeginEndAccumulates(t *testing.T) {
	h, now := handlerWithClock()

	h.Begin(WriteOutput)
	*now = now.Add(50 * time.Millisecond)
	h.End(WriteOutput)

	h.Begin(WriteOutput)
	*now = now.Add(25 * time.Millisecond)
	h.End(WriteOutput)

	if got := h.Elapsed(WriteOutput); got != 75*time.Millisecond {
		t.Errorf("Elapsed = %v, want 75ms", got)
	}
}

func TestElapsedIncludesOpenInterval(t *testing.T) {
	h, now := handlerWithClock()

	h.Begin(SolveODEs)
	*now = now.Add(time.Second)

	if got := h.Elapsed(SolveODEs); got != time.Second {
		t.Errorf("Elapsed = %v, want 1s", got)
	}
}

func TestDoubleBeginIgnored(t *testing.T) {
	h, now := handlerWithClock()

	h.Begin(PostProc)
	*now = now.Add(time.Second)
	h.Begin(PostProc) // must not restart the interval
	*now = now.Add(time.Second)
	h.End(PostProc)
	h.End(PostProc) // must not double count

	if got := h.Elapsed(PostProc); got != 2*time.Second {
		t.Errorf("Elapsed = %v, want 2s", got)
	}
}

func TestReset(t *testing.T) {
	h, now := handlerWithClock()
	h.Begin(Everything)
	*now = now.Add(time.Minute)
	h.Reset()

	if h.Elapsed(Everything) != 0 {
		t.Error("reset handler should report zero elapsed")
	}
}

func TestReport(t *testing.T) {
	h, now := handlerWithClock()
	h.Begin(ReadMesh)
	*now = now.Add(time.Millisecond)
	h.End(ReadMesh)

	var sb strings.Builder
	if err := h.Report(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if !strings.Contains(out, "ReadMesh") || !strings.Contains(out, "1ms") {
		t.Errorf("unexpected report:\n%s", out)
	}
}
