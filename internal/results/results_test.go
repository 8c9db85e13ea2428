package results

import (
	"math"
	"testing"
)

func freshWriter(t *testing.T, dir string) (*Writer, int) {
	t.Helper()
	w, err := NewWriter(dir, "sim", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.DefineFixedDimension(4); err != nil {
		t.Fatal(err)
	}
	id, err := w.DefineVariable("V", "mV")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.DefineUnlimitedDimension("Time", "msecs", 10); err != nil {
		t.Fatal(err)
	}
	if err := w.EndDefineMode(); err != nil {
		t.Fatal(err)
	}
	return w, id
}

func writeRow(t *testing.T, w *Writer, id int, tm float64, data []float64) {
	t.Helper()
	if err := w.PutUnlimitedVariable(tm); err != nil {
		t.Fatal(err)
	}
	if err := w.PutVector(id, data); err != nil {
		t.Fatal(err)
	}
	if err := w.AdvanceAlongUnlimitedDimension(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateWriteRead(t *testing.T) {
	dir := t.TempDir()
	w, id := freshWriter(t, dir)

	writeRow(t, w, id, 0.0, []float64{1, 2, 3, 4})
	writeRow(t, w, id, 0.5, []float64{5, 6, 7, 8})

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	r, err := NewReader(dir, "sim")
	if err != nil {
		t.Fatal(err)
	}

	times, err := r.UnlimitedDimensionValues()
	if err != nil {
		t.Fatal(err)
	}
	if len(times) != 2 || times[0] != 0.0 || times[1] != 0.5 {
		t.Errorf("unexpected times %v", times)
	}

	row, err := r.VariableValues("V", 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{5, 6, 7, 8} {
		if row[i] != want {
			t.Errorf("row[%d] = %f, want %f", i, row[i], want)
		}
	}

	trace, err := r.VariableOverTime("V", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(trace) != 2 || trace[0] != 3 || trace[1] != 7 {
		t.Errorf("unexpected trace %v", trace)
	}

	if units, _ := r.Units("V"); units != "mV" {
		t.Errorf("expected units mV, got %q", units)
	}
}

func TestWriteAfterDefineDiscipline(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sim", false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.PutUnlimitedVariable(0); err == nil {
		t.Error("writes before EndDefineMode must fail")
	}

	if err := w.EndDefineMode(); err == nil {
		t.Error("EndDefineMode must fail with nothing defined")
	}

	w.DefineFixedDimension(2)
	if _, err := w.DefineVariable("V", "mV"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.DefineVariable("V", "mV"); err == nil {
		t.Error("duplicate variable must be rejected")
	}
	w.DefineUnlimitedDimension("Time", "msecs", 1)
	if err := w.EndDefineMode(); err != nil {
		t.Fatal(err)
	}

	if err := w.DefineFixedDimension(3); err == nil {
		t.Error("defining after EndDefineMode must fail")
	}
}

func TestExtendAppendsRows(t *testing.T) {
	dir := t.TempDir()
	w, id := freshWriter(t, dir)
	writeRow(t, w, id, 0.0, []float64{0, 0, 0, 0})
	writeRow(t, w, id, 1.0, []float64{1, 1, 1, 1})
	w.Close()

	if !Exists(dir, "sim") {
		t.Fatal("store should exist")
	}

	w2, err := NewWriter(dir, "sim", true, false)
	if err != nil {
		t.Fatal(err)
	}
	if !w2.IsExtending() {
		t.Error("writer should report extending")
	}
	id2, err := w2.VariableByName("V")
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Errorf("extended column id %d, want %d", id2, id)
	}
	writeRow(t, w2, id2, 2.0, []float64{2, 2, 2, 2})
	w2.Close()

	r, _ := NewReader(dir, "sim")
	times, _ := r.UnlimitedDimensionValues()
	if len(times) != 3 || times[2] != 2.0 {
		t.Errorf("expected 3 rows ending at t=2, got %v", times)
	}
	row, _ := r.VariableValues("V", 0)
	if row[0] != 0 {
		t.Error("extending must not clear prior contents")
	}
}

func TestNodeSubset(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sub", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.DefineFixedDimensionSubset([]int{5, 1, 3}, 10); err != nil {
		t.Fatal(err)
	}
	id, _ := w.DefineVariable("V", "mV")
	w.DefineUnlimitedDimension("Time", "msecs", 1)
	if err := w.EndDefineMode(); err != nil {
		t.Fatal(err)
	}
	writeRow(t, w, id, 0, []float64{10, 30, 50})
	w.Close()

	r, _ := NewReader(dir, "sub")
	if r.FixedDimension() != 3 {
		t.Errorf("expected fixed dimension 3, got %d", r.FixedDimension())
	}
	subset := r.NodeSubset()
	if len(subset) != 3 || subset[0] != 1 || subset[2] != 5 {
		t.Errorf("expected sorted subset [1 3 5], got %v", subset)
	}

	if err := w.DefineFixedDimensionSubset([]int{11}, 10); err == nil {
		t.Error("out-of-range subset must be rejected")
	}
}

func TestApplyPermutation(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "perm", false, false)
	if err != nil {
		t.Fatal(err)
	}
	w.DefineFixedDimension(3)
	id, _ := w.DefineVariable("V", "mV")
	w.DefineUnlimitedDimension("Time", "msecs", 1)

	if ok, err := w.ApplyPermutation(nil, false); ok || err != nil {
		t.Errorf("nil permutation: ok=%v err=%v", ok, err)
	}
	if ok, err := w.ApplyPermutation([]int{0, 1, 2}, false); ok || err != nil {
		t.Errorf("identity permutation: ok=%v err=%v", ok, err)
	}
	if _, err := w.ApplyPermutation([]int{0, 0, 1}, false); err == nil {
		t.Error("non-permutation must be rejected")
	}
	ok, err := w.ApplyPermutation([]int{2, 0, 1}, false)
	if !ok || err != nil {
		t.Fatalf("valid permutation: ok=%v err=%v", ok, err)
	}

	if err := w.EndDefineMode(); err != nil {
		t.Fatal(err)
	}
	writeRow(t, w, id, 0, []float64{10, 20, 30})
	w.Close()

	r, _ := NewReader(dir, "perm")
	row, _ := r.VariableValues("V", 0)
	want := []float64{30, 10, 20}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("permuted row = %v, want %v", row, want)
			break
		}
	}
}

func TestVectorLengthChecked(t *testing.T) {
	dir := t.TempDir()
	w, id := freshWriter(t, dir)
	defer w.Close()

	if err := w.PutVector(id, []float64{1, 2}); err == nil {
		t.Error("short vector must be rejected")
	}
	if err := w.PutVector(99, []float64{1, 2, 3, 4}); err == nil {
		t.Error("unknown column must be rejected")
	}
}

func TestFreshCreateClearsOldStore(t *testing.T) {
	dir := t.TempDir()
	w, id := freshWriter(t, dir)
	writeRow(t, w, id, 0, []float64{1, 1, 1, 1})
	writeRow(t, w, id, 1, []float64{2, 2, 2, 2})
	w.Close()

	w2, id2 := freshWriter(t, dir)
	writeRow(t, w2, id2, 0, []float64{9, 9, 9, 9})
	w2.Close()

	r, _ := NewReader(dir, "sim")
	times, _ := r.UnlimitedDimensionValues()
	if len(times) != 1 {
		t.Errorf("fresh create should have cleared old rows, got %d", len(times))
	}
}

func TestCachedWriterFlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "cache", false, true)
	if err != nil {
		t.Fatal(err)
	}
	w.DefineFixedDimension(2)
	id, _ := w.DefineVariable("V", "mV")
	w.DefineUnlimitedDimension("Time", "msecs", 1)
	w.EndDefineMode()
	writeRow(t, w, id, 0.25, []float64{math.Pi, math.E})
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, _ := NewReader(dir, "cache")
	times, err := r.UnlimitedDimensionValues()
	if err != nil || len(times) != 1 {
		t.Fatalf("cached rows must survive close: %v %v", times, err)
	}
	row, _ := r.VariableValues("V", 0)
	if row[0] != math.Pi {
		t.Errorf("expected pi, got %v", row[0])
	}
}
