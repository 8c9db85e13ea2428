package postproc

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/cardiosim/internal/config"
	"github.com/san-kum/cardiosim/internal/logging"
	"github.com/san-kum/cardiosim/internal/mesh"
	"github.com/san-kum/cardiosim/internal/results"
)

// buildStore writes a 3-node store where node 0 activates at t=1 and
// node 2 never does.
func buildStore(t *testing.T, dir string) *results.Reader {
	t.Helper()
	w, err := results.NewWriter(dir, "run", false, false)
	if err != nil {
		t.Fatal(err)
	}
	w.DefineFixedDimension(3)
	id, _ := w.DefineVariable("V", "mV")
	w.DefineUnlimitedDimension("Time", "msecs", 3)
	if err := w.EndDefineMode(); err != nil {
		t.Fatal(err)
	}

	rows := []struct {
		t    float64
		data []float64
	}{
		{0, []float64{-1, -1, -1}},
		{1, []float64{0.5, -1, -1}},
		{2, []float64{0.2, 0.9, -1}},
	}
	for _, row := range rows {
		w.PutUnlimitedVariable(row.t)
		w.PutVector(id, row.data)
		w.AdvanceAlongUnlimitedDimension()
	}
	w.Close()

	r, err := results.NewReader(dir, "run")
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.OutputDirectory = dir
	cfg.OutputFilenamePrefix = "run"
	cfg.PostProcessing.Enabled = true
	cfg.PostProcessing.ActivationThreshold = 0.0
	return cfg
}

func TestUnknownVisualizerRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Visualizers = []string{"hologram"}
	if _, err := NewPipeline(cfg, logging.NewNop()); err == nil {
		t.Error("expected error for unknown visualizer")
	}
}

func TestActivationMap(t *testing.T) {
	dir := t.TempDir()
	r := buildStore(t, dir)
	cfg := testConfig(dir)

	p, err := NewPipeline(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(r, nil, false); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "run_activation.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 4 {
		t.Fatalf("expected header + 3 nodes, got %d records", len(records))
	}
	if records[1][1] != "1" {
		t.Errorf("node 0 activation = %s, want 1", records[1][1])
	}
	if records[2][1] != "2" {
		t.Errorf("node 1 activation = %s, want 2", records[2][1])
	}
	if records[3][1] != "NaN" {
		t.Errorf("node 2 activation = %s, want NaN", records[3][1])
	}
}

func TestCSVConversion(t *testing.T) {
	dir := t.TempDir()
	r := buildStore(t, dir)
	cfg := testConfig(dir)
	cfg.PostProcessing.Enabled = false
	cfg.Output.Visualizers = []string{"csv"}

	p, err := NewPipeline(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(r, nil, false); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "csv_output", "run_V.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d lines", len(lines))
	}
	if lines[0] != "time,node0,node1,node2" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if lines[2] != "1,0.5,-1,-1" {
		t.Errorf("unexpected row %q", lines[2])
	}
}

func TestVTKConversion(t *testing.T) {
	dir := t.TempDir()
	r := buildStore(t, dir)
	cfg := testConfig(dir)
	cfg.PostProcessing.Enabled = false
	cfg.Output.Visualizers = []string{"vtk"}

	m, err := mesh.ConstructRegularSlab(0.5, 1.0) // 3 nodes
	if err != nil {
		t.Fatal(err)
	}

	p, err := NewPipeline(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(r, m, false); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "vtk_output", "run_000001.vtk"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{"# vtk DataFile", "POINTS 3 double", "SCALARS V double 1"} {
		if !strings.Contains(text, want) {
			t.Errorf("vtk output missing %q", want)
		}
	}
}

func TestVTKBathMarker(t *testing.T) {
	dir := t.TempDir()
	r := buildStore(t, dir)

	m, err := mesh.ConstructRegularSlab(0.5, 1.0) // 3 nodes
	if err != nil {
		t.Fatal(err)
	}
	m.SetRegion(2, mesh.Bath)

	if err := (VTKConverter{}).Convert(r, m, dir, "run", true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "vtk_output", "run_000000.vtk"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "SCALARS bath int 1\nLOOKUP_TABLE default\n0\n0\n1\n") {
		t.Errorf("vtk output missing bath region marker:\n%s", text)
	}

	// Without a bath the marker array is omitted.
	dir2 := t.TempDir()
	r2 := buildStore(t, dir2)
	if err := (VTKConverter{}).Convert(r2, m, dir2, "run", false); err != nil {
		t.Fatal(err)
	}
	data, err = os.ReadFile(filepath.Join(dir2, "vtk_output", "run_000000.vtk"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "SCALARS bath") {
		t.Error("bath marker written for a run without a bath")
	}
}

func TestVTKNeedsMatchingMesh(t *testing.T) {
	dir := t.TempDir()
	r := buildStore(t, dir)

	m, _ := mesh.ConstructRegularSlab(0.1, 1.0) // 11 nodes, store has 3
	err := (VTKConverter{}).Convert(r, m, dir, "run", false)
	if err == nil {
		t.Error("expected error for mesh/store size mismatch")
	}
	if err := (VTKConverter{}).Convert(r, nil, dir, "run", false); err == nil {
		t.Error("expected error for nil mesh")
	}
}
