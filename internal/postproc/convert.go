package postproc

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/san-kum/cardiosim/internal/mesh"
	"github.com/san-kum/cardiosim/internal/results"
)

// CSVConverter writes one CSV file per variable: a time column followed
// by one column per node.
type CSVConverter struct{}

func (CSVConverter) Name() string { return "csv" }

func (CSVConverter) Convert(r *results.Reader, m *mesh.Mesh, outputDir, prefix string, hasBath bool) error {
	times, err := r.UnlimitedDimensionValues()
	if err != nil {
		return err
	}

	subdir := filepath.Join(outputDir, "csv_output")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		return err
	}

	for _, variable := range r.Variables() {
		f, err := os.Create(filepath.Join(subdir, fmt.Sprintf("%s_%s.csv", prefix, variable)))
		if err != nil {
			return err
		}
		w := csv.NewWriter(f)

		header := []string{"time"}
		for i := 0; i < r.FixedDimension(); i++ {
			header = append(header, fmt.Sprintf("node%d", i))
		}
		if err := w.Write(header); err != nil {
			f.Close()
			return err
		}

		for step := range times {
			row, err := r.VariableValues(variable, step)
			if err != nil {
				f.Close()
				return err
			}
			record := make([]string, 0, len(row)+1)
			record = append(record, strconv.FormatFloat(times[step], 'g', -1, 64))
			for _, v := range row {
				record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
			}
			if err := w.Write(record); err != nil {
				f.Close()
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// VTKConverter writes one legacy-ASCII VTK polydata file per time step,
// with every stored variable attached as point data. For runs with a
// conductive bath a region marker array is attached so bath nodes can be
// told apart from tissue.
type VTKConverter struct{}

func (VTKConverter) Name() string { return "vtk" }

func (VTKConverter) Convert(r *results.Reader, m *mesh.Mesh, outputDir, prefix string, hasBath bool) error {
	times, err := r.UnlimitedDimensionValues()
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("vtk conversion needs the mesh for node coordinates")
	}
	if r.FixedDimension() != m.NumNodes() {
		return fmt.Errorf("vtk conversion needs all %d nodes in the store, have %d",
			m.NumNodes(), r.FixedDimension())
	}

	subdir := filepath.Join(outputDir, "vtk_output")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		return err
	}

	for step := range times {
		if err := writeVTKStep(r, m, subdir, prefix, step, times[step], hasBath); err != nil {
			return err
		}
	}
	return nil
}

func writeVTKStep(r *results.Reader, m *mesh.Mesh, dir, prefix string, step int, t float64, hasBath bool) error {
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%s_%06d.vtk", prefix, step)))
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "# vtk DataFile Version 3.0")
	fmt.Fprintf(f, "%s t=%g\n", prefix, t)
	fmt.Fprintln(f, "ASCII")
	fmt.Fprintln(f, "DATASET POLYDATA")
	fmt.Fprintf(f, "POINTS %d double\n", m.NumNodes())
	for i := 0; i < m.NumNodes(); i++ {
		coords := m.Node(i).Coords
		x, y, z := coords[0], 0.0, 0.0
		if len(coords) > 1 {
			y = coords[1]
		}
		if len(coords) > 2 {
			z = coords[2]
		}
		fmt.Fprintf(f, "%g %g %g\n", x, y, z)
	}

	fmt.Fprintf(f, "POINT_DATA %d\n", m.NumNodes())
	for _, variable := range r.Variables() {
		row, err := r.VariableValues(variable, step)
		if err != nil {
			return err
		}
		fmt.Fprintf(f, "SCALARS %s double 1\n", variable)
		fmt.Fprintln(f, "LOOKUP_TABLE default")
		for _, v := range row {
			fmt.Fprintf(f, "%g\n", v)
		}
	}

	if hasBath {
		fmt.Fprintln(f, "SCALARS bath int 1")
		fmt.Fprintln(f, "LOOKUP_TABLE default")
		for i := 0; i < m.NumNodes(); i++ {
			if m.Node(i).Region == mesh.Bath {
				fmt.Fprintln(f, "1")
			} else {
				fmt.Fprintln(f, "0")
			}
		}
	}
	return nil
}

// writeNodeTable writes a per-node CSV with the given header; values
// returns the data columns for one node.
func writeNodeTable(dir, filename string, header []string, values func(node int) []float64, numNodes int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for node := 0; node < numNodes; node++ {
		record := []string{strconv.Itoa(node)}
		for _, v := range values(node) {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
