// Package viz renders simulation traces from a result store as styled
// terminal charts.
package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/cardiosim/internal/results"
)

const (
	graphWidth  = 70
	graphHeight = 12
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

// Trace renders one variable's time course at a single node.
func Trace(r *results.Reader, variable string, node int) (string, error) {
	values, err := r.VariableOverTime(variable, node)
	if err != nil {
		return "", err
	}
	times, err := r.UnlimitedDimensionValues()
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", fmt.Errorf("viz: store holds no rows for %q", variable)
	}

	units, _ := r.Units(variable)
	caption := variable
	if units != "" {
		caption = fmt.Sprintf("%s (%s)", variable, units)
	}

	var s strings.Builder
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s at node %d", variable, node)) + "\n")
	chart := asciigraph.Plot(values,
		asciigraph.Height(graphHeight),
		asciigraph.Width(graphWidth),
		asciigraph.Caption(caption))
	s.WriteString(graphStyle.Render(chart) + "\n\n")

	minV, maxV := extrema(values)
	s.WriteString(labelStyle.Render("Time span") +
		valueStyle.Render(fmt.Sprintf("%g .. %g ms", times[0], times[len(times)-1])) + "\n")
	s.WriteString(labelStyle.Render("Rows") + valueStyle.Render(fmt.Sprintf("%d", len(values))) + "\n")
	s.WriteString(labelStyle.Render("Min") + valueStyle.Render(fmt.Sprintf("%.4f", minV)) + "\n")
	s.WriteString(labelStyle.Render("Max") + valueStyle.Render(fmt.Sprintf("%.4f", maxV)) + "\n")
	return s.String(), nil
}

// Summary renders an overview of a result store: its variables, row count
// and a final-row voltage profile across the nodes.
func Summary(r *results.Reader) (string, error) {
	times, err := r.UnlimitedDimensionValues()
	if err != nil {
		return "", err
	}
	rows := len(times)

	var s strings.Builder
	s.WriteString(headerStyle.Render("Result store") + "\n")
	s.WriteString(labelStyle.Render("Variables") + valueStyle.Render(strings.Join(r.Variables(), ", ")) + "\n")
	s.WriteString(labelStyle.Render("Nodes") + valueStyle.Render(fmt.Sprintf("%d", r.FixedDimension())) + "\n")
	s.WriteString(labelStyle.Render("Rows") + valueStyle.Render(fmt.Sprintf("%d", rows)) + "\n")
	if subset := r.NodeSubset(); subset != nil {
		s.WriteString(labelStyle.Render("Node subset") + warnStyle.Render(fmt.Sprintf("%v", subset)) + "\n")
	}
	if rows == 0 {
		return s.String(), nil
	}
	s.WriteString(labelStyle.Render("Time span") +
		valueStyle.Render(fmt.Sprintf("%g .. %g ms", times[0], times[rows-1])) + "\n")

	profile, err := r.VariableValues("V", rows-1)
	if err == nil && len(profile) > 1 {
		chart := asciigraph.Plot(profile,
			asciigraph.Height(graphHeight),
			asciigraph.Width(graphWidth),
			asciigraph.Caption(fmt.Sprintf("V across nodes at t=%g", times[rows-1])))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}
	return s.String(), nil
}

func extrema(values []float64) (minV, maxV float64) {
	minV, maxV = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	return minV, maxV
}
