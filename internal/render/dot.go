// Package render turns a graph snapshot into a Graphviz DOT diagram.
//
// Nodes are pinned at (longitude, elevation floor). Edge pen width and
// colour scale with the edge's IG distance relative to the heaviest edge.
package render

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"igmap/internal/graph"
	"igmap/internal/model"
)

const (
	userColor = "#ff7f0e"
	nodeColor = "#1f77b4"
)

// WriteDOT writes g as an undirected DOT graph.
func WriteDOT(w io.Writer, g *model.Graph) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "graph igmap {")
	fmt.Fprintln(bw, `  label="Ihara-Grubb (IG) Net Transformation";`)
	fmt.Fprintln(bw, "  node [shape=circle style=filled fontsize=9];")
	fmt.Fprintln(bw, "  edge [fontsize=8];")

	for _, n := range g.Nodes {
		color := nodeColor
		width := 0.5
		if n.IsUserNode {
			color = userColor
			width = 0.6
		}
		label := fmt.Sprintf("%s\n(%gF | %s)", n.Name, n.ElevationFloor, latencyLabel(n.LatencyMs))
		fmt.Fprintf(bw, "  %s [label=%s fillcolor=%q width=%s pos=\"%s,%s!\"];\n",
			quote(n.Name), quote(label), color, ftoa(width), ftoa(n.Lon), ftoa(n.ElevationFloor))
	}

	for _, e := range g.Edges {
		ratio := graph.EffortRatio(g, e)
		fmt.Fprintf(bw, "  %s -- %s [label=%s penwidth=%s color=%q];\n",
			quote(e.From.Name), quote(e.To.Name),
			quote(fmt.Sprintf("IG Effort: %.2f", e.Result.IGDistanceKm)),
			ftoa(PenWidth(ratio)), EffortColor(ratio))
	}

	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

// PenWidth maps an effort ratio in [0, 1] to a line width in [2, 12].
func PenWidth(ratio float64) float64 {
	return 2 + 10*clamp(ratio)
}

// EffortColor shifts from green-yellow toward red as the ratio grows.
func EffortColor(ratio float64) string {
	ratio = clamp(ratio)
	r := math.Min(1.0, 0.5+ratio*0.5)
	g := math.Max(0.0, 1.0-ratio)
	b := 0.2
	return fmt.Sprintf("#%02x%02x%02x", channel(r), channel(g), channel(b))
}

func latencyLabel(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.1fms", *v)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func channel(v float64) int {
	return int(math.Round(v * 255))
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return `"` + s + `"`
}
