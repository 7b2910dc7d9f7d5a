package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"igmap/internal/model"
)

var header = []string{
	"from",
	"to",
	"from_latency_ms",
	"to_latency_ms",
	"fallback",
	"physical_km",
	"worst_latency_ms",
	"ig_factor",
	"ig_distance_km",
}

// WriteCSV writes graph edges to CSV with a fixed column order.
func WriteCSV(w io.Writer, edges []model.Edge) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range edges {
		record := []string{
			e.From.Name,
			e.To.Name,
			formatLatency(e.From.LatencyMs),
			formatLatency(e.To.LatencyMs),
			strconv.FormatBool(e.From.Fallback || e.To.Fallback),
			formatFloat(e.Result.PhysicalKm),
			formatFloat(e.Result.WorstLatencyMs),
			formatFloat(e.Result.IGFactor),
			formatFloat(e.Result.IGDistanceKm),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes edges to path, replacing any existing file.
func WriteCSVFile(path string, edges []model.Edge) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(file, edges); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func formatLatency(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
