package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"igmap/internal/model"
)

// EdgeRecord is one parsed CSV row.
type EdgeRecord struct {
	From     string
	To       string
	Fallback bool
	Result   model.IGResult
}

// ReadCSV loads edge records from a CSV file written by WriteCSV.
func ReadCSV(path string) ([]EdgeRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]EdgeRecord, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "from" {
		start = 1
	}

	items := make([]EdgeRecord, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(header) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		values := make([]float64, 4)
		for j, col := range []int{5, 6, 7, 8} {
			v, err := strconv.ParseFloat(rec[col], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s at line %d: %w", header[col], i+1, err)
			}
			values[j] = v
		}
		fallback, _ := strconv.ParseBool(rec[4])
		items = append(items, EdgeRecord{
			From:     rec[0],
			To:       rec[1],
			Fallback: fallback,
			Result: model.IGResult{
				PhysicalKm:     values[0],
				WorstLatencyMs: values[1],
				IGFactor:       values[2],
				IGDistanceKm:   values[3],
			},
		})
	}

	return items, nil
}
