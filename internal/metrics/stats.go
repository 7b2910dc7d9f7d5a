package metrics

import (
	"math"
	"sort"
)

// Summary is a basic statistics snapshot over exported edges.
type Summary struct {
	Count             int
	FallbackEdges     int
	AvgPhysicalKm     float64
	AvgIGDistanceKm   float64
	MaxIGDistanceKm   float64
	AvgIGFactor       float64
	MinIGFactor       float64
	MaxIGFactor       float64
	P95WorstLatencyMs float64
}

// Summarize computes summary statistics for edge records.
func Summarize(items []EdgeRecord) Summary {
	if len(items) == 0 {
		return Summary{Count: 0}
	}

	latencies := make([]float64, 0, len(items))
	var sumPhysical, sumIG, sumFactor, maxIG float64
	minFactor := math.MaxFloat64
	maxFactor := 0.0
	fallbacks := 0

	for _, e := range items {
		r := e.Result
		latencies = append(latencies, r.WorstLatencyMs)
		sumPhysical += r.PhysicalKm
		sumIG += r.IGDistanceKm
		sumFactor += r.IGFactor
		if r.IGDistanceKm > maxIG {
			maxIG = r.IGDistanceKm
		}
		if r.IGFactor < minFactor {
			minFactor = r.IGFactor
		}
		if r.IGFactor > maxFactor {
			maxFactor = r.IGFactor
		}
		if e.Fallback {
			fallbacks++
		}
	}

	sort.Float64s(latencies)
	count := float64(len(items))

	return Summary{
		Count:             len(items),
		FallbackEdges:     fallbacks,
		AvgPhysicalKm:     sumPhysical / count,
		AvgIGDistanceKm:   sumIG / count,
		MaxIGDistanceKm:   maxIG,
		AvgIGFactor:       sumFactor / count,
		MinIGFactor:       minFactor,
		MaxIGFactor:       maxFactor,
		P95WorstLatencyMs: percentile(latencies, 0.95),
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
