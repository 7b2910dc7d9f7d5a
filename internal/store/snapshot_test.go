package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"igmap/internal/model"
)

func TestSaveLoadGraph(t *testing.T) {
	t.Parallel()

	latency := 12.5
	g := &model.Graph{
		BuiltAt: time.Unix(1700000000, 0).UTC(),
		Nodes: []model.NodeSnapshot{
			{Name: "a", Lat: 1, Lon: 2, ElevationFloor: 3, Address: "192.0.2.1", LatencyMs: &latency},
			{Name: "me", IsUserNode: true},
		},
		Edges: []model.Edge{{
			From:   model.NodeSnapshot{Name: "a"},
			To:     model.NodeSnapshot{Name: "me"},
			Result: model.IGResult{PhysicalKm: 100, WorstLatencyMs: 999, IGFactor: 10.99, IGDistanceKm: 1099},
		}},
		MaxIGDistanceKm: 1099,
	}

	path := filepath.Join(t.TempDir(), "graph.yaml")
	if err := SaveGraph(path, g); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}

	got, err := LoadGraph(path)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if !got.BuiltAt.Equal(g.BuiltAt) {
		t.Fatalf("built_at=%s", got.BuiltAt)
	}
	if len(got.Nodes) != 2 || got.Nodes[0].LatencyMs == nil || *got.Nodes[0].LatencyMs != 12.5 {
		t.Fatalf("nodes=%+v", got.Nodes)
	}
	if got.Nodes[1].LatencyMs != nil || !got.Nodes[1].IsUserNode {
		t.Fatalf("user node=%+v", got.Nodes[1])
	}
	if len(got.Edges) != 1 || got.Edges[0].Result.IGDistanceKm != 1099 {
		t.Fatalf("edges=%+v", got.Edges)
	}
}

func TestLoadGraph_Missing(t *testing.T) {
	t.Parallel()

	g, err := LoadGraph(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if len(g.Edges) != 0 {
		t.Fatalf("edges=%d", len(g.Edges))
	}
}

func TestSaveGraph_Overwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	for _, v := range []float64{10, 20} {
		if err := SaveGraph(path, &model.Graph{MaxIGDistanceKm: v}); err != nil {
			t.Fatalf("SaveGraph: %v", err)
		}
	}

	got, err := LoadGraph(path)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if got.MaxIGDistanceKm != 20 {
		t.Fatalf("max=%v", got.MaxIGDistanceKm)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("leftover temp files: %d entries", len(entries))
	}
}
