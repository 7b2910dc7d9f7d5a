package store

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"igmap/internal/model"
)

// SaveGraph writes a graph snapshot to disk for an external renderer.
// Readers never observe a partially written file.
func SaveGraph(path string, g *model.Graph) error {
	if g == nil {
		return nil
	}
	data, err := yaml.Marshal(g)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return writeAtomic(path, data, 0o644)
}

// LoadGraph reads a snapshot written by SaveGraph. A missing file yields
// an empty graph.
func LoadGraph(path string) (*model.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.Graph{}, nil
		}
		return nil, err
	}

	var g model.Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, err
	}

	return &g, nil
}

// writeAtomic replaces path through a temp file in the same directory.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() {
		_ = os.Remove(name)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
