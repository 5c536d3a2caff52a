package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// GraphDumper writes the adjacency list of the network as "nodeId
// neighborId" lines into <dir>/<height>.txt.
type GraphDumper struct {
	dir string
}

func NewGraphDumper(dir string) (*GraphDumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create graph directory: %w", err)
	}
	return &GraphDumper{dir: dir}, nil
}

func (g *GraphDumper) Path(height uint64) string {
	return filepath.Join(g.dir, fmt.Sprintf("%d.txt", height))
}

func (g *GraphDumper) WriteGraph(height uint64, neighbors [][]int) error {
	f, err := os.Create(g.Path(height))
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}
	w := bufio.NewWriter(f)
	for i, peers := range neighbors {
		for _, peer := range peers {
			fmt.Fprintf(w, "%d %d\n", i+1, peer)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write graph file: %w", err)
	}
	return f.Close()
}
