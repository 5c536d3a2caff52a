package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/shreekarashastry/blocksim/record"
)

// JSONFile writes every record into a single JSON array, the layout the
// dashboard replays from disk.
type JSONFile struct {
	mu    sync.Mutex
	f     *os.File
	w     *bufio.Writer
	count int
}

func NewJSONFile(path string) (*JSONFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString("["); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write output file: %w", err)
	}
	return &JSONFile{f: f, w: w}, nil
}

func (j *JSONFile) Emit(r record.Record) {
	data, err := json.Marshal(r)
	if err != nil {
		log.WithField("err", err).Warn("Failed to encode record")
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return
	}
	if j.count > 0 {
		j.w.WriteByte(',')
	}
	if _, err := j.w.Write(data); err != nil {
		log.WithField("err", err).Warn("Failed to write record")
		return
	}
	j.count++
}

// Count returns the number of records written.
func (j *JSONFile) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Close terminates the array and closes the file.
func (j *JSONFile) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return nil
	}
	w := j.w
	j.w = nil
	if _, err := w.WriteString("]"); err != nil {
		j.f.Close()
		return fmt.Errorf("failed to finish output file: %w", err)
	}
	if err := w.Flush(); err != nil {
		j.f.Close()
		return fmt.Errorf("failed to flush output file: %w", err)
	}
	return j.f.Close()
}
