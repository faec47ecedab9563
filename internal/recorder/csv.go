// Package recorder provides the sinks a scan session emits completed points
// to: a tab-separated text file, a sqlite database, and a fan-out combining
// several sinks.
package recorder

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tandem-aerosol/tandemscan/internal/scan"
)

var csvHeader = []string{"index", "classifier1", "classifier2", "concentration", "bypass", "timestamp"}

// CSV writes one tab-separated row per scan point, flushed immediately so a
// crash mid-scan loses at most the in-flight point.
type CSV struct {
	mu sync.Mutex
	w  *csv.Writer
	c  io.Closer
}

// NewCSV wraps an open stream. The header row is written up front.
func NewCSV(w io.WriteCloser) (*CSV, error) {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("recorder: write header: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("recorder: write header: %w", err)
	}
	return &CSV{w: cw, c: w}, nil
}

// CreateCSV creates or truncates path and returns a recorder writing to it.
func CreateCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	return NewCSV(f)
}

func (r *CSV) Record(p scan.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := []string{
		strconv.Itoa(p.Index),
		strconv.FormatFloat(p.Classifier1, 'E', 4, 64),
		strconv.FormatFloat(p.Classifier2, 'E', 4, 64),
		strconv.FormatFloat(p.Concentration, 'E', 4, 64),
		strconv.FormatBool(p.Bypass),
		p.Timestamp.Format(time.RFC3339),
	}
	if err := r.w.Write(row); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	return nil
}

func (r *CSV) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	return r.c.Close()
}
