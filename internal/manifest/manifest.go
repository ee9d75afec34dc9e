// Package manifest collects one row per output clip and writes them out as
// the run's clip index.
package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// FileName is the manifest written into the output directory.
const FileName = "video_clips.csv"

// Header is the first CSV record.
var Header = []string{"item_id", "modifiers", "filename"}

// Status tracks whether a row's clip made it to disk.
type Status int

const (
	// Pending rows belong to a clip that is still being written.
	Pending Status = iota
	// Complete rows belong to a finalized clip.
	Complete
	// Discarded rows belong to a clip removed after an encode error.
	Discarded
)

// Row is one manifest entry.
type Row struct {
	ItemID    string
	Modifiers string
	Filename  string
	Status    Status
}

// Aggregator is safe for concurrent use. Rows keep the order in which they
// were appended.
type Aggregator struct {
	mu   sync.Mutex
	rows []Row
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Append adds a pending row and returns its id for later Mark calls.
func (a *Aggregator) Append(r Row) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	r.Status = Pending
	a.rows = append(a.rows, r)
	return len(a.rows) - 1
}

// Mark updates the status of a row. Unknown ids are ignored.
func (a *Aggregator) Mark(id int, s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id >= 0 && id < len(a.rows) {
		a.rows[id].Status = s
	}
}

// Rows returns a copy of every row, including pending and discarded ones.
func (a *Aggregator) Rows() []Row {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Row, len(a.rows))
	copy(out, a.rows)
	return out
}

// Completed returns the rows whose clips were finalized.
func (a *Aggregator) Completed() []Row {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Row
	for _, r := range a.rows {
		if r.Status == Complete {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of rows appended.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

// WriteCSV writes the header and the given rows.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.ItemID, r.Modifiers, r.Filename}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOptions controls WriteFile.
type WriteOptions struct {
	// Name overrides FileName.
	Name string
	// Compress additionally writes a zstd-compressed copy next to the CSV.
	Compress bool
}

// WriteFile writes the completed rows to dir and returns the paths written.
func (a *Aggregator) WriteFile(dir string, opts WriteOptions) ([]string, error) {
	name := opts.Name
	if name == "" {
		name = FileName
	}
	rows := a.Completed()

	path := filepath.Join(dir, name)
	if err := writeAtomic(path, func(w io.Writer) error { return WriteCSV(w, rows) }); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	paths := []string{path}

	if opts.Compress {
		zpath := path + ".zst"
		err := writeAtomic(zpath, func(w io.Writer) error {
			enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
			if err != nil {
				return err
			}
			if err := WriteCSV(enc, rows); err != nil {
				enc.Close()
				return err
			}
			return enc.Close()
		})
		if err != nil {
			return paths, fmt.Errorf("write compressed manifest: %w", err)
		}
		paths = append(paths, zpath)
	}
	return paths, nil
}

func writeAtomic(path string, fill func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadCSV reads a manifest written by WriteCSV. All returned rows are Complete.
func ReadCSV(r io.Reader) ([]Row, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}
	var rows []Row
	for _, rec := range records[1:] {
		if len(rec) != len(Header) {
			return nil, fmt.Errorf("manifest record has %d fields, want %d", len(rec), len(Header))
		}
		rows = append(rows, Row{ItemID: rec[0], Modifiers: rec[1], Filename: rec[2], Status: Complete})
	}
	return rows, nil
}
