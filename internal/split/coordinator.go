package split

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/manifest"
	"github.com/fpang/recording-splitter/internal/marker"
)

// Progress receives one increment per claimed segment.
// *progressbar.ProgressBar satisfies it.
type Progress interface {
	Add(n int) error
}

// Partition gives worker i the suffix fragments[i*(len/n):]. Ranges
// overlap: a worker keeps going past its nominal share until it meets a
// segment someone else has claimed.
func Partition(fragments []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	step := len(fragments) / n
	parts := make([][]string, n)
	for i := range parts {
		parts[i] = fragments[i*step:]
	}
	return parts
}

// Coordinator runs one Splitter per partition against a shared registry.
type Coordinator struct {
	Workers  int
	Options  Options
	Registry Registry
	Manifest *manifest.Aggregator
	Progress Progress

	// mu guards the claim, the manifest append and the progress update as
	// one step. No decode or encode happens under it.
	mu      sync.Mutex
	claimed int
}

// WorkerReport is the outcome of one worker.
type WorkerReport struct {
	Name     string
	Assigned int
	Stats    Stats
	Ceded    bool
	Err      error
}

// Report is the outcome of a coordinated run.
type Report struct {
	// Claimed counts segments claimed during this run.
	Claimed int
	Workers []WorkerReport
}

// Totals sums the worker stats.
func (r Report) Totals() Stats {
	var s Stats
	for _, w := range r.Workers {
		s.Add(w.Stats)
	}
	return s
}

// Run starts every worker at once and waits for all of them. Worker errors
// are joined; a failed worker does not stop the others.
func (c *Coordinator) Run(ctx context.Context, fragments []string) (Report, error) {
	if c.Registry == nil {
		c.Registry = NewMemoryRegistry()
	}
	if c.Manifest == nil {
		c.Manifest = manifest.NewAggregator()
	}
	ext := c.Options.Extension
	if ext == "" {
		ext = clip.DefaultExtension
	}

	parts := Partition(fragments, c.Workers)
	reports := make([]WorkerReport, len(parts))
	splitters := make([]*Splitter, len(parts))
	for i, part := range parts {
		opts := c.Options
		opts.Worker = fmt.Sprintf("worker-%d", i)
		opts.OnEncode = AbortSegmentOnEncodeError
		opts.Tracker = &claimTracker{c: c, ext: ext, row: -1}
		sp, err := New(opts)
		if err != nil {
			return Report{}, err
		}
		splitters[i] = sp
		reports[i] = WorkerReport{Name: opts.Worker, Assigned: len(part)}
	}

	log.Info().Int("workers", len(parts)).Int("fragments", len(fragments)).Msg("Starting workers")

	var wg sync.WaitGroup
	for i := range parts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := splitters[i].Run(ctx, parts[i])
			reports[i].Stats = st.Stats
			reports[i].Ceded = st.Ceded
			reports[i].Err = err
			log.Info().
				Str("worker", reports[i].Name).
				Int("fragments", st.Stats.Fragments).
				Int("clips", st.Stats.ClipsClosed).
				Bool("ceded", st.Ceded).
				Err(err).
				Msg("Worker finished")
		}(i)
	}
	wg.Wait()

	var errs []error
	for _, r := range reports {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}

	c.mu.Lock()
	claimed := c.claimed
	c.mu.Unlock()
	return Report{Claimed: claimed, Workers: reports}, errors.Join(errs...)
}

// claimTracker is the per-worker Tracker. Claiming appends the manifest row
// so that rows appear exactly once per claimed segment.
type claimTracker struct {
	c   *Coordinator
	ext string
	row int
}

func (t *claimTracker) Claim(ctx context.Context, fragment string, meta marker.Metadata) (bool, error) {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.Registry.Claim(ctx, Key{Fragment: fragment, ItemID: meta.ItemID, Modifiers: meta.Modifiers})
	if err != nil || !ok {
		return false, err
	}
	t.row = c.Manifest.Append(manifest.Row{
		ItemID:    meta.ItemID,
		Modifiers: meta.Modifiers,
		Filename:  clip.FileName(meta, t.ext),
	})
	c.claimed++
	if c.Progress != nil {
		if err := c.Progress.Add(1); err != nil {
			log.Debug().Err(err).Msg("progress update failed")
		}
	}
	return true, nil
}

func (t *claimTracker) Opened(marker.Metadata, string) {}

func (t *claimTracker) Closed(_ marker.Metadata, _ string, err error) {
	t.c.Manifest.Mark(t.row, closedStatus(err))
	t.row = -1
}
