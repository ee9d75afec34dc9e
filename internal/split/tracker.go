package split

import (
	"context"

	"github.com/fpang/recording-splitter/internal/manifest"
	"github.com/fpang/recording-splitter/internal/marker"
)

// ManifestTracker records a manifest row when a clip is opened and marks it
// when the clip is closed. It never refuses a claim, so it suits a single
// splitter that owns every segment it sees.
type ManifestTracker struct {
	Manifest *manifest.Aggregator
	row      int
}

// NewManifestTracker returns a tracker appending to m.
func NewManifestTracker(m *manifest.Aggregator) *ManifestTracker {
	return &ManifestTracker{Manifest: m, row: -1}
}

func (t *ManifestTracker) Claim(context.Context, string, marker.Metadata) (bool, error) {
	return true, nil
}

func (t *ManifestTracker) Opened(meta marker.Metadata, filename string) {
	t.row = t.Manifest.Append(manifest.Row{
		ItemID:    meta.ItemID,
		Modifiers: meta.Modifiers,
		Filename:  filename,
	})
}

func (t *ManifestTracker) Closed(_ marker.Metadata, _ string, err error) {
	t.Manifest.Mark(t.row, closedStatus(err))
	t.row = -1
}

func closedStatus(err error) manifest.Status {
	if err != nil {
		return manifest.Discarded
	}
	return manifest.Complete
}
