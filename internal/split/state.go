package split

import (
	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/marker"
)

// Stats counts what a splitter saw and did.
type Stats struct {
	Fragments   int
	Frames      int
	Blank       int
	Markers     int
	Malformed   int
	Dropped     int
	Written     int
	ClipsOpened int
	ClipsClosed int
	Discarded   int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Fragments += o.Fragments
	s.Frames += o.Frames
	s.Blank += o.Blank
	s.Markers += o.Markers
	s.Malformed += o.Malformed
	s.Dropped += o.Dropped
	s.Written += o.Written
	s.ClipsOpened += o.ClipsOpened
	s.ClipsClosed += o.ClipsClosed
	s.Discarded += o.Discarded
}

// State is carried from one fragment to the next. A segment that is still
// recording when a fragment ends continues in the next one, so callers must
// pass the returned State into the following ProcessFragment call.
type State struct {
	// Meta is the metadata of the current segment, valid when HasMeta is set.
	Meta    marker.Metadata
	HasMeta bool
	// Recording is set once the first content frame of the segment has been
	// written.
	Recording bool
	// StartPTS is the timestamp of that first frame; later frames are
	// written relative to it.
	StartPTS int64
	// Ceded is set when another worker already owns the next segment.
	Ceded bool
	Stats Stats

	writer   *clip.Writer
	filename string
}

// Filename returns the name of the clip being written, if any.
func (s State) Filename() string {
	if s.writer == nil {
		return ""
	}
	return s.filename
}

// reset forgets the current segment entirely.
func (s *State) reset() {
	s.Meta = marker.Metadata{}
	s.HasMeta = false
	s.Recording = false
	s.StartPTS = 0
	s.writer = nil
	s.filename = ""
}
