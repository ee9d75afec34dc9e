// Package clip writes one output clip: a fresh encoder per clip, frames in
// clip-relative time, then either a finalized file or nothing at all.
package clip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fpang/recording-splitter/internal/frame"
	"github.com/fpang/recording-splitter/internal/marker"
)

// DefaultExtension is the container extension of output clips.
const DefaultExtension = ".mp4"

// ErrOutputIO marks failures to create, write or remove an output file.
var ErrOutputIO = errors.New("output i/o error")

// Profile is the fixed encode configuration. Only the geometry varies
// between clips.
type Profile struct {
	Width     int
	Height    int
	TimeBase  frame.Rational
	FrameRate int
	Codec     string
	PixFmt    string
	CRF       int
	Preset    string
	Profile   string
	Refs      int
	BFrames   int
	CABAC     bool
	// Colour signalling for primaries, transfer and matrix.
	Color string
}

// DefaultProfile is lossless-quality H.264 at 30 fps with BT.709 tags,
// keeping the time base of the source stream.
func DefaultProfile(g frame.Geometry) Profile {
	return Profile{
		Width:     g.Width,
		Height:    g.Height,
		TimeBase:  g.TimeBase,
		FrameRate: 30,
		Codec:     "libx264",
		PixFmt:    "yuv420p",
		CRF:       0,
		Preset:    "veryslow",
		Profile:   "high444",
		Refs:      1,
		BFrames:   0,
		CABAC:     true,
		Color:     "bt709",
	}
}

// Encoder consumes frames for one output file.
type Encoder interface {
	// Encode accepts a frame whose PTS is relative to the clip start.
	Encode(f frame.Frame) error
	// Close flushes buffered frames and finalizes the container.
	Close() error
	// Abort stops the encoder without finalizing.
	Abort() error
}

// EncoderFactory starts an encoder writing to path.
type EncoderFactory interface {
	NewEncoder(ctx context.Context, path string, p Profile) (Encoder, error)
}

// Writer is one open output clip.
type Writer struct {
	path   string
	enc    Encoder
	frames int
	lastTS int64
	closed bool
}

// Open creates path and starts an encoder for it. A path that cannot be
// created fails with ErrOutputIO before any encoder is started.
func Open(ctx context.Context, path string, geom frame.Geometry, encoders EncoderFactory) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrOutputIO, path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrOutputIO, path, err)
	}

	enc, err := encoders.NewEncoder(ctx, path, DefaultProfile(geom))
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("start encoder for %s: %w", path, err)
	}
	return &Writer{path: path, enc: enc, lastTS: -1}, nil
}

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int { return w.frames }

// Write encodes one frame. The PTS must be clip-relative and must not go
// backwards.
func (w *Writer) Write(f frame.Frame) error {
	if w.closed {
		return fmt.Errorf("write to closed clip %s", w.path)
	}
	if f.PTS < 0 || f.PTS < w.lastTS {
		return fmt.Errorf("clip %s: timestamp %d out of order after %d", w.path, f.PTS, w.lastTS)
	}
	if err := w.enc.Encode(f); err != nil {
		return err
	}
	w.lastTS = f.PTS
	w.frames++
	return nil
}

// Close finalizes the clip. Only the first call has any effect.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", w.path, err)
	}
	return nil
}

// Discard stops the encoder and removes the partial file.
func (w *Writer) Discard() error {
	var abortErr error
	if !w.closed {
		w.closed = true
		abortErr = w.enc.Abort()
	}
	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(abortErr, fmt.Errorf("%w: remove %s: %w", ErrOutputIO, w.path, err))
	}
	return abortErr
}

var nameReplacer = strings.NewReplacer("/", "_", "\x00", "_")

// FileName is "<item_id>_<modifiers><ext>" with path separators replaced so
// the name stays inside the output directory.
func FileName(meta marker.Metadata, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return nameReplacer.Replace(meta.ItemID+"_"+meta.Modifiers) + ext
}
