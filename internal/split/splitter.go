// Package split turns a sorted list of fragments into one clip per recording
// segment. A Splitter is the sequential state machine; a Coordinator runs
// several of them over overlapping fragment ranges and makes sure each
// segment is written once.
package split

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/recording-splitter/internal/classify"
	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/frame"
	"github.com/fpang/recording-splitter/internal/marker"
)

var (
	// ErrEncode wraps an encoder failure that stopped the run.
	ErrEncode = errors.New("encode failed")
	// ErrSegmentCeded is returned by ProcessFragment when the next segment
	// is already claimed by someone else. Run treats it as a normal stop.
	ErrSegmentCeded = errors.New("segment already claimed")
)

// EncodePolicy decides what an encoder failure does to the run.
type EncodePolicy int

const (
	// FailOnEncodeError stops the run with ErrEncode.
	FailOnEncodeError EncodePolicy = iota
	// AbortSegmentOnEncodeError discards the clip, forgets the segment and
	// keeps going.
	AbortSegmentOnEncodeError
)

// Classifier sorts frames into blank, marker and content.
type Classifier interface {
	Classify(img *frame.RGB) classify.Result
}

// Tracker is told about segment ownership and clip lifecycle.
type Tracker interface {
	// Claim is called when a marker starts a new segment. Returning false
	// means another worker owns it.
	Claim(ctx context.Context, fragment string, meta marker.Metadata) (bool, error)
	// Opened is called after the clip file for a segment is created.
	Opened(meta marker.Metadata, filename string)
	// Closed is called once per opened clip; err is non-nil when the clip
	// was discarded.
	Closed(meta marker.Metadata, filename string, err error)
}

// Options configures a Splitter.
type Options struct {
	OutputDir  string
	Extension  string
	Classifier Classifier
	Sources    frame.Opener
	Encoders   clip.EncoderFactory
	Tracker    Tracker
	OnEncode   EncodePolicy
	// Worker names the splitter in logs.
	Worker string
	// OnFragment is called after each fragment is fully processed.
	OnFragment func(path string, st State)
}

// Splitter is the sequential segmentation state machine.
type Splitter struct {
	opts Options
	log  zerolog.Logger
}

// New validates opts and returns a Splitter.
func New(opts Options) (*Splitter, error) {
	switch {
	case opts.OutputDir == "":
		return nil, errors.New("output directory is required")
	case opts.Classifier == nil:
		return nil, errors.New("classifier is required")
	case opts.Sources == nil:
		return nil, errors.New("frame source is required")
	case opts.Encoders == nil:
		return nil, errors.New("encoder factory is required")
	}
	if opts.Extension == "" {
		opts.Extension = clip.DefaultExtension
	}
	if opts.Tracker == nil {
		opts.Tracker = nopTracker{}
	}
	l := log.Logger
	if opts.Worker != "" {
		l = l.With().Str("worker", opts.Worker).Logger()
	}
	return &Splitter{opts: opts, log: l}, nil
}

// Run processes paths in order starting from an empty State and closes the
// last clip at the end. A ceded segment ends the run early without error.
// On any other error the clip in progress is discarded.
func (s *Splitter) Run(ctx context.Context, paths []string) (State, error) {
	var st State
	var err error
	for _, path := range paths {
		st, err = s.ProcessFragment(ctx, st, path)
		if errors.Is(err, ErrSegmentCeded) {
			s.log.Info().
				Str("fragment", path).
				Str("item_id", st.Meta.ItemID).
				Msg("Segment already claimed, stopping")
			return st, nil
		}
		if err != nil {
			return s.Abandon(st, err), err
		}
	}
	return s.Finish(st)
}

// ProcessFragment feeds every frame of one fragment through the state
// machine and returns the updated State.
func (s *Splitter) ProcessFragment(ctx context.Context, st State, path string) (State, error) {
	src, err := s.opts.Sources.Open(ctx, path)
	if err != nil {
		return st, fmt.Errorf("open fragment %s: %w", path, err)
	}
	defer src.Close()

	geom := src.Geometry()
	flog := s.log.With().Str("fragment", path).Logger()
	flog.Debug().Int("width", geom.Width).Int("height", geom.Height).Str("time_base", geom.TimeBase.String()).Msg("Processing fragment")

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, fmt.Errorf("decode %s: %w", path, err)
		}
		st.Stats.Frames++

		res := s.opts.Classifier.Classify(f.Image)
		switch res.Kind {
		case classify.Blank:
			st.Stats.Blank++
		case classify.Marker:
			st.Stats.Markers++
			st, err = s.onMarker(ctx, st, flog, path, f, res.Marker.Metadata)
		default:
			if res.Marker.Status == marker.StatusMalformed {
				st.Stats.Malformed++
				flog.Warn().
					Err(res.Marker.Err).
					Int("frame", f.Index).
					Str("item_id", st.Meta.ItemID).
					Msg("Unreadable marker, frame kept as content")
			}
			st, err = s.onContent(ctx, st, flog, geom, f)
		}
		if err != nil {
			return st, err
		}
	}

	st.Stats.Fragments++
	if s.opts.OnFragment != nil {
		s.opts.OnFragment(path, st)
	}
	return st, nil
}

// Finish closes the clip still open at the end of input.
func (s *Splitter) Finish(st State) (State, error) {
	if st.writer == nil {
		return st, nil
	}
	return s.closeClip(st)
}

// Abandon discards the clip in progress after a fatal error.
func (s *Splitter) Abandon(st State, cause error) State {
	if st.writer == nil {
		return st
	}
	if err := st.writer.Discard(); err != nil {
		s.log.Error().Err(err).Str("file", st.filename).Msg("Failed to remove partial clip")
	}
	s.opts.Tracker.Closed(st.Meta, st.filename, cause)
	st.Stats.Discarded++
	st.reset()
	return st
}

func (s *Splitter) onMarker(ctx context.Context, st State, flog zerolog.Logger, path string, f frame.Frame, meta marker.Metadata) (State, error) {
	if st.HasMeta && st.Meta.Equal(meta) {
		flog.Debug().Int("frame", f.Index).Str("item_id", meta.ItemID).Msg("Repeated marker ignored")
		return st, nil
	}

	if st.writer != nil {
		var err error
		if st, err = s.closeClip(st); err != nil {
			return st, err
		}
	}
	st.reset()

	claimed, err := s.opts.Tracker.Claim(ctx, path, meta)
	if err != nil {
		return st, fmt.Errorf("claim segment %s: %w", meta, err)
	}
	if !claimed {
		st.Ceded = true
		st.Meta = meta
		return st, ErrSegmentCeded
	}

	st.Meta = meta
	st.HasMeta = true
	flog.Info().
		Int("frame", f.Index).
		Str("item_id", meta.ItemID).
		Str("modifiers", meta.Modifiers).
		Msg("Segment marker")
	return st, nil
}

func (s *Splitter) onContent(ctx context.Context, st State, flog zerolog.Logger, geom frame.Geometry, f frame.Frame) (State, error) {
	if !st.HasMeta {
		st.Stats.Dropped++
		flog.Info().Int("frame", f.Index).Msg("No metadata yet, dropping frame")
		return st, nil
	}

	if !st.Recording {
		name := clip.FileName(st.Meta, s.opts.Extension)
		w, err := clip.Open(ctx, filepath.Join(s.opts.OutputDir, name), geom, s.opts.Encoders)
		if err != nil {
			return st, fmt.Errorf("open clip for %s: %w", st.Meta.ItemID, err)
		}
		st.writer = w
		st.filename = name
		st.Recording = true
		st.StartPTS = f.PTS
		st.Stats.ClipsOpened++
		s.opts.Tracker.Opened(st.Meta, name)
		flog.Info().
			Int("frame", f.Index).
			Str("item_id", st.Meta.ItemID).
			Str("file", name).
			Int64("start_pts", f.PTS).
			Msg("Recording started")
	}

	if err := st.writer.Write(f.WithPTS(f.PTS - st.StartPTS)); err != nil {
		flog.Error().Err(err).Int("frame", f.Index).Str("item_id", st.Meta.ItemID).Msg("Encode failed")
		return s.encodeFailed(st, err)
	}
	st.Stats.Written++
	return st, nil
}

func (s *Splitter) closeClip(st State) (State, error) {
	if err := st.writer.Close(); err != nil {
		s.log.Error().Err(err).Str("file", st.filename).Msg("Finalize failed")
		return s.encodeFailed(st, err)
	}
	s.opts.Tracker.Closed(st.Meta, st.filename, nil)
	st.Stats.ClipsClosed++
	s.log.Info().
		Str("item_id", st.Meta.ItemID).
		Str("file", st.filename).
		Int("frames", st.writer.Frames()).
		Msg("Clip written")
	st.writer = nil
	st.filename = ""
	st.Recording = false
	return st, nil
}

// encodeFailed rolls back the current clip. Under the abort policy the
// segment is forgotten, so its remaining frames are dropped until the next
// marker.
func (s *Splitter) encodeFailed(st State, cause error) (State, error) {
	name := st.filename
	if err := st.writer.Discard(); err != nil {
		s.log.Error().Err(err).Str("file", name).Msg("Failed to remove partial clip")
	}
	s.opts.Tracker.Closed(st.Meta, name, cause)
	st.Stats.Discarded++
	st.reset()

	if s.opts.OnEncode == FailOnEncodeError {
		return st, fmt.Errorf("%w: %s: %w", ErrEncode, name, cause)
	}
	s.log.Warn().Str("file", name).Msg("Clip discarded, waiting for next marker")
	return st, nil
}

type nopTracker struct{}

func (nopTracker) Claim(context.Context, string, marker.Metadata) (bool, error) { return true, nil }
func (nopTracker) Opened(marker.Metadata, string)                               {}
func (nopTracker) Closed(marker.Metadata, string, error)                        {}
