// Package testsupport provides scripted frame sources, a scripted classifier
// and recording encoders for exercising the splitter without ffmpeg.
package testsupport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/fpang/recording-splitter/internal/classify"
	"github.com/fpang/recording-splitter/internal/frame"
	"github.com/fpang/recording-splitter/internal/marker"
)

// ErrUnreadableMarker is the error carried by MalformedFrame results.
var ErrUnreadableMarker = errors.New("unreadable marker")

// Spec describes a run of frames to put into a fragment.
type Spec struct {
	kind   classify.Kind
	status marker.Status
	meta   marker.Metadata
	n      int
}

// MarkerFrame is one separator frame for item with the given modifiers.
func MarkerFrame(item, mods string) Spec {
	return Spec{kind: classify.Marker, status: marker.StatusPresent, meta: marker.Metadata{ItemID: item, Modifiers: mods}, n: 1}
}

// ContentFrames is n recording frames.
func ContentFrames(n int) Spec {
	return Spec{kind: classify.Content, n: n}
}

// BlankFrames is n blank frames.
func BlankFrames(n int) Spec {
	return Spec{kind: classify.Blank, n: n}
}

// MalformedFrame is a frame with an unreadable marker; it classifies as
// content.
func MalformedFrame() Spec {
	return Spec{kind: classify.Content, status: marker.StatusMalformed, n: 1}
}

// Library holds scripted fragments. Every frame gets a unique content id
// stamped into its pixels and a PTS that keeps increasing across fragments
// in the order they were added.
type Library struct {
	Step     int64
	TimeBase frame.Rational

	mu        sync.Mutex
	fragments map[string][]frame.Frame
	results   map[*frame.RGB]classify.Result
	nextPTS   int64
	nextID    uint32
	opened    map[string]int
}

// NewLibrary returns a Library with a 1/1000 time base and 33-tick frames.
func NewLibrary() *Library {
	return &Library{
		Step:      33,
		TimeBase:  frame.Rational{Num: 1, Den: 1000},
		fragments: make(map[string][]frame.Frame),
		results:   make(map[*frame.RGB]classify.Result),
		opened:    make(map[string]int),
	}
}

// Add appends frames to the fragment at path.
func (l *Library) Add(path string, specs ...Spec) {
	l.mu.Lock()
	defer l.mu.Unlock()
	frames := l.fragments[path]
	for _, s := range specs {
		for i := 0; i < s.n; i++ {
			l.nextID++
			img := frame.NewRGB(image.Rect(0, 0, 2, 2))
			binary.BigEndian.PutUint32(img.Pix, l.nextID)
			res := classify.Result{
				Kind:   s.kind,
				Marker: marker.Result{Status: s.status, Metadata: s.meta},
			}
			if s.status == marker.StatusMalformed {
				res.Marker.Err = ErrUnreadableMarker
			}
			l.results[img] = res
			frames = append(frames, frame.Frame{
				Index:    len(frames),
				PTS:      l.nextPTS,
				TimeBase: l.TimeBase,
				Image:    img,
			})
			l.nextPTS += l.Step
		}
	}
	l.fragments[path] = frames
}

// ContentIDs returns the ids of the content frames of path in order.
func (l *Library) ContentIDs(path string) []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []uint32
	for _, f := range l.fragments[path] {
		if l.results[f.Image].Kind == classify.Content {
			ids = append(ids, ContentID(f.Image))
		}
	}
	return ids
}

// Opened returns how many times path was opened.
func (l *Library) Opened(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened[path]
}

// ContentID reads the id stamped into a scripted frame.
func ContentID(img *frame.RGB) uint32 {
	return binary.BigEndian.Uint32(img.Pix)
}

// Classify returns the scripted class of img.
func (l *Library) Classify(img *frame.RGB) classify.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.results[img]
}

// Open implements frame.Opener.
func (l *Library) Open(_ context.Context, path string) (frame.Source, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	frames, ok := l.fragments[path]
	if !ok {
		return nil, fmt.Errorf("no such fragment %q", path)
	}
	l.opened[path]++
	return &source{
		frames: frames,
		geom:   frame.Geometry{Width: 2, Height: 2, TimeBase: l.TimeBase, FrameRate: 30},
	}, nil
}

type source struct {
	frames []frame.Frame
	geom   frame.Geometry
	pos    int
}

func (s *source) Next() (frame.Frame, error) {
	if s.pos >= len(s.frames) {
		return frame.Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *source) Geometry() frame.Geometry { return s.geom }

func (s *source) Close() error { return nil }
