package testsupport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/frame"
)

// ErrInjected is returned by encoders told to fail.
var ErrInjected = errors.New("injected encode failure")

// Clip is what a recording encoder received.
type Clip struct {
	Path    string
	Profile clip.Profile
	PTS     []int64
	IDs     []uint32
	Closed  bool
	Aborted bool
}

// Name is the base name of the clip file.
func (c *Clip) Name() string { return filepath.Base(c.Path) }

// Encoders records every clip it is asked to encode.
type Encoders struct {
	// FailAt maps a clip file name to the 1-based Encode call that fails.
	// Each entry fires once.
	FailAt map[string]int

	mu    sync.Mutex
	clips []*Clip
}

// NewEncoders returns an empty recorder.
func NewEncoders() *Encoders {
	return &Encoders{FailAt: make(map[string]int)}
}

// NewEncoder implements clip.EncoderFactory.
func (e *Encoders) NewEncoder(_ context.Context, path string, p clip.Profile) (clip.Encoder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &Clip{Path: path, Profile: p}
	failAt := e.FailAt[c.Name()]
	delete(e.FailAt, c.Name())
	e.clips = append(e.clips, c)
	return &encoder{owner: e, clip: c, failAt: failAt}, nil
}

// Clips returns every clip started, in start order.
func (e *Encoders) Clips() []*Clip {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Clip, len(e.clips))
	copy(out, e.clips)
	return out
}

// Finished returns the clips that were closed normally, sorted by name.
func (e *Encoders) Finished() []*Clip {
	var out []*Clip
	for _, c := range e.Clips() {
		if c.Closed && !c.Aborted {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Clip returns the most recent clip with the given file name.
func (e *Encoders) Clip(name string) *Clip {
	clips := e.Clips()
	for i := len(clips) - 1; i >= 0; i-- {
		if clips[i].Name() == name {
			return clips[i]
		}
	}
	return nil
}

type encoder struct {
	owner  *Encoders
	clip   *Clip
	failAt int
}

func (enc *encoder) Encode(f frame.Frame) error {
	enc.owner.mu.Lock()
	defer enc.owner.mu.Unlock()
	if enc.failAt > 0 && len(enc.clip.PTS)+1 == enc.failAt {
		return ErrInjected
	}
	enc.clip.PTS = append(enc.clip.PTS, f.PTS)
	enc.clip.IDs = append(enc.clip.IDs, ContentID(f.Image))
	return nil
}

func (enc *encoder) Close() error {
	enc.owner.mu.Lock()
	enc.clip.Closed = true
	enc.owner.mu.Unlock()
	return os.WriteFile(enc.clip.Path, []byte("clip\n"), 0o644)
}

func (enc *encoder) Abort() error {
	enc.owner.mu.Lock()
	defer enc.owner.mu.Unlock()
	enc.clip.Aborted = true
	return nil
}
