package testsupport

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"slices"
	"testing"

	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/frame"
)

func TestEncodersRecordTimestamps(t *testing.T) {
	enc := NewEncoders()
	tb := frame.Rational{Num: 1001, Den: 30000}
	geom := frame.Geometry{Width: 2, Height: 2, TimeBase: tb, FrameRate: 29.97}
	path := filepath.Join(t.TempDir(), "a_None.mp4")

	w, err := clip.Open(context.Background(), path, geom, enc)
	if err != nil {
		t.Fatal(err)
	}
	pts := []int64{0, 1001, 2002, 9009}
	for i, ts := range pts {
		img := frame.NewRGB(image.Rect(0, 0, 2, 2))
		img.Pix[3] = uint8(i + 1)
		if err := w.Write(frame.Frame{PTS: ts, TimeBase: tb, Image: img}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	c := enc.Clip("a_None.mp4")
	if c == nil || !c.Closed {
		t.Fatalf("clip = %+v, want a closed clip", c)
	}
	if !slices.Equal(c.PTS, pts) {
		t.Errorf("PTS = %v, want %v", c.PTS, pts)
	}
	if want := []uint32{1, 2, 3, 4}; !slices.Equal(c.IDs, want) {
		t.Errorf("IDs = %v, want %v", c.IDs, want)
	}
	if c.Profile.TimeBase != tb {
		t.Errorf("profile time base = %v, want %v", c.Profile.TimeBase, tb)
	}
}

func TestEncodersFailAt(t *testing.T) {
	enc := NewEncoders()
	enc.FailAt["b_None.mp4"] = 2
	e, err := enc.NewEncoder(context.Background(), filepath.Join(t.TempDir(), "b_None.mp4"), clip.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	img := frame.NewRGB(image.Rect(0, 0, 2, 2))
	if err := e.Encode(frame.Frame{Image: img}); err != nil {
		t.Fatalf("first Encode() error = %v", err)
	}
	if err := e.Encode(frame.Frame{PTS: 1, Image: img}); !errors.Is(err, ErrInjected) {
		t.Errorf("second Encode() error = %v, want ErrInjected", err)
	}
}
