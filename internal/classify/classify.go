// Package classify sorts decoded frames into blank separators, marker frames
// and recording content.
package classify

import (
	"fmt"
	"image"

	"github.com/fpang/recording-splitter/internal/frame"
	"github.com/fpang/recording-splitter/internal/marker"
)

// Kind is the class of a frame.
type Kind int

const (
	// Content is a frame that belongs to a recording.
	Content Kind = iota
	// Blank is a near-uniform frame; it is never written.
	Blank
	// Marker is a frame carrying a well-formed separator marker.
	Marker
)

func (k Kind) String() string {
	switch k {
	case Content:
		return "content"
	case Blank:
		return "blank"
	case Marker:
		return "marker"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarkerExtractor reads a marker from an image.
type MarkerExtractor interface {
	Extract(img image.Image) marker.Result
}

// Result is the classification of one frame. Marker holds the extractor
// result for every non-blank frame, so malformed markers stay visible to the
// caller even though the frame counts as content.
type Result struct {
	Kind   Kind
	Marker marker.Result
}

// Classifier applies the blank test first and marker extraction second.
type Classifier struct {
	Markers MarkerExtractor
}

// New returns a Classifier using the given marker extractor.
func New(markers MarkerExtractor) *Classifier {
	return &Classifier{Markers: markers}
}

// NewQR returns a Classifier that reads QR markers, scaling frames down to
// maxDimension before decoding.
func NewQR(maxDimension int) *Classifier {
	return New(marker.NewExtractor(&marker.QRDecoder{MaxDimension: maxDimension}))
}

// Classify depends only on the pixels of img.
func (c *Classifier) Classify(img *frame.RGB) Result {
	if IsBlank(img) {
		return Result{Kind: Blank}
	}
	res := c.Markers.Extract(img)
	if res.Present() {
		return Result{Kind: Marker, Marker: res}
	}
	return Result{Kind: Content, Marker: res}
}
