// Package marker reads the separator markers that precede each recording
// segment. A marker is a QR code whose payload is a literal mapping with an
// item_id and optional modifiers.
package marker

import (
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog/log"
)

// Status is the outcome of looking for a marker on one frame.
type Status int

const (
	// StatusAbsent means no marker was found.
	StatusAbsent Status = iota
	// StatusPresent means a well-formed marker was found.
	StatusPresent
	// StatusMalformed means a code was found but its payload is unusable.
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusPresent:
		return "present"
	case StatusMalformed:
		return "malformed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Metadata identifies one recording segment. Both fields hold the str() form
// of the payload values, which is also how they appear in file names and in
// the manifest.
type Metadata struct {
	ItemID    string
	Modifiers string
}

// Equal compares two markers by their rendered fields.
func (m Metadata) Equal(o Metadata) bool {
	return m.ItemID == o.ItemID && m.Modifiers == o.Modifiers
}

func (m Metadata) String() string {
	return m.ItemID + "_" + m.Modifiers
}

// Result is what the extractor found on a frame. Err is set for malformed
// markers. Count is the number of codes detected.
type Result struct {
	Status   Status
	Metadata Metadata
	Err      error
	Count    int
}

// Present reports whether the result carries usable metadata.
func (r Result) Present() bool {
	return r.Status == StatusPresent
}

var (
	// ErrNotMapping is reported when the payload is a literal but not a dict.
	ErrNotMapping = errors.New("marker payload is not a mapping")
	// ErrMissingItemID is reported when the payload has no item_id key.
	ErrMissingItemID = errors.New("marker payload has no item_id")
)

// Decoder finds machine-readable codes in an image and returns their raw
// text payloads in detection order.
type Decoder interface {
	Decode(img image.Image) ([]string, error)
}

// Extractor turns decoded payloads into Metadata.
type Extractor struct {
	Decoder Decoder
}

// NewExtractor returns an Extractor backed by the given decoder.
func NewExtractor(d Decoder) *Extractor {
	return &Extractor{Decoder: d}
}

// Extract never fails: decoder and parse errors come back as a malformed
// result so the caller can treat the frame as content.
func (e *Extractor) Extract(img image.Image) Result {
	payloads, err := e.Decoder.Decode(img)
	if err != nil {
		log.Warn().Err(err).Msg("Marker found but could not be decoded")
		return Result{Status: StatusMalformed, Err: err}
	}
	if len(payloads) == 0 {
		return Result{Status: StatusAbsent}
	}
	if len(payloads) > 1 {
		log.Warn().
			Int("count", len(payloads)).
			Msg("Multiple markers found in frame, using the first")
	}

	meta, err := ParsePayload(payloads[0])
	if err != nil {
		log.Error().Err(err).Str("payload", payloads[0]).Msg("Malformed marker payload")
		return Result{Status: StatusMalformed, Err: err, Count: len(payloads)}
	}
	return Result{Status: StatusPresent, Metadata: meta, Count: len(payloads)}
}

// ParsePayload parses a marker payload such as
// "{'item_id': 'A-1', 'modifiers': {'speed': 2}}".
// A missing modifiers key renders as "None".
func ParsePayload(payload string) (Metadata, error) {
	v, err := ParseLiteral(payload)
	if err != nil {
		return Metadata{}, fmt.Errorf("parse marker payload: %w", err)
	}
	dict, ok := v.(Dict)
	if !ok {
		return Metadata{}, ErrNotMapping
	}
	item, ok := dict.Get("item_id")
	if !ok {
		return Metadata{}, ErrMissingItemID
	}
	mods, _ := dict.Get("modifiers")
	return Metadata{ItemID: Str(item), Modifiers: Str(mods)}, nil
}
