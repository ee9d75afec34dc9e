package filehandler

import (
	"fmt"
	"io"

	"github.com/at-wat/ebml-go"

	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/frame"
)

// Frames reach the encoder as an uncompressed Matroska stream so that every
// frame keeps its own timestamp. Timestamps are written in microseconds.
const mkvTimecodeScale = 1000

const (
	mkvTrackNumber = 1
	mkvTrackVideo  = 1
	mkvCodecRaw    = "V_UNCOMPRESSED"
)

// mkvColourSpaceRGB24 is the rawvideo fourcc ffmpeg maps to rgb24.
var mkvColourSpaceRGB24 = []byte{'R', 'G', 'B', 24}

type mkvHeader struct {
	Header mkvEBML `ebml:"EBML"`
}

type mkvEBML struct {
	EBMLVersion            uint64
	EBMLReadVersion        uint64
	EBMLMaxIDLength        uint64
	EBMLMaxSizeLength      uint64
	EBMLDocType            string
	EBMLDocTypeVersion     uint64
	EBMLDocTypeReadVersion uint64
}

type mkvSegmentStart struct {
	Segment mkvSegment `ebml:",size=unknown"`
}

type mkvSegment struct {
	Info   mkvInfo
	Tracks mkvTracks
}

type mkvInfo struct {
	TimecodeScale uint64
	MuxingApp     string
	WritingApp    string
}

type mkvTracks struct {
	TrackEntry []mkvTrackEntry
}

type mkvTrackEntry struct {
	TrackNumber     uint64
	TrackUID        uint64
	TrackType       uint64
	CodecID         string
	DefaultDuration uint64 `ebml:",omitempty"`
	Video           mkvVideo
}

type mkvVideo struct {
	PixelWidth  uint64
	PixelHeight uint64
	ColourSpace []byte
}

type mkvClusterElement struct {
	Cluster mkvCluster
}

type mkvCluster struct {
	Timecode    uint64
	SimpleBlock []ebml.Block
}

// rawMuxer writes rgb24 frames as one-block clusters of an unbounded
// Matroska segment.
type rawMuxer struct {
	w        io.Writer
	timeBase frame.Rational
	size     int
	last     int64
}

func newRawMuxer(w io.Writer, p clip.Profile) (*rawMuxer, error) {
	header := mkvHeader{Header: mkvEBML{
		EBMLVersion:            1,
		EBMLReadVersion:        1,
		EBMLMaxIDLength:        4,
		EBMLMaxSizeLength:      8,
		EBMLDocType:            "matroska",
		EBMLDocTypeVersion:     4,
		EBMLDocTypeReadVersion: 2,
	}}
	if err := ebml.Marshal(&header, w); err != nil {
		return nil, fmt.Errorf("write matroska header: %w", err)
	}

	track := mkvTrackEntry{
		TrackNumber: mkvTrackNumber,
		TrackUID:    1,
		TrackType:   mkvTrackVideo,
		CodecID:     mkvCodecRaw,
		Video: mkvVideo{
			PixelWidth:  uint64(p.Width),
			PixelHeight: uint64(p.Height),
			ColourSpace: mkvColourSpaceRGB24,
		},
	}
	if p.FrameRate > 0 {
		track.DefaultDuration = uint64(1_000_000_000 / p.FrameRate)
	}
	start := mkvSegmentStart{Segment: mkvSegment{
		Info: mkvInfo{
			TimecodeScale: mkvTimecodeScale,
			MuxingApp:     "recording-splitter",
			WritingApp:    "recording-splitter",
		},
		Tracks: mkvTracks{TrackEntry: []mkvTrackEntry{track}},
	}}
	if err := ebml.Marshal(&start, w); err != nil {
		return nil, fmt.Errorf("write matroska tracks: %w", err)
	}
	return &rawMuxer{w: w, timeBase: encodeTimeBase(p), size: p.Width * p.Height * 3, last: -1}, nil
}

// WriteFrame writes f at its own timestamp. Timestamps must not go backwards.
func (m *rawMuxer) WriteFrame(f frame.Frame) error {
	pix := f.Image.Packed()
	if len(pix) != m.size {
		return fmt.Errorf("frame %d is %d bytes, stream expects %d", f.Index, len(pix), m.size)
	}
	ts := mkvTimestamp(f.PTS, m.timeBase)
	if ts < m.last {
		return fmt.Errorf("frame %d: timestamp %d us before %d us", f.Index, ts, m.last)
	}
	m.last = ts

	c := mkvClusterElement{Cluster: mkvCluster{
		Timecode: uint64(ts),
		SimpleBlock: []ebml.Block{{
			TrackNumber: mkvTrackNumber,
			Keyframe:    true,
			Data:        [][]byte{pix},
		}},
	}}
	return ebml.Marshal(&c, m.w)
}

// mkvTimestamp converts PTS ticks to the nearest microsecond.
func mkvTimestamp(pts int64, tb frame.Rational) int64 {
	if pts <= 0 || tb.IsZero() {
		return 0
	}
	const usPerSecond = 1_000_000_000 / mkvTimecodeScale
	return (pts*tb.Num*usPerSecond + tb.Den/2) / tb.Den
}

// encodeTimeBase is the time base clip PTS are counted in. Without a source
// time base the ticks are frames at the profile rate.
func encodeTimeBase(p clip.Profile) frame.Rational {
	if !p.TimeBase.IsZero() {
		return p.TimeBase
	}
	if p.FrameRate > 0 {
		return frame.Rational{Num: 1, Den: int64(p.FrameRate)}
	}
	return frame.Rational{Num: 1, Den: 30}
}
