package filehandler

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/recording-splitter/internal/frame"
)

// FragmentInfo is what ffprobe reports about the first video stream of a
// fragment, including the timestamp of every frame in decode order.
type FragmentInfo struct {
	Codec     string
	Width     int
	Height    int
	TimeBase  frame.Rational
	FrameRate float64
	PTS       []int64
}

// Geometry returns the stream template used for output clips.
func (i *FragmentInfo) Geometry() frame.Geometry {
	return frame.Geometry{Width: i.Width, Height: i.Height, TimeBase: i.TimeBase, FrameRate: i.FrameRate}
}

// CheckTools checks that the configured ffmpeg and ffprobe binaries resolve.
// Empty names mean the binaries on PATH.
func CheckTools(ffmpegPath, ffprobePath string) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if err := checkTool(ffprobePath); err != nil {
		return err
	}
	return checkTool(ffmpegPath)
}

func checkTool(name string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%s not found in PATH: fragments cannot be processed. Install FFmpeg with: brew install ffmpeg (macOS) or apt install ffmpeg (Linux)", name)
	}
	log.Debug().Str("path", path).Msgf("%s found", name)
	return nil
}

// ffprobeOutput represents the JSON structure from ffprobe.
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Frames  []ffprobeFrame  `json:"frames"`
}

type ffprobeStream struct {
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	TimeBase   string `json:"time_base"`
	RFrameRate string `json:"r_frame_rate"`
}

type ffprobeFrame struct {
	PTS           *int64 `json:"pts"`
	BestEffortPTS *int64 `json:"best_effort_timestamp"`
	PktDTS        *int64 `json:"pkt_dts"`
}

// ProbeFragment runs ffprobe on a fragment.
func ProbeFragment(ctx context.Context, ffprobePath, filePath string) (*FragmentInfo, error) {
	log.Debug().Str("path", filePath).Msg("Probing fragment using ffprobe")

	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	bin, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,time_base,r_frame_rate:frame=pts,best_effort_timestamp,pkt_dts",
		"-print_format", "json",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, err := parseProbeOutput(output)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	log.Debug().
		Str("path", filePath).
		Str("codec", info.Codec).
		Int("width", info.Width).
		Int("height", info.Height).
		Str("time_base", info.TimeBase.String()).
		Float64("frame_rate", info.FrameRate).
		Int("frames", len(info.PTS)).
		Msg("Fragment probed")
	return info, nil
}

func parseProbeOutput(output []byte) (*FragmentInfo, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no video stream")
	}

	s := probe.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}
	tb, err := frame.ParseRational(s.TimeBase)
	if err != nil {
		return nil, err
	}

	info := &FragmentInfo{
		Codec:     s.CodecName,
		Width:     s.Width,
		Height:    s.Height,
		TimeBase:  tb,
		FrameRate: parseFrameRate(s.RFrameRate),
		PTS:       make([]int64, 0, len(probe.Frames)),
	}

	// Frames without a usable timestamp continue from the previous one.
	step := ticksPerFrame(tb, info.FrameRate)
	last := int64(-1)
	for _, f := range probe.Frames {
		var pts int64
		switch {
		case f.PTS != nil:
			pts = *f.PTS
		case f.BestEffortPTS != nil:
			pts = *f.BestEffortPTS
		case f.PktDTS != nil:
			pts = *f.PktDTS
		case last >= 0:
			pts = last + step
		}
		info.PTS = append(info.PTS, pts)
		last = pts
	}
	return info, nil
}

// ticksPerFrame is the nominal frame duration in time base units, at least 1.
func ticksPerFrame(tb frame.Rational, fps float64) int64 {
	if fps <= 0 || tb.IsZero() {
		return 1
	}
	ticks := int64(float64(tb.Den) / (float64(tb.Num) * fps))
	if ticks < 1 {
		return 1
	}
	return ticks
}

// parseFrameRate parses frame rate from ffprobe format (e.g., "60/1" -> 60.0)
func parseFrameRate(value string) float64 {
	parts := strings.Split(value, "/")
	if len(parts) == 2 {
		num, _ := strconv.ParseFloat(parts[0], 64)
		den, _ := strconv.ParseFloat(parts[1], 64)
		if den != 0 {
			return num / den
		}
	}
	rate, _ := strconv.ParseFloat(value, 64)
	return rate
}
