package filehandler

// video_frames.go decodes fragments into raw RGB frames by piping ffmpeg's
// rawvideo output. Timestamps come from a separate ffprobe pass because the
// rawvideo muxer does not carry them.

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/recording-splitter/internal/frame"
)

// Decoder opens fragments with ffprobe + ffmpeg.
type Decoder struct {
	FFmpegPath  string
	FFprobePath string
}

var _ frame.Opener = (*Decoder)(nil)

// Open probes the fragment and starts an ffmpeg process streaming its first
// video stream as packed rgb24.
func (d *Decoder) Open(ctx context.Context, path string) (frame.Source, error) {
	info, err := ProbeFragment(ctx, d.FFprobePath, path)
	if err != nil {
		return nil, err
	}

	ffmpegPath := d.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	bin, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: frame decoding requires ffmpeg: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin, decodeArgs(path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	log.Debug().
		Str("fragment", filepath.Base(path)).
		Int("frames", len(info.PTS)).
		Msg("Frame decoder started")

	return &rawSource{
		path:   path,
		info:   info,
		cmd:    cmd,
		out:    bufio.NewReaderSize(stdout, 3*info.Width*info.Height),
		stderr: &stderr,
		step:   ticksPerFrame(info.TimeBase, info.FrameRate),
	}, nil
}

func decodeArgs(path string) []string {
	return []string{
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-map", "0:v:0",
		"-vsync", "0", // one output frame per decoded frame
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
}

type rawSource struct {
	path   string
	info   *FragmentInfo
	cmd    *exec.Cmd
	out    *bufio.Reader
	stderr *bytes.Buffer
	step   int64
	index  int
	done   bool
}

func (s *rawSource) Geometry() frame.Geometry { return s.info.Geometry() }

func (s *rawSource) Next() (frame.Frame, error) {
	if s.done {
		return frame.Frame{}, io.EOF
	}
	buf := make([]byte, 3*s.info.Width*s.info.Height)
	if _, err := io.ReadFull(s.out, buf); err != nil {
		s.done = true
		waitErr := s.cmd.Wait()
		if errors.Is(err, io.EOF) && waitErr == nil {
			return frame.Frame{}, io.EOF
		}
		if waitErr != nil {
			return frame.Frame{}, fmt.Errorf("ffmpeg decode %s: %w: %s", filepath.Base(s.path), waitErr, strings.TrimSpace(s.stderr.String()))
		}
		return frame.Frame{}, fmt.Errorf("ffmpeg decode %s: truncated frame: %w", filepath.Base(s.path), err)
	}

	img, err := frame.FromPacked(buf, s.info.Width, s.info.Height)
	if err != nil {
		return frame.Frame{}, err
	}
	f := frame.Frame{
		Index:    s.index,
		PTS:      s.ptsAt(s.index),
		TimeBase: s.info.TimeBase,
		Image:    img,
	}
	s.index++
	return f, nil
}

// ptsAt returns the probed timestamp of frame i, extrapolating when ffmpeg
// emits more frames than ffprobe listed.
func (s *rawSource) ptsAt(i int) int64 {
	n := len(s.info.PTS)
	if i < n {
		return s.info.PTS[i]
	}
	if n == 0 {
		return int64(i) * s.step
	}
	return s.info.PTS[n-1] + int64(i-n+1)*s.step
}

func (s *rawSource) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return nil
}
