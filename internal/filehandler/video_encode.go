package filehandler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/frame"
)

// X264Encoders starts one ffmpeg libx264 process per clip. Frames are piped
// in as uncompressed Matroska carrying each frame's clip-relative timestamp,
// and ffmpeg passes those timestamps through in the source time base.
type X264Encoders struct {
	FFmpegPath string
}

var _ clip.EncoderFactory = (*X264Encoders)(nil)

// NewEncoder implements clip.EncoderFactory.
func (x *X264Encoders) NewEncoder(ctx context.Context, path string, p clip.Profile) (clip.Encoder, error) {
	ffmpegPath := x.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	bin, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: clip encoding requires ffmpeg: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin, buildEncodeArgs(path, p)...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	e := &x264Encoder{path: path, cmd: cmd, stdin: stdin, stderr: stderr, started: time.Now()}

	mux, err := newRawMuxer(stdin, p)
	if err != nil {
		_ = e.Abort()
		return nil, fmt.Errorf("ffmpeg encode %s: %w: %s", filepath.Base(path), err, e.stderrText())
	}
	e.mux = mux

	log.Debug().
		Str("output", filepath.Base(path)).
		Int("width", p.Width).
		Int("height", p.Height).
		Str("time_base", mux.timeBase.String()).
		Str("preset", p.Preset).
		Msg("Clip encoder started")
	return e, nil
}

// buildEncodeArgs maps a clip profile onto ffmpeg arguments.
func buildEncodeArgs(output string, p clip.Profile) []string {
	tb := encodeTimeBase(p)
	args := []string{
		"-nostdin",
		"-v", "error",
		"-f", "matroska",
		"-i", "pipe:0",
		"-fps_mode", "passthrough",
		"-enc_time_base:v", fmt.Sprintf("%d:%d", tb.Num, tb.Den),
		"-c:v", p.Codec,
		"-pix_fmt", p.PixFmt,
		"-crf", strconv.Itoa(p.CRF),
		"-preset", p.Preset,
		"-profile:v", p.Profile,
		"-refs", strconv.Itoa(p.Refs),
		"-bf", strconv.Itoa(p.BFrames),
	}
	if p.CABAC {
		args = append(args, "-x264-params", "cabac=1")
	} else {
		args = append(args, "-x264-params", "cabac=0")
	}
	if p.Color != "" {
		args = append(args,
			"-color_primaries", p.Color,
			"-color_trc", p.Color,
			"-colorspace", p.Color,
		)
	}
	// Every tick of tb is a whole number of 1/Den units.
	args = append(args, "-video_track_timescale", strconv.FormatInt(tb.Den, 10))
	return append(args, "-y", output)
}

type x264Encoder struct {
	path    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	mux     *rawMuxer
	stderr  *lockedBuffer
	frames  int
	started time.Time
	done    bool
}

func (e *x264Encoder) Encode(f frame.Frame) error {
	if err := e.mux.WriteFrame(f); err != nil {
		// Reap ffmpeg first so its stderr is complete.
		_ = e.Abort()
		return fmt.Errorf("ffmpeg encode %s: %w: %s", filepath.Base(e.path), err, e.stderrText())
	}
	e.frames++
	return nil
}

func (e *x264Encoder) Close() error {
	if e.done {
		return nil
	}
	e.done = true
	if err := e.stdin.Close(); err != nil {
		return err
	}
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg finalize %s: %w: %s", filepath.Base(e.path), err, e.stderrText())
	}
	log.Debug().
		Str("output", filepath.Base(e.path)).
		Int("frames", e.frames).
		Dur("elapsed", time.Since(e.started)).
		Msg("Clip encoder finished")
	return nil
}

func (e *x264Encoder) Abort() error {
	if e.done {
		return nil
	}
	e.done = true
	_ = e.stdin.Close()
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	_ = e.cmd.Wait()
	return nil
}

func (e *x264Encoder) stderrText() string {
	return strings.TrimSpace(e.stderr.String())
}

// lockedBuffer is the ffmpeg stderr sink. exec copies into it from its own
// goroutine while the encoder may read it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
