// Package runner ties configuration, fragment discovery, the splitter and the
// run artifacts together for the command-line tools.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/fpang/recording-splitter/internal/classify"
	"github.com/fpang/recording-splitter/internal/cli"
	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/config"
	"github.com/fpang/recording-splitter/internal/filehandler"
	"github.com/fpang/recording-splitter/internal/frame"
	"github.com/fpang/recording-splitter/internal/jobs"
	"github.com/fpang/recording-splitter/internal/logging"
	"github.com/fpang/recording-splitter/internal/manifest"
	"github.com/fpang/recording-splitter/internal/metrics"
	"github.com/fpang/recording-splitter/internal/s3util"
	"github.com/fpang/recording-splitter/internal/split"
	"github.com/fpang/recording-splitter/internal/store"
)

// LockName is the lock file created in the output directory for the
// duration of a split run.
const LockName = ".recording-splitter.lock"

// ErrOutputLocked is returned when another run holds the output directory.
var ErrOutputLocked = errors.New("output directory is locked by another run")

// Mode selects the sequential or the concurrent splitter.
type Mode int

const (
	Sequential Mode = iota
	Parallel
)

// Tool is the command name the mode belongs to.
func (m Mode) Tool() string {
	if m == Parallel {
		return "split-clips-parallel"
	}
	return "split-clips"
}

// S3Client is what the runner needs from S3.
type S3Client interface {
	s3util.ObjectGetter
	s3util.ObjectPutter
}

// Deps are the collaborators a run uses. Zero fields get production
// defaults built from the config.
type Deps struct {
	Sources      frame.Opener
	Encoders     clip.EncoderFactory
	Classifier   split.Classifier
	OpenRegistry func(ctx context.Context, spec, runID string) (store.Registry, error)
	S3           func(ctx context.Context) (S3Client, error)

	// Progress receives progress bars; ShowProgress turns rendering on.
	Progress     io.Writer
	ShowProgress bool
	// Metrics receives the EMF document when metrics are enabled.
	Metrics io.Writer

	Now        func() time.Time
	CommitHash string
	ConfigFile string
}

func (d *Deps) fill(cfg *config.Config) {
	if d.Sources == nil {
		d.Sources = &filehandler.Decoder{FFmpegPath: cfg.FFmpeg.FFmpegPath, FFprobePath: cfg.FFmpeg.FFprobePath}
	}
	if d.Encoders == nil {
		d.Encoders = &filehandler.X264Encoders{FFmpegPath: cfg.FFmpeg.FFmpegPath}
	}
	if d.Classifier == nil {
		d.Classifier = classify.NewQR(cfg.Marker.MaxDecodeDimension)
	}
	if d.OpenRegistry == nil {
		d.OpenRegistry = store.Open
	}
	if d.S3 == nil {
		d.S3 = defaultS3
	}
	if d.Progress == nil {
		d.Progress = os.Stderr
	}
	if d.Metrics == nil {
		d.Metrics = os.Stdout
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

func defaultS3(ctx context.Context) (S3Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Result describes a finished split run.
type Result struct {
	RunID     string
	Fragments []string
	OutputDir string
	Stats     split.Stats
	// Workers holds one entry per worker; a sequential run has one.
	Workers []split.WorkerReport
	// Claimed is the size of the claimed-segment registry at the end of a
	// parallel run.
	Claimed int
	// ClaimedKeys lists the claimed segments when the registry is in-process.
	ClaimedKeys []string
	// Clips are the completed clip file names in manifest order.
	Clips         []string
	ManifestPaths []string
	Uploaded      []string
	Elapsed       time.Duration
}

// Split runs a whole split: scan, lock the output directory, segment, write
// the manifest, then optionally upload and emit metrics. The manifest is
// written only when segmentation succeeded. The returned Result is non-nil
// whenever segmentation started, even on error.
func Split(ctx context.Context, cfg *config.Config, mode Mode, deps Deps) (*Result, error) {
	if err := cfg.ValidateSplit(); err != nil {
		return nil, err
	}
	usingFFmpeg := deps.Sources == nil || deps.Encoders == nil
	deps.fill(cfg)
	start := deps.Now()
	runID := jobs.NewRunID(start)
	tool := mode.Tool()

	inputDir, err := cli.ValidateAndResolveDirectory(cfg.InputDir)
	if err != nil {
		return nil, err
	}
	fragments, err := filehandler.ScanFragments(inputDir, filehandler.ScanOptions{
		Extensions: cfg.Extensions,
		MaxDepth:   cfg.MaxDepth,
	})
	if err != nil {
		return nil, err
	}
	outputDir, err := cli.EnsureDirectory(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	if usingFFmpeg {
		if err := filehandler.CheckTools(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath); err != nil {
			return nil, err
		}
	}

	lock := flock.New(filepath.Join(outputDir, LockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock output directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", outputDir, ErrOutputLocked)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn().Err(err).Str("path", lock.Path()).Msg("Failed to release output lock")
		}
	}()

	rl := logging.NewRunLogger(tool, runID).
		CommitHash(deps.CommitHash).
		ConfigFile(deps.ConfigFile).
		Input("inputDir", inputDir).
		Input("outputDir", outputDir).
		Input("uploadBucket", cfg.Upload.Bucket).
		Config("extensions", fmt.Sprint(cfg.Extensions)).
		Config("clipExtension", cfg.ClipExtension).
		Config("manifest", cfg.ManifestName).
		Feature("upload", cfg.Upload.Bucket != "").
		Feature("compressManifest", cfg.CompressManifest).
		Feature("metrics", cfg.EmitMetrics).
		Count("fragments", len(fragments))
	if mode == Parallel {
		rl.Config("registry", cfg.Registry).Count("workers", cfg.NumWorkers)
	}
	rl.Log()

	res := &Result{RunID: runID, Fragments: fragments, OutputDir: outputDir}
	agg := manifest.NewAggregator()
	opts := split.Options{
		OutputDir:  outputDir,
		Extension:  cfg.ClipExtension,
		Classifier: deps.Classifier,
		Sources:    deps.Sources,
		Encoders:   deps.Encoders,
	}

	var runErr error
	switch mode {
	case Parallel:
		runErr = runParallel(ctx, cfg, deps, runID, fragments, opts, agg, res)
	default:
		runErr = runSequential(ctx, deps, fragments, opts, agg, res)
	}

	for _, row := range agg.Completed() {
		if !slices.Contains(res.Clips, row.Filename) {
			res.Clips = append(res.Clips, row.Filename)
		}
	}

	if runErr == nil {
		res.ManifestPaths, runErr = agg.WriteFile(outputDir, manifest.WriteOptions{
			Name:     cfg.ManifestName,
			Compress: cfg.CompressManifest,
		})
		if runErr == nil {
			log.Info().Strs("paths", res.ManifestPaths).Int("rows", len(agg.Completed())).Msg("Manifest written")
		}
	}
	if runErr == nil && cfg.Upload.Bucket != "" {
		res.Uploaded, runErr = upload(ctx, cfg, deps, tool, res)
	}
	res.Elapsed = deps.Now().Sub(start)

	if cfg.EmitMetrics {
		emitSplitMetrics(deps.Metrics, tool, cfg, res, runErr)
	}

	evt := log.Info()
	if runErr != nil {
		evt = log.Error().Err(runErr)
	}
	evt.Str("run_id", runID).
		Int("fragments", res.Stats.Fragments).
		Int("clips", res.Stats.ClipsClosed).
		Int("discarded", res.Stats.Discarded).
		Str("elapsed", cli.FormatDurationShort(res.Elapsed)).
		Msg("Run finished")
	return res, runErr
}

func runSequential(ctx context.Context, deps Deps, fragments []string, opts split.Options, agg *manifest.Aggregator, res *Result) error {
	bar := cli.NewProgress(deps.Progress, len(fragments), "fragments", deps.ShowProgress)
	defer bar.Finish()

	opts.Tracker = split.NewManifestTracker(agg)
	opts.OnEncode = split.FailOnEncodeError
	opts.OnFragment = func(string, split.State) { _ = bar.Add(1) }

	sp, err := split.New(opts)
	if err != nil {
		return err
	}
	st, err := sp.Run(ctx, fragments)
	res.Stats = st.Stats
	res.Workers = []split.WorkerReport{{Name: "main", Assigned: len(fragments), Stats: st.Stats, Err: err}}
	return err
}

func runParallel(ctx context.Context, cfg *config.Config, deps Deps, runID string, fragments []string, opts split.Options, agg *manifest.Aggregator, res *Result) error {
	reg, err := deps.OpenRegistry(ctx, cfg.Registry, runID)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close registry")
		}
	}()

	bar := cli.NewProgress(deps.Progress, -1, "segments", deps.ShowProgress)
	defer bar.Finish()

	coord := &split.Coordinator{
		Workers:  cfg.NumWorkers,
		Options:  opts,
		Registry: reg,
		Manifest: agg,
		Progress: bar,
	}
	report, runErr := coord.Run(ctx, fragments)
	res.Stats = report.Totals()
	res.Workers = report.Workers

	n, err := reg.Count(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count claimed segments")
		n = report.Claimed
	}
	res.Claimed = n
	if lister, ok := reg.(interface{ Keys() []split.Key }); ok {
		for _, k := range lister.Keys() {
			res.ClaimedKeys = append(res.ClaimedKeys, k.String())
			log.Debug().Str("segment", k.String()).Msg("Claimed segment")
		}
	}
	log.Info().Int("claimed", n).Msg("Length of final set")
	return runErr
}

func upload(ctx context.Context, cfg *config.Config, deps Deps, tool string, res *Result) ([]string, error) {
	client, err := deps.S3(ctx)
	if err != nil {
		return nil, err
	}
	names := append([]string(nil), res.Clips...)
	for _, p := range res.ManifestPaths {
		names = append(names, filepath.Base(p))
	}
	prefix := jobs.RunPrefix(cfg.Upload.Prefix, tool, res.RunID)
	keys, err := s3util.UploadRun(ctx, client, cfg.Upload.Bucket, prefix, res.OutputDir, names)
	if err != nil {
		return keys, fmt.Errorf("upload run: %w", err)
	}
	return keys, nil
}

func emitSplitMetrics(w io.Writer, tool string, cfg *config.Config, res *Result, runErr error) {
	rec := metrics.New(w, tool).
		Count("Fragments", res.Stats.Fragments).
		Count("FramesDecoded", res.Stats.Frames).
		Count("FramesWritten", res.Stats.Written).
		Count("FramesDropped", res.Stats.Dropped).
		Count("MarkersMalformed", res.Stats.Malformed).
		Count("ClipsWritten", res.Stats.ClipsClosed).
		Count("ClipsDiscarded", res.Stats.Discarded).
		Count("Failed", boolCount(runErr != nil)).
		Duration("RunDuration", res.Elapsed).
		Property("runId", res.RunID)
	if tool == Parallel.Tool() {
		kind, _, _ := store.ParseSpec(cfg.Registry)
		rec.Dimension("Registry", kind).
			Count("SegmentsClaimed", res.Claimed).
			Count("Workers", len(res.Workers))
	}
	if err := rec.Flush(); err != nil {
		log.Warn().Err(err).Msg("Failed to emit metrics")
	}
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
