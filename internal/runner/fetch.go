package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/fpang/recording-splitter/internal/cli"
	"github.com/fpang/recording-splitter/internal/config"
	"github.com/fpang/recording-splitter/internal/jobs"
	"github.com/fpang/recording-splitter/internal/logging"
	"github.com/fpang/recording-splitter/internal/metrics"
	"github.com/fpang/recording-splitter/internal/s3util"
)

// FetchTool is the command name of the fragment downloader.
const FetchTool = "fetch-fragments"

// Fetch downloads the fragments listed in cfg.Fetch.CSVFile into
// cfg.OutputDir. Individual download failures are counted in the report,
// not returned.
func Fetch(ctx context.Context, cfg *config.Config, deps Deps) (s3util.FetchReport, error) {
	if err := cfg.ValidateFetch(); err != nil {
		return s3util.FetchReport{}, err
	}
	deps.fill(cfg)
	start := deps.Now()
	runID := jobs.NewRunID(start)

	f, err := os.Open(cfg.Fetch.CSVFile)
	if err != nil {
		return s3util.FetchReport{}, fmt.Errorf("open object list: %w", err)
	}
	refs, err := s3util.ReadObjectList(f)
	f.Close()
	if err != nil {
		return s3util.FetchReport{}, fmt.Errorf("%s: %w", cfg.Fetch.CSVFile, err)
	}

	outputDir, err := cli.EnsureDirectory(cfg.OutputDir)
	if err != nil {
		return s3util.FetchReport{}, err
	}

	logging.NewRunLogger(FetchTool, runID).
		CommitHash(deps.CommitHash).
		ConfigFile(deps.ConfigFile).
		Input("csvFile", cfg.Fetch.CSVFile).
		Input("outputDir", outputDir).
		Config("concurrency", fmt.Sprint(cfg.Fetch.Concurrency)).
		Count("objects", len(refs)).
		Log()

	client, err := deps.S3(ctx)
	if err != nil {
		return s3util.FetchReport{}, err
	}

	bar := cli.NewProgress(deps.Progress, len(refs), "objects", deps.ShowProgress)
	report, err := s3util.Fetch(ctx, client, refs, outputDir, s3util.FetchOptions{
		Concurrency: cfg.Fetch.Concurrency,
		Progress:    bar,
	})
	_ = bar.Finish()
	elapsed := deps.Now().Sub(start)

	if cfg.EmitMetrics {
		rec := metrics.New(deps.Metrics, FetchTool).
			Count("ObjectsDownloaded", report.Downloaded).
			Count("ObjectsSkipped", report.Skipped).
			Count("ObjectsFailed", report.Failed).
			Metric("BytesDownloaded", float64(report.Bytes), metrics.UnitBytes).
			Duration("RunDuration", elapsed).
			Property("runId", runID)
		if ferr := rec.Flush(); ferr != nil {
			log.Warn().Err(ferr).Msg("Failed to emit metrics")
		}
	}

	log.Info().
		Str("run_id", runID).
		Int("objects", len(refs)).
		Str("downloaded", cli.FormatBytes(report.Bytes)).
		Str("elapsed", cli.FormatDurationShort(elapsed)).
		Msg("Fetch finished")
	return report, err
}
