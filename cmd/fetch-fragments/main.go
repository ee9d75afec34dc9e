package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/recording-splitter/internal/cli"
	"github.com/fpang/recording-splitter/internal/config"
	"github.com/fpang/recording-splitter/internal/logging"
	"github.com/fpang/recording-splitter/internal/runner"
)

// Set via -ldflags at build time.
var commitHash = ""

// CLI flags
var (
	common          cli.CommonFlags
	csvFileFlag     string
	concurrencyFlag int
)

// rootCmd is the main Cobra command for the fetch-fragments CLI.
var rootCmd = &cobra.Command{
	Use:   "fetch-fragments",
	Short: "Download recording fragments listed in a CSV from S3",
	Long: `fetch-fragments reads a CSV with s3_bucket and s3_object_key columns and
downloads every object to <output_dir>/<s3_object_key>. Objects already present
locally are skipped. A failed download is logged and counted; the others carry on.

Examples:
  fetch-fragments --csv_file selected_videos.csv --output_dir /recordings
  fetch-fragments --csv_file list.csv -o ./fragments --concurrency 16`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&csvFileFlag, "csv_file", "", "CSV file with the selected videos")
	rootCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 4, "Parallel downloads")
	common.Bind(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) {
	cfg, cfgPath, err := config.Load(common.ConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	common.Apply(cmd, cfg)
	if cmd.Flags().Changed("csv_file") {
		cfg.Fetch.CSVFile = csvFileFlag
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Fetch.Concurrency = concurrencyFlag
	}

	if err := logging.Init(cfg.LogLevel); err != nil {
		log.Warn().Err(err).Msg("Falling back to info level")
	}
	if err := cfg.Finalize(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := runner.Fetch(ctx, cfg, runner.Deps{
		ShowProgress: common.ShowProgress(),
		CommitHash:   commitHash,
		ConfigFile:   cfgPath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Fetch failed")
	}
	fmt.Fprintln(os.Stderr, cli.RenderTable(
		[]string{"Downloaded", "Skipped", "Failed", "Bytes"},
		[][]string{{
			fmt.Sprint(report.Downloaded),
			fmt.Sprint(report.Skipped),
			fmt.Sprint(report.Failed),
			cli.FormatBytes(report.Bytes),
		}},
		[]cli.ColumnAlignment{cli.AlignRight, cli.AlignRight, cli.AlignRight, cli.AlignRight},
	))
}
