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
	common         cli.CommonFlags
	inputDirFlag   string
	numWorkersFlag int
	maxDepthFlag   int
)

// rootCmd is the main Cobra command for the split-clips-parallel CLI.
var rootCmd = &cobra.Command{
	Use:   "split-clips-parallel",
	Short: "Split recorded fragments into clips with several workers",
	Long: `split-clips-parallel does the same job as split-clips with N workers.
Worker i starts at fragment i*(len/N) and runs to the end of the list, stopping
as soon as it reaches a segment another worker has already claimed. Claims are
kept in a registry; use sqlite:<path> or dynamodb:<table> to share it between
processes. A clip whose encoder fails is deleted and the worker carries on.

Examples:
  split-clips-parallel --input_dir /recordings/session --output_dir /clips --num_workers 8
  split-clips-parallel -i ./fragments -o ./clips -n 4 --registry sqlite:./claims.db
  split-clips-parallel -c splitter.toml --emit_metrics`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&inputDirFlag, "input_dir", "i", "", "Directory where to search for fragments")
	rootCmd.Flags().IntVarP(&numWorkersFlag, "num_workers", "n", 8, "Number of workers")
	rootCmd.Flags().IntVar(&maxDepthFlag, "max-depth", 0, "Maximum recursion depth (0 = unlimited)")
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
	if cmd.Flags().Changed("input_dir") {
		cfg.InputDir = inputDirFlag
	}
	if cmd.Flags().Changed("num_workers") {
		cfg.NumWorkers = numWorkersFlag
	}
	if cmd.Flags().Changed("max-depth") {
		cfg.MaxDepth = maxDepthFlag
	}

	if err := logging.Init(cfg.LogLevel); err != nil {
		log.Warn().Err(err).Msg("Falling back to info level")
	}
	if err := cfg.Finalize(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runner.Split(ctx, cfg, runner.Parallel, runner.Deps{
		ShowProgress: common.ShowProgress(),
		CommitHash:   commitHash,
		ConfigFile:   cfgPath,
	})
	if res != nil {
		fmt.Fprintln(os.Stderr, cli.WorkerTable(res.Workers))
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Split failed")
	}
	fmt.Printf("Length of final set: %d\n", res.Claimed)
	fmt.Printf("%d clips written to %s\n", len(res.Clips), res.OutputDir)
}
