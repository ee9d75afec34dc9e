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
	common       cli.CommonFlags
	inputDirFlag string
	maxDepthFlag int
)

// rootCmd is the main Cobra command for the split-clips CLI.
var rootCmd = &cobra.Command{
	Use:   "split-clips",
	Short: "Split recorded fragments into one clip per item",
	Long: `split-clips reads the recording fragments under an input directory in
lexical order and cuts them into clips at QR separator frames. Each separator
carries an item id and modifiers; the frames that follow are encoded into
<item_id>_<modifiers>.mp4 until the next separator. Blank frames are skipped.
A video_clips.csv manifest listing every finished clip is written at the end.

Any encode failure stops the run.

Examples:
  split-clips --input_dir /recordings/session --output_dir /clips
  split-clips -i ./fragments -o ./clips --compress_manifest
  split-clips -c splitter.toml --upload_bucket my-clips
  split-clips  # Interactive mode - prompts for the input directory`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&inputDirFlag, "input_dir", "i", "", "Directory where to search for fragments")
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
	if cmd.Flags().Changed("max-depth") {
		cfg.MaxDepth = maxDepthFlag
	}
	if cfg.InputDir == "" && cli.Interactive() {
		cwd, _ := os.Getwd()
		cfg.InputDir = cli.PromptForDirectory(os.Stdin, os.Stderr, "Input directory", cwd)
	}

	if err := logging.Init(cfg.LogLevel); err != nil {
		log.Warn().Err(err).Msg("Falling back to info level")
	}
	if err := cfg.Finalize(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runner.Split(ctx, cfg, runner.Sequential, runner.Deps{
		ShowProgress: common.ShowProgress(),
		CommitHash:   commitHash,
		ConfigFile:   cfgPath,
	})
	if res != nil {
		fmt.Fprintln(os.Stderr, cli.StatsTable("split-clips", res.Stats, err))
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Split failed")
	}
	fmt.Printf("%d clips written to %s\n", len(res.Clips), res.OutputDir)
}
