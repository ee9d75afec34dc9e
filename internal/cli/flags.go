package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/recording-splitter/internal/config"
)

// CommonFlags are the flags every tool accepts. Only flags the user set
// override the loaded config.
type CommonFlags struct {
	ConfigPath       string
	LogLevel         string
	OutputDir        string
	Extensions       []string
	Registry         string
	UploadBucket     string
	UploadPrefix     string
	CompressManifest bool
	EmitMetrics      bool
	NoProgress       bool
}

// Bind registers the common flags on cmd.
func (f *CommonFlags) Bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "Path to a TOML config file (default ./recording-splitter.toml if present)")
	fs.StringVar(&f.LogLevel, "log_level", "", "Log level: debug, info, warn, error")
	fs.StringVarP(&f.OutputDir, "output_dir", "o", "", "Directory where output files are written")
	fs.StringSliceVar(&f.Extensions, "extensions", nil, "Fragment file extensions to scan for (default .mkv)")
	fs.StringVar(&f.Registry, "registry", "", "Claimed-segment registry: memory, sqlite:<path> or dynamodb:<table>")
	fs.StringVar(&f.UploadBucket, "upload_bucket", "", "S3 bucket to upload clips and manifest to after a successful run")
	fs.StringVar(&f.UploadPrefix, "upload_prefix", "", "Key prefix for uploads")
	fs.BoolVar(&f.CompressManifest, "compress_manifest", false, "Also write a zstd-compressed copy of the manifest")
	fs.BoolVar(&f.EmitMetrics, "emit_metrics", false, "Print CloudWatch EMF run metrics to stdout")
	fs.BoolVar(&f.NoProgress, "no_progress", false, "Disable the progress bar")
}

// Apply copies the flags the user set onto cfg.
func (f *CommonFlags) Apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("log_level") {
		cfg.LogLevel = f.LogLevel
	}
	if changed("output_dir") {
		cfg.OutputDir = f.OutputDir
	}
	if changed("extensions") {
		cfg.Extensions = f.Extensions
	}
	if changed("registry") {
		cfg.Registry = f.Registry
	}
	if changed("upload_bucket") {
		cfg.Upload.Bucket = f.UploadBucket
	}
	if changed("upload_prefix") {
		cfg.Upload.Prefix = f.UploadPrefix
	}
	if changed("compress_manifest") {
		cfg.CompressManifest = f.CompressManifest
	}
	if changed("emit_metrics") {
		cfg.EmitMetrics = f.EmitMetrics
	}
}

// ShowProgress reports whether a progress bar should be drawn.
func (f *CommonFlags) ShowProgress() bool {
	return !f.NoProgress && isTerminal(os.Stderr)
}
