package config

import (
	"os"

	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/filehandler"
	"github.com/fpang/recording-splitter/internal/manifest"
	"github.com/fpang/recording-splitter/internal/marker"
	"github.com/fpang/recording-splitter/internal/s3util"
	"github.com/fpang/recording-splitter/internal/store"
)

const (
	defaultNumWorkers = 8
	defaultLogLevel   = "info"
	defaultFFmpeg     = "ffmpeg"
	defaultFFprobe    = "ffprobe"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		OutputDir:     os.TempDir(),
		NumWorkers:    defaultNumWorkers,
		Extensions:    append([]string(nil), filehandler.DefaultFragmentExtensions...),
		ClipExtension: clip.DefaultExtension,
		ManifestName:  manifest.FileName,
		Registry:      store.KindMemory,
		LogLevel:      defaultLogLevel,
		FFmpeg: FFmpeg{
			FFmpegPath:  defaultFFmpeg,
			FFprobePath: defaultFFprobe,
		},
		Marker: Marker{
			MaxDecodeDimension: marker.DefaultMaxDimension,
		},
		Fetch: Fetch{
			Concurrency: s3util.DefaultFetchConcurrency,
		},
	}
}
