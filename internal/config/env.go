package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SPLITTER_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays SPLITTER_* variables onto c. Unset variables leave the
// current value alone; a set but unparsable value is an error.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("INPUT_DIR", &c.InputDir)
	str("OUTPUT_DIR", &c.OutputDir)
	str("CLIP_EXTENSION", &c.ClipExtension)
	str("MANIFEST_NAME", &c.ManifestName)
	str("REGISTRY", &c.Registry)
	str("LOG_LEVEL", &c.LogLevel)
	str("FFMPEG_PATH", &c.FFmpeg.FFmpegPath)
	str("FFPROBE_PATH", &c.FFmpeg.FFprobePath)
	str("UPLOAD_BUCKET", &c.Upload.Bucket)
	str("UPLOAD_PREFIX", &c.Upload.Prefix)
	str("CSV_FILE", &c.Fetch.CSVFile)
	if v, ok := lookup(EnvPrefix + "EXTENSIONS"); ok {
		c.Extensions = SplitList(v)
	}

	for name, dst := range map[string]*int{
		"NUM_WORKERS":          &c.NumWorkers,
		"MAX_DEPTH":            &c.MaxDepth,
		"MAX_DECODE_DIMENSION": &c.Marker.MaxDecodeDimension,
		"FETCH_CONCURRENCY":    &c.Fetch.Concurrency,
	} {
		if err := integer(name, dst); err != nil {
			return err
		}
	}
	if err := boolean("COMPRESS_MANIFEST", &c.CompressManifest); err != nil {
		return err
	}
	return boolean("EMIT_METRICS", &c.EmitMetrics)
}

// SplitList splits a comma-separated list, dropping empty entries.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
