// Package config loads, normalizes, and validates recording-splitter settings.
//
// Values are layered: repository defaults, then an optional TOML file, then
// SPLITTER_* environment variables, then command-line flags applied by the
// caller. Finish with Finalize before handing the config to the runner.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ProjectConfigName is the config file picked up from the working directory
// when no explicit path is given.
const ProjectConfigName = "recording-splitter.toml"

// FFmpeg names the external tool binaries.
type FFmpeg struct {
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
}

// Marker tunes separator-frame decoding.
type Marker struct {
	// MaxDecodeDimension caps the longest edge handed to the QR reader.
	MaxDecodeDimension int `toml:"max_decode_dimension"`
}

// Upload publishes finished runs to S3. An empty bucket disables it.
type Upload struct {
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`
}

// Fetch configures fetch-fragments.
type Fetch struct {
	CSVFile     string `toml:"csv_file"`
	Concurrency int    `toml:"concurrency"`
}

// Config holds every setting the split and fetch tools need.
type Config struct {
	InputDir         string   `toml:"input_dir"`
	OutputDir        string   `toml:"output_dir"`
	NumWorkers       int      `toml:"num_workers"`
	Extensions       []string `toml:"extensions"`
	MaxDepth         int      `toml:"max_depth"`
	ClipExtension    string   `toml:"clip_extension"`
	ManifestName     string   `toml:"manifest_name"`
	CompressManifest bool     `toml:"compress_manifest"`
	Registry         string   `toml:"registry"`
	LogLevel         string   `toml:"log_level"`
	EmitMetrics      bool     `toml:"emit_metrics"`

	FFmpeg FFmpeg `toml:"ffmpeg"`
	Marker Marker `toml:"marker"`
	Upload Upload `toml:"upload"`
	Fetch  Fetch  `toml:"fetch"`
}

// Load returns the defaults overlaid with the TOML file at path (or
// ./recording-splitter.toml when path is empty and that file exists) and the
// SPLITTER_* environment. An explicit path that does not exist is an error.
// The returned string is the file actually read, empty if none.
func Load(path string) (*Config, string, error) {
	cfg := Default()

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", err
	}
	if resolved != "" {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, "", err
	}
	return &cfg, resolved, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			return "", fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("config %s is a directory", expanded)
		}
		return expanded, nil
	}

	projectPath, err := filepath.Abs(ProjectConfigName)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(projectPath)
	switch {
	case err == nil && !info.IsDir():
		return projectPath, nil
	case err == nil, errors.Is(err, fs.ErrNotExist):
		return "", nil
	default:
		return "", fmt.Errorf("stat config: %w", err)
	}
}

// Finalize normalizes the config and validates the settings shared by every
// tool.
func (c *Config) Finalize() error {
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
