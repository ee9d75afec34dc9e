package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/filehandler"
	"github.com/fpang/recording-splitter/internal/manifest"
	"github.com/fpang/recording-splitter/internal/marker"
	"github.com/fpang/recording-splitter/internal/s3util"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeExtensions()
	c.normalizeTools()
	c.normalizeLogging()

	if c.Marker.MaxDecodeDimension == 0 {
		c.Marker.MaxDecodeDimension = marker.DefaultMaxDimension
	}
	if c.Fetch.Concurrency == 0 {
		c.Fetch.Concurrency = s3util.DefaultFetchConcurrency
	}
	c.Registry = strings.TrimSpace(c.Registry)
	c.Upload.Bucket = strings.TrimSpace(c.Upload.Bucket)
	c.Upload.Prefix = strings.Trim(strings.TrimSpace(c.Upload.Prefix), "/")
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.InputDir, err = expandPath(strings.TrimSpace(c.InputDir)); err != nil {
		return fmt.Errorf("input_dir: %w", err)
	}
	if c.OutputDir, err = expandPath(strings.TrimSpace(c.OutputDir)); err != nil {
		return fmt.Errorf("output_dir: %w", err)
	}
	if c.Fetch.CSVFile, err = expandPath(strings.TrimSpace(c.Fetch.CSVFile)); err != nil {
		return fmt.Errorf("fetch.csv_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeExtensions() {
	if len(c.Extensions) == 0 {
		c.Extensions = append([]string(nil), filehandler.DefaultFragmentExtensions...)
	}
	exts := make([]string, 0, len(c.Extensions))
	for _, ext := range c.Extensions {
		if ext = dotted(ext); ext != "" && !slices.Contains(exts, ext) {
			exts = append(exts, ext)
		}
	}
	c.Extensions = exts

	c.ClipExtension = dotted(c.ClipExtension)
	if c.ClipExtension == "" {
		c.ClipExtension = clip.DefaultExtension
	}
	c.ManifestName = strings.TrimSpace(c.ManifestName)
	if c.ManifestName == "" {
		c.ManifestName = manifest.FileName
	}
}

func (c *Config) normalizeTools() {
	if strings.TrimSpace(c.FFmpeg.FFmpegPath) == "" {
		c.FFmpeg.FFmpegPath = defaultFFmpeg
	}
	if strings.TrimSpace(c.FFmpeg.FFprobePath) == "" {
		c.FFmpeg.FFprobePath = defaultFFprobe
	}
}

func (c *Config) normalizeLogging() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "":
		c.LogLevel = defaultLogLevel
	case "warning":
		c.LogLevel = "warn"
	}
}

func dotted(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}
