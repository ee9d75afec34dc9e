package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fpang/recording-splitter/internal/store"
)

// Validate checks the settings every tool shares.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("num_workers must be at least 1, got %d", c.NumWorkers)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative, got %d", c.MaxDepth)
	}
	if len(c.Extensions) == 0 {
		return errors.New("extensions must list at least one fragment extension")
	}
	if c.Marker.MaxDecodeDimension < 0 {
		return fmt.Errorf("marker.max_decode_dimension must not be negative, got %d", c.Marker.MaxDecodeDimension)
	}
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1, got %d", c.Fetch.Concurrency)
	}
	if strings.ContainsAny(c.ManifestName, `/\`) || c.ManifestName == "." || c.ManifestName == ".." {
		return fmt.Errorf("manifest_name %q must be a plain file name", c.ManifestName)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel)
	}
	if _, _, err := store.ParseSpec(c.Registry); err != nil {
		return err
	}
	if c.Upload.Prefix != "" && c.Upload.Bucket == "" {
		return errors.New("upload.prefix is set but upload.bucket is empty")
	}
	return nil
}

// ValidateSplit checks the settings the split tools need.
func (c *Config) ValidateSplit() error {
	if c.InputDir == "" {
		return errors.New("input_dir is required")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	if c.InputDir == c.OutputDir {
		return fmt.Errorf("output_dir must differ from input_dir (%s)", c.InputDir)
	}
	return nil
}

// ValidateFetch checks the settings fetch-fragments needs.
func (c *Config) ValidateFetch() error {
	if c.Fetch.CSVFile == "" {
		return errors.New("fetch.csv_file is required")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	return nil
}
