// Package jobs names runs.
package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns prefix followed by a random UUID, e.g. "split-<uuid>".
func GenerateID(prefix string) string {
	return prefix + uuid.NewString()
}

// NewRunID returns a sortable run id: UTC start time followed by the first
// block of a random UUID.
func NewRunID(now time.Time) string {
	short, _, _ := strings.Cut(uuid.NewString(), "-")
	return now.UTC().Format("20060102T150405Z") + "-" + short
}

// RunPrefix joins an upload prefix, tool name and run id into the key prefix
// a run's artifacts are published under.
func RunPrefix(base, tool, runID string) string {
	parts := make([]string, 0, 3)
	if base = strings.Trim(base, "/"); base != "" {
		parts = append(parts, base)
	}
	return strings.Join(append(parts, tool, runID), "/")
}
