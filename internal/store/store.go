// Package store provides the claimed-segment registry backends used by the
// parallel splitter. Claims are scoped to a run: every key is stored together
// with the run id, so a shared database or table can serve many runs.
//
// Backends are selected by a spec string:
//
//	memory               in-process map (default)
//	sqlite:<path>        local SQLite database file
//	dynamodb:<table>     DynamoDB table with PK/SK string keys
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"

	"github.com/fpang/recording-splitter/internal/split"
)

// ClaimTTL is how long DynamoDB claim records are kept before TTL expiry.
const ClaimTTL = 7 * 24 * time.Hour

// Registry is a split.Registry that can report its size and be closed.
type Registry interface {
	split.Registry
	// Count returns the number of keys claimed in this run.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Backend kinds accepted in a registry spec.
const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindDynamoDB = "dynamodb"
)

// ParseSpec splits a registry spec into its kind and argument.
func ParseSpec(spec string) (kind, arg string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == KindMemory {
		return KindMemory, "", nil
	}
	kind, arg, _ = strings.Cut(spec, ":")
	switch kind {
	case KindSQLite, KindDynamoDB:
		if arg == "" {
			return "", "", fmt.Errorf("registry %q: missing %s argument", spec, kind)
		}
		return kind, arg, nil
	}
	return "", "", fmt.Errorf("unknown registry backend %q (want memory, sqlite:<path> or dynamodb:<table>)", spec)
}

// Open creates the registry described by spec for the given run.
func Open(ctx context.Context, spec, runID string) (Registry, error) {
	kind, arg, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("backend", kind).Str("target", arg).Str("run_id", runID).Msg("Opening segment registry")

	switch kind {
	case KindSQLite:
		reg, err := OpenSQLite(ctx, arg, runID)
		if err != nil {
			return nil, err
		}
		return reg, nil
	case KindDynamoDB:
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return NewDynamoRegistry(dynamodb.NewFromConfig(cfg), arg, runID), nil
	default:
		return NewMemory(), nil
	}
}

// Memory adapts split.MemoryRegistry to Registry.
type Memory struct {
	*split.MemoryRegistry
}

// NewMemory returns an empty in-process registry.
func NewMemory() *Memory {
	return &Memory{MemoryRegistry: split.NewMemoryRegistry()}
}

// Count implements Registry.
func (m *Memory) Count(context.Context) (int, error) { return m.Len(), nil }

// Close implements Registry.
func (m *Memory) Close() error { return nil }
