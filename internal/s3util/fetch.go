package s3util

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Column names expected in an object list CSV.
const (
	ColumnBucket = "s3_bucket"
	ColumnKey    = "s3_object_key"
)

// DefaultFetchConcurrency bounds parallel downloads when none is configured.
const DefaultFetchConcurrency = 4

// ObjectRef names one S3 object.
type ObjectRef struct {
	Bucket string
	Key    string
}

// ReadObjectList reads a CSV with s3_bucket and s3_object_key columns. Other
// columns are ignored; rows with an empty bucket or key are skipped.
func ReadObjectList(r io.Reader) ([]ObjectRef, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	bucketCol, keyCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case ColumnBucket:
			bucketCol = i
		case ColumnKey:
			keyCol = i
		}
	}
	if bucketCol < 0 || keyCol < 0 {
		return nil, fmt.Errorf("object list needs %s and %s columns, got %v", ColumnBucket, ColumnKey, header)
	}

	var refs []ObjectRef
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read object list: %w", err)
		}
		if bucketCol >= len(rec) || keyCol >= len(rec) {
			continue
		}
		ref := ObjectRef{Bucket: strings.TrimSpace(rec[bucketCol]), Key: strings.TrimSpace(rec[keyCol])}
		if ref.Bucket == "" || ref.Key == "" {
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// LocalPath maps an object key to a path under dir, refusing keys that
// would escape it.
func LocalPath(dir, key string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(key, "/")))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes the output directory", key)
	}
	return filepath.Join(dir, rel), nil
}

// Progress receives one increment per finished object.
type Progress interface {
	Add(n int) error
}

// FetchOptions controls Fetch.
type FetchOptions struct {
	Concurrency int
	Progress    Progress
}

// FetchReport summarises a Fetch call.
type FetchReport struct {
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
}

// Fetch downloads every object into dir/<key>. Files that already exist are
// skipped. A failed object is logged and counted but does not stop the
// others; only context cancellation aborts the whole fetch.
func Fetch(ctx context.Context, client ObjectGetter, refs []ObjectRef, dir string, opts FetchOptions) (FetchReport, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultFetchConcurrency
	}

	var (
		mu     sync.Mutex
		report FetchReport
	)
	record := func(update func(*FetchReport)) {
		mu.Lock()
		update(&report)
		mu.Unlock()
		if opts.Progress != nil {
			_ = opts.Progress.Add(1)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, ref := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			local, err := LocalPath(dir, ref.Key)
			if err != nil {
				log.Error().Err(err).Str("bucket", ref.Bucket).Msg("Skipping object")
				record(func(r *FetchReport) { r.Failed++ })
				return nil
			}
			if _, err := os.Stat(local); err == nil {
				log.Debug().Str("path", local).Msg("Already downloaded, skipping")
				record(func(r *FetchReport) { r.Skipped++ })
				return nil
			}

			n, err := DownloadToFile(gctx, client, ref.Bucket, ref.Key, local)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Error().Err(err).Str("bucket", ref.Bucket).Str("key", ref.Key).Msg("Download failed")
				record(func(r *FetchReport) { r.Failed++ })
				return nil
			}
			record(func(r *FetchReport) {
				r.Downloaded++
				r.Bytes += n
			})
			return nil
		})
	}
	err := g.Wait()

	log.Info().
		Int("downloaded", report.Downloaded).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int64("bytes", report.Bytes).
		Msg("Fetch complete")
	return report, err
}
