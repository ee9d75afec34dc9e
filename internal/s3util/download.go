// Package s3util provides the S3 helpers used to fetch recording fragments
// and to publish finished clips.
package s3util

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ObjectGetter is the subset of the S3 client used for downloads.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// DownloadToFile downloads an S3 object to a specific local path. The object
// is streamed into "<path>.part" and renamed on success, so an interrupted
// download never looks complete.
func DownloadToFile(ctx context.Context, client ObjectGetter, bucket, key, localPath string) (int64, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Str("localPath", localPath).Msg("Downloading from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return 0, fmt.Errorf("S3 GetObject: %w", err)
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	partPath := localPath + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(f, result.Body)
	if err != nil {
		f.Close()
		os.Remove(partPath)
		return n, fmt.Errorf("download: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partPath)
		return n, fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(partPath, localPath); err != nil {
		os.Remove(partPath)
		return n, fmt.Errorf("rename: %w", err)
	}
	return n, nil
}
