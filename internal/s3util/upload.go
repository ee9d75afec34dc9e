package s3util

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectKey joins a prefix and a file name into an S3 key.
func ObjectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// UploadFile uploads a local file to bucket/key and returns the key.
func UploadFile(ctx context.Context, client ObjectPutter, bucket, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket:  &bucket,
		Key:     &key,
		Body:    f,
		Tagging: ProjectTagging(),
	}
	if ct := contentType(localPath); ct != "" {
		input.ContentType = &ct
	}
	if _, err := client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", filepath.Base(localPath), err)
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Uploaded to S3")
	return key, nil
}

// UploadRun uploads the given files from dir under prefix, stopping at the
// first failure.
func UploadRun(ctx context.Context, client ObjectPutter, bucket, prefix, dir string, names []string) ([]string, error) {
	keys := make([]string, 0, len(names))
	for _, name := range names {
		key, err := UploadFile(ctx, client, bucket, ObjectKey(prefix, name), filepath.Join(dir, name))
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	log.Info().
		Str("bucket", bucket).
		Str("prefix", prefix).
		Int("objects", len(keys)).
		Msg("Run uploaded to S3")
	return keys, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".mp4":
		return "video/mp4"
	case ".csv":
		return "text/csv"
	case ".zst":
		return "application/zstd"
	}
	return mime.TypeByExtension(filepath.Ext(p))
}
