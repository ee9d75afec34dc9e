package s3util

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	gets    []string
	puts    map[string]string
	tags    []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]string), puts: make(map[string]string)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := *in.Bucket + "/" + *in.Key
	f.gets = append(f.gets, id)
	body, ok := f.objects[id]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[*in.Bucket+"/"+*in.Key] = string(data)
	if in.Tagging != nil {
		f.tags = append(f.tags, *in.Tagging)
	}
	return &s3.PutObjectOutput{}, nil
}

func TestReadObjectList(t *testing.T) {
	input := "\ufeffid,s3_bucket,s3_object_key\n" +
		"1,raw,session/0001.mkv\n" +
		"2,,missing-bucket.mkv\n" +
		"3,raw,session/0002.mkv\n"

	refs, err := ReadObjectList(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadObjectList() error = %v", err)
	}
	want := []ObjectRef{{"raw", "session/0001.mkv"}, {"raw", "session/0002.mkv"}}
	if !slices.Equal(refs, want) {
		t.Errorf("ReadObjectList() = %v, want %v", refs, want)
	}

	if _, err := ReadObjectList(strings.NewReader("bucket,key\nx,y\n")); err == nil {
		t.Error("ReadObjectList() should require the named columns")
	}
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"a/b.mkv", filepath.Join("out", "a", "b.mkv"), false},
		{"/lead/slash.mkv", filepath.Join("out", "lead", "slash.mkv"), false},
		{"../escape.mkv", "", true},
		{"a/../../escape.mkv", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := LocalPath("out", tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LocalPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("LocalPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

type countProgress struct {
	mu sync.Mutex
	n  int
}

func (c *countProgress) Add(n int) error {
	c.mu.Lock()
	c.n += n
	c.mu.Unlock()
	return nil
}

func TestFetch(t *testing.T) {
	dir := t.TempDir()
	client := newFakeS3()
	client.objects["raw/s/0001.mkv"] = "one"
	client.objects["raw/s/0002.mkv"] = "two"
	client.objects["raw/s/0003.mkv"] = "three"

	existing := filepath.Join(dir, "s", "0003.mkv")
	if err := os.MkdirAll(filepath.Dir(existing), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(existing, []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}

	refs := []ObjectRef{
		{"raw", "s/0001.mkv"},
		{"raw", "s/0002.mkv"},
		{"raw", "s/0003.mkv"},
		{"raw", "s/gone.mkv"},
		{"raw", "../evil.mkv"},
	}
	progress := &countProgress{}
	report, err := Fetch(context.Background(), client, refs, dir, FetchOptions{Concurrency: 2, Progress: progress})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if report.Downloaded != 2 || report.Skipped != 1 || report.Failed != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.Bytes != int64(len("one")+len("two")) {
		t.Errorf("bytes = %d", report.Bytes)
	}
	if progress.n != len(refs) {
		t.Errorf("progress = %d, want %d", progress.n, len(refs))
	}

	got, err := os.ReadFile(filepath.Join(dir, "s", "0002.mkv"))
	if err != nil || string(got) != "two" {
		t.Errorf("downloaded file = %q, %v", got, err)
	}
	if local, _ := os.ReadFile(existing); string(local) != "local" {
		t.Error("existing file was overwritten")
	}
	if _, err := os.Stat(filepath.Join(dir, "s", "gone.mkv.part")); !errors.Is(err, os.ErrNotExist) {
		t.Error("failed download left a partial file")
	}
}

func TestFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := newFakeS3()
	client.objects["b/k"] = "x"
	_, err := Fetch(ctx, client, []ObjectRef{{"b", "k"}}, t.TempDir(), FetchOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want context.Canceled", err)
	}
}

func TestUploadRun(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{"a_None.mp4": "clip", "video_clips.csv": "csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	client := newFakeS3()

	keys, err := UploadRun(context.Background(), client, "clips", "/runs/r1/", dir, []string{"a_None.mp4", "video_clips.csv"})
	if err != nil {
		t.Fatalf("UploadRun() error = %v", err)
	}
	if !slices.Equal(keys, []string{"runs/r1/a_None.mp4", "runs/r1/video_clips.csv"}) {
		t.Errorf("keys = %v", keys)
	}
	if client.puts["clips/runs/r1/a_None.mp4"] != "clip" {
		t.Errorf("uploaded body = %q", client.puts["clips/runs/r1/a_None.mp4"])
	}
	if len(client.tags) != 2 || client.tags[0] != projectTag {
		t.Errorf("tags = %v", client.tags)
	}

	if _, err := UploadRun(context.Background(), client, "clips", "", dir, []string{"missing.mp4"}); err == nil {
		t.Error("UploadRun() should fail on a missing file")
	}
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("", "x.mp4"); got != "x.mp4" {
		t.Errorf("ObjectKey() = %q", got)
	}
	if got := ObjectKey("a/b/", "x.mp4"); got != "a/b/x.mp4" {
		t.Errorf("ObjectKey() = %q", got)
	}
}
