package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofrs/flock"

	"github.com/fpang/recording-splitter/internal/config"
	"github.com/fpang/recording-splitter/internal/manifest"
	"github.com/fpang/recording-splitter/internal/testsupport"
)

type fixture struct {
	cfg  *config.Config
	lib  *testsupport.Library
	enc  *testsupport.Encoders
	out  string
	mets bytes.Buffer
}

// newFixture lays out three fragments holding segments a and b.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	in := t.TempDir()
	fx := &fixture{
		lib: testsupport.NewLibrary(),
		enc: testsupport.NewEncoders(),
		out: filepath.Join(t.TempDir(), "clips"),
	}
	add := func(name string, specs ...testsupport.Spec) {
		path := filepath.Join(in, name)
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		fx.lib.Add(path, specs...)
	}
	add("f01.mkv", testsupport.MarkerFrame("a", "None"), testsupport.ContentFrames(3))
	add("f02.mkv", testsupport.ContentFrames(2), testsupport.MarkerFrame("b", "{'x': 1}"), testsupport.ContentFrames(2))
	add("f03.mkv", testsupport.ContentFrames(1))
	if err := os.WriteFile(filepath.Join(in, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.InputDir = in
	cfg.OutputDir = fx.out
	cfg.NumWorkers = 3
	if err := cfg.Finalize(); err != nil {
		t.Fatal(err)
	}
	fx.cfg = &cfg
	return fx
}

func (fx *fixture) deps() Deps {
	return Deps{
		Sources:    fx.lib,
		Classifier: fx.lib,
		Encoders:   fx.enc,
		Progress:   io.Discard,
		Metrics:    &fx.mets,
	}
}

func readManifest(t *testing.T, path string) []manifest.Row {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := manifest.ReadCSV(f)
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

var wantClips = []string{"a_None.mp4", "b_{'x': 1}.mp4"}

func TestSplitSequential(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.EmitMetrics = true

	res, err := Split(context.Background(), fx.cfg, Sequential, fx.deps())
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(res.Fragments) != 3 {
		t.Errorf("fragments = %v, want the three .mkv files", res.Fragments)
	}
	if !slices.Equal(res.Clips, wantClips) {
		t.Errorf("clips = %v, want %v", res.Clips, wantClips)
	}
	if res.Stats.ClipsClosed != 2 || res.Stats.Fragments != 3 || len(res.Workers) != 1 {
		t.Errorf("stats = %+v, workers = %d", res.Stats, len(res.Workers))
	}

	b := fx.enc.Clip("b_{'x': 1}.mp4")
	if b == nil || len(b.IDs) != 3 || b.PTS[0] != 0 {
		t.Errorf("clip b = %+v, want 3 frames starting at pts 0", b)
	}

	if len(res.ManifestPaths) != 1 {
		t.Fatalf("manifest paths = %v", res.ManifestPaths)
	}
	rows := readManifest(t, res.ManifestPaths[0])
	if len(rows) != 2 || rows[0].ItemID != "a" || rows[1].Modifiers != "{'x': 1}" {
		t.Errorf("manifest rows = %+v", rows)
	}

	var doc map[string]any
	if err := json.Unmarshal(fx.mets.Bytes(), &doc); err != nil {
		t.Fatalf("metrics not JSON: %v (%q)", err, fx.mets.String())
	}
	if doc["Command"] != "split-clips" || doc["ClipsWritten"] != float64(2) || doc["Failed"] != float64(0) {
		t.Errorf("metrics = %v", doc)
	}
}

func TestSplitParallelMatchesSequential(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.CompressManifest = true

	res, err := Split(context.Background(), fx.cfg, Parallel, fx.deps())
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if res.Claimed != 2 || len(res.ClaimedKeys) != 2 {
		t.Errorf("claimed = %d %v, want 2 keys", res.Claimed, res.ClaimedKeys)
	}
	if !slices.IsSorted(res.ClaimedKeys) {
		t.Errorf("claimed keys not sorted: %v", res.ClaimedKeys)
	}
	if len(res.Workers) != 3 {
		t.Errorf("workers = %d, want 3", len(res.Workers))
	}
	got := slices.Clone(res.Clips)
	slices.Sort(got)
	if !slices.Equal(got, wantClips) {
		t.Errorf("clips = %v, want %v", got, wantClips)
	}
	for _, c := range fx.enc.Finished() {
		if c.Name() == "a_None.mp4" && len(c.IDs) != 5 {
			t.Errorf("clip a has %d frames, want 5", len(c.IDs))
		}
	}
	if len(res.ManifestPaths) != 2 || !strings.HasSuffix(res.ManifestPaths[1], ".csv.zst") {
		t.Errorf("manifest paths = %v", res.ManifestPaths)
	}
	if fx.mets.Len() != 0 {
		t.Error("metrics emitted although disabled")
	}
}

func TestSplitRefusesLockedOutput(t *testing.T) {
	fx := newFixture(t)
	if err := os.MkdirAll(fx.out, 0o755); err != nil {
		t.Fatal(err)
	}
	held := flock.New(filepath.Join(fx.out, LockName))
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	defer held.Unlock()

	_, err := Split(context.Background(), fx.cfg, Sequential, fx.deps())
	if !errors.Is(err, ErrOutputLocked) {
		t.Errorf("Split() error = %v, want ErrOutputLocked", err)
	}
	if len(fx.enc.Clips()) != 0 {
		t.Error("locked run should not encode anything")
	}
}

func TestSplitReleasesLock(t *testing.T) {
	fx := newFixture(t)
	if _, err := Split(context.Background(), fx.cfg, Sequential, fx.deps()); err != nil {
		t.Fatal(err)
	}
	lock := flock.New(filepath.Join(fx.out, LockName))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Errorf("lock still held after run: %v, %v", ok, err)
	}
	lock.Unlock()
}

func TestSplitEncodeFailureWritesNoManifest(t *testing.T) {
	fx := newFixture(t)
	fx.enc.FailAt["b_{'x': 1}.mp4"] = 2
	fx.cfg.EmitMetrics = true

	res, err := Split(context.Background(), fx.cfg, Sequential, fx.deps())
	if err == nil {
		t.Fatal("Split() error = nil, want encode failure")
	}
	if res == nil || res.ManifestPaths != nil {
		t.Errorf("result = %+v, want no manifest", res)
	}
	if _, statErr := os.Stat(filepath.Join(fx.out, manifest.FileName)); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("manifest exists after failed run: %v", statErr)
	}
	if !strings.Contains(fx.mets.String(), `"Failed":1`) {
		t.Errorf("metrics = %s, want Failed=1", fx.mets.String())
	}
}

func TestSplitRequiresDirs(t *testing.T) {
	cfg := config.Default()
	if _, err := Split(context.Background(), &cfg, Sequential, Deps{}); err == nil {
		t.Error("Split() without input_dir should fail")
	}
	cfg.InputDir = filepath.Join(t.TempDir(), "missing")
	cfg.OutputDir = t.TempDir()
	if _, err := Split(context.Background(), &cfg, Sequential, Deps{Sources: testsupport.NewLibrary(), Encoders: testsupport.NewEncoders()}); err == nil {
		t.Error("Split() with a missing input_dir should fail")
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	puts    map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]string), puts: make(map[string]string)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
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
	return &s3.PutObjectOutput{}, nil
}

func (fx *fixture) depsWithS3(client *fakeS3) Deps {
	d := fx.deps()
	d.S3 = func(context.Context) (S3Client, error) { return client, nil }
	return d
}

func TestSplitUploadsRun(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.Upload.Bucket = "clips"
	fx.cfg.Upload.Prefix = "runs"
	client := newFakeS3()

	res, err := Split(context.Background(), fx.cfg, Sequential, fx.depsWithS3(client))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	prefix := "runs/split-clips/" + res.RunID + "/"
	want := []string{prefix + "a_None.mp4", prefix + "b_{'x': 1}.mp4", prefix + manifest.FileName}
	if !slices.Equal(res.Uploaded, want) {
		t.Errorf("uploaded = %v, want %v", res.Uploaded, want)
	}
	if !strings.HasPrefix(client.puts["clips/"+prefix+manifest.FileName], "item_id,modifiers,filename\n") {
		t.Errorf("uploaded manifest = %q", client.puts["clips/"+prefix+manifest.FileName])
	}
}

func TestFetch(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "selected.csv")
	list := "s3_bucket,s3_object_key\nraw,sess/0001.mkv\nraw,sess/0002.mkv\nraw,sess/missing.mkv\n"
	if err := os.WriteFile(csvPath, []byte(list), 0o644); err != nil {
		t.Fatal(err)
	}
	client := newFakeS3()
	client.objects["raw/sess/0001.mkv"] = "one"
	client.objects["raw/sess/0002.mkv"] = "two"

	cfg := config.Default()
	cfg.Fetch.CSVFile = csvPath
	cfg.OutputDir = filepath.Join(dir, "fragments")
	cfg.EmitMetrics = true
	if err := cfg.Finalize(); err != nil {
		t.Fatal(err)
	}
	var mets bytes.Buffer
	report, err := Fetch(context.Background(), &cfg, Deps{
		S3:       func(context.Context) (S3Client, error) { return client, nil },
		Progress: io.Discard,
		Metrics:  &mets,
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if report.Downloaded != 2 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if got, _ := os.ReadFile(filepath.Join(cfg.OutputDir, "sess", "0002.mkv")); string(got) != "two" {
		t.Errorf("downloaded = %q", got)
	}
	if !strings.Contains(mets.String(), `"ObjectsFailed":1`) {
		t.Errorf("metrics = %s", mets.String())
	}

	cfg.Fetch.CSVFile = filepath.Join(dir, "absent.csv")
	if _, err := Fetch(context.Background(), &cfg, Deps{Progress: io.Discard}); err == nil {
		t.Error("Fetch() with a missing list should fail")
	}
}

func TestModeTool(t *testing.T) {
	if Sequential.Tool() != "split-clips" || Parallel.Tool() != "split-clips-parallel" {
		t.Errorf("tools = %q, %q", Sequential.Tool(), Parallel.Tool())
	}
}
