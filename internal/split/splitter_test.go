package split

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/recording-splitter/internal/clip"
	"github.com/fpang/recording-splitter/internal/manifest"
	"github.com/fpang/recording-splitter/internal/testsupport"
)

type fixture struct {
	lib *testsupport.Library
	enc *testsupport.Encoders
	agg *manifest.Aggregator
	dir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		lib: testsupport.NewLibrary(),
		enc: testsupport.NewEncoders(),
		agg: manifest.NewAggregator(),
		dir: t.TempDir(),
	}
}

func (f *fixture) splitter(t *testing.T, policy EncodePolicy) *Splitter {
	t.Helper()
	sp, err := New(Options{
		OutputDir:  f.dir,
		Classifier: f.lib,
		Sources:    f.lib,
		Encoders:   f.enc,
		Tracker:    NewManifestTracker(f.agg),
		OnEncode:   policy,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return sp
}

func clipNames(clips []*testsupport.Clip) []string {
	var names []string
	for _, c := range clips {
		names = append(names, c.Name())
	}
	return names
}

func rowFiles(rows []manifest.Row) []string {
	var names []string
	for _, r := range rows {
		names = append(names, r.Filename)
	}
	return names
}

func TestTwoSegmentsInOneFragment(t *testing.T) {
	f := newFixture(t)
	f.lib.Add("f1",
		testsupport.MarkerFrame("a", "None"), testsupport.ContentFrames(3),
		testsupport.MarkerFrame("b", "None"), testsupport.ContentFrames(2),
	)

	st, err := f.splitter(t, FailOnEncodeError).Run(context.Background(), []string{"f1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	finished := f.enc.Finished()
	if got := clipNames(finished); !slices.Equal(got, []string{"a_None.mp4", "b_None.mp4"}) {
		t.Fatalf("clips = %v", got)
	}
	if !slices.Equal(finished[0].PTS, []int64{0, 33, 66}) {
		t.Errorf("clip a PTS = %v, want [0 33 66]", finished[0].PTS)
	}
	if !slices.Equal(finished[1].PTS, []int64{0, 33}) {
		t.Errorf("clip b PTS = %v, want [0 33]", finished[1].PTS)
	}
	if got := rowFiles(f.agg.Completed()); !slices.Equal(got, []string{"a_None.mp4", "b_None.mp4"}) {
		t.Errorf("manifest = %v", got)
	}
	if st.Stats.Markers != 2 || st.Stats.Written != 5 || st.Stats.ClipsClosed != 2 {
		t.Errorf("stats = %+v", st.Stats)
	}
	if finished[0].Profile.TimeBase != f.lib.TimeBase {
		t.Errorf("profile time base = %v, want %v", finished[0].Profile.TimeBase, f.lib.TimeBase)
	}
}

func TestSegmentContinuesAcrossFragments(t *testing.T) {
	f := newFixture(t)
	f.lib.Add("f1", testsupport.MarkerFrame("a", "{'k': 1}"), testsupport.ContentFrames(2))
	f.lib.Add("f2", testsupport.ContentFrames(2), testsupport.BlankFrames(1), testsupport.ContentFrames(1))
	sp := f.splitter(t, FailOnEncodeError)
	ctx := context.Background()

	st, err := sp.ProcessFragment(ctx, State{}, "f1")
	if err != nil {
		t.Fatalf("ProcessFragment(f1) error = %v", err)
	}
	if !st.Recording || st.Filename() != "a_{'k': 1}.mp4" {
		t.Fatalf("after f1 recording = %v file = %q", st.Recording, st.Filename())
	}
	if st, err = sp.ProcessFragment(ctx, st, "f2"); err != nil {
		t.Fatalf("ProcessFragment(f2) error = %v", err)
	}
	if st, err = sp.Finish(st); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if st.Recording {
		t.Error("still recording after Finish")
	}

	finished := f.enc.Finished()
	if len(finished) != 1 {
		t.Fatalf("clips = %v, want one", clipNames(finished))
	}
	// f1: marker@0 content@33,66. f2: content@99,132 blank@165 content@198.
	if want := []int64{0, 33, 66, 99, 165}; !slices.Equal(finished[0].PTS, want) {
		t.Errorf("PTS = %v, want %v", finished[0].PTS, want)
	}
	wantIDs := append(f.lib.ContentIDs("f1"), f.lib.ContentIDs("f2")...)
	if !slices.Equal(finished[0].IDs, wantIDs) {
		t.Errorf("frame ids = %v, want %v", finished[0].IDs, wantIDs)
	}
	if f.agg.Len() != 1 {
		t.Errorf("manifest rows = %d, want 1", f.agg.Len())
	}
}

func TestRepeatedMarkerDoesNotSplit(t *testing.T) {
	f := newFixture(t)
	f.lib.Add("f1",
		testsupport.MarkerFrame("a", "None"), testsupport.ContentFrames(2),
		testsupport.MarkerFrame("a", "None"), testsupport.ContentFrames(2),
	)

	if _, err := f.splitter(t, FailOnEncodeError).Run(context.Background(), []string{"f1"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	clips := f.enc.Clips()
	if len(clips) != 1 {
		t.Fatalf("clips = %v, want one", clipNames(clips))
	}
	if want := []int64{0, 33, 99, 132}; !slices.Equal(clips[0].PTS, want) {
		t.Errorf("PTS = %v, want %v", clips[0].PTS, want)
	}
	if f.agg.Len() != 1 {
		t.Errorf("manifest rows = %d, want 1", f.agg.Len())
	}
}

func TestContentBeforeFirstMarkerIsDropped(t *testing.T) {
	f := newFixture(t)
	f.lib.Add("f1",
		testsupport.ContentFrames(3), testsupport.BlankFrames(2),
		testsupport.MarkerFrame("a", "None"), testsupport.ContentFrames(1),
	)

	st, err := f.splitter(t, FailOnEncodeError).Run(context.Background(), []string{"f1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Stats.Dropped != 3 || st.Stats.Blank != 2 {
		t.Errorf("stats = %+v, want 3 dropped and 2 blank", st.Stats)
	}
	finished := f.enc.Finished()
	if len(finished) != 1 || !slices.Equal(finished[0].PTS, []int64{0}) {
		t.Errorf("clips = %v", clipNames(finished))
	}
}

func TestMalformedMarkerIsWrittenAsContent(t *testing.T) {
	f := newFixture(t)
	f.lib.Add("f1",
		testsupport.MarkerFrame("a", "None"), testsupport.ContentFrames(1),
		testsupport.MalformedFrame(), testsupport.ContentFrames(1),
	)

	st, err := f.splitter(t, FailOnEncodeError).Run(context.Background(), []string{"f1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Stats.Malformed != 1 || st.Stats.Written != 3 {
		t.Errorf("stats = %+v", st.Stats)
	}
}

func TestMalformedMarkerIsLoggedWithContext(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.WarnLevel)
	t.Cleanup(func() { log.Logger = prev })

	f := newFixture(t)
	f.lib.Add("f1",
		testsupport.MarkerFrame("a", "None"), testsupport.ContentFrames(2),
		testsupport.MalformedFrame(),
	)
	if _, err := f.splitter(t, FailOnEncodeError).Run(context.Background(), []string{"f1"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]any
		if err := json.Unmarshal(line, &e); err == nil && e["message"] == "Unreadable marker, frame kept as content" {
			entry = e
		}
	}
	if entry == nil {
		t.Fatalf("no unreadable-marker warning in %s", buf.String())
	}
	if entry["level"] != "warn" || entry["fragment"] != "f1" || entry["frame"] != float64(3) || entry["item_id"] != "a" {
		t.Errorf("log entry = %v", entry)
	}
	if entry["error"] != testsupport.ErrUnreadableMarker.Error() {
		t.Errorf("error field = %v", entry["error"])
	}
}

func encodeFailureLibrary(f *fixture) {
	f.lib.Add("f1",
		testsupport.MarkerFrame("a", "None"), testsupport.ContentFrames(2),
		testsupport.MarkerFrame("b", "None"), testsupport.ContentFrames(3),
		testsupport.MarkerFrame("c", "None"), testsupport.ContentFrames(1),
	)
	f.enc.FailAt["b_None.mp4"] = 2
}

func TestEncodeErrorStopsSequentialRun(t *testing.T) {
	f := newFixture(t)
	encodeFailureLibrary(f)

	_, err := f.splitter(t, FailOnEncodeError).Run(context.Background(), []string{"f1"})
	if !errors.Is(err, ErrEncode) || !errors.Is(err, testsupport.ErrInjected) {
		t.Fatalf("Run() error = %v, want ErrEncode wrapping the encoder error", err)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "b_None.mp4")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial clip left behind: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "a_None.mp4")); err != nil {
		t.Errorf("finished clip missing: %v", err)
	}
	if got := rowFiles(f.agg.Completed()); !slices.Equal(got, []string{"a_None.mp4"}) {
		t.Errorf("manifest = %v", got)
	}
	if c := f.enc.Clip("c_None.mp4"); c != nil {
		t.Error("run continued past the failure")
	}
}

func TestEncodeErrorRollsBackSegment(t *testing.T) {
	f := newFixture(t)
	encodeFailureLibrary(f)

	st, err := f.splitter(t, AbortSegmentOnEncodeError).Run(context.Background(), []string{"f1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := clipNames(f.enc.Finished()); !slices.Equal(got, []string{"a_None.mp4", "c_None.mp4"}) {
		t.Errorf("finished clips = %v", got)
	}
	if b := f.enc.Clip("b_None.mp4"); b == nil || !b.Aborted {
		t.Error("clip b was not aborted")
	}
	if _, err := os.Stat(filepath.Join(f.dir, "b_None.mp4")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial clip left behind: %v", err)
	}
	// The rest of segment b is dropped until marker c.
	if st.Stats.Discarded != 1 || st.Stats.Dropped != 1 || st.Stats.Written != 4 {
		t.Errorf("stats = %+v", st.Stats)
	}
	if got := rowFiles(f.agg.Completed()); !slices.Equal(got, []string{"a_None.mp4", "c_None.mp4"}) {
		t.Errorf("manifest = %v", got)
	}
}

func TestUnwritableOutputIsFatal(t *testing.T) {
	f := newFixture(t)
	f.lib.Add("f1", testsupport.MarkerFrame("a", "None"), testsupport.ContentFrames(1))
	blocker := filepath.Join(f.dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	f.dir = blocker

	_, err := f.splitter(t, AbortSegmentOnEncodeError).Run(context.Background(), []string{"f1"})
	if !errors.Is(err, clip.ErrOutputIO) {
		t.Fatalf("Run() error = %v, want ErrOutputIO", err)
	}
}

func TestFatalErrorDiscardsOpenClip(t *testing.T) {
	f := newFixture(t)
	f.lib.Add("f1", testsupport.MarkerFrame("a", "None"), testsupport.ContentFrames(2))

	_, err := f.splitter(t, FailOnEncodeError).Run(context.Background(), []string{"f1", "missing"})
	if err == nil {
		t.Fatal("Run() expected error for missing fragment")
	}
	if a := f.enc.Clip("a_None.mp4"); a == nil || !a.Aborted {
		t.Error("open clip was not discarded")
	}
	rows := f.agg.Rows()
	if len(rows) != 1 || rows[0].Status != manifest.Discarded {
		t.Errorf("rows = %+v, want one discarded", rows)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() with empty options should fail")
	}
}
