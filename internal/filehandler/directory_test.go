package filehandler

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanFragments(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b", "0002.mkv"))
	touch(t, filepath.Join(dir, "a", "0003.MKV"))
	touch(t, filepath.Join(dir, "0001.mkv"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "b", "c", "0004.mp4"))

	abs, err := filepath.Abs(dir)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts ScanOptions
		want []string
	}{
		{
			name: "default extension, recursive, sorted",
			want: []string{"0001.mkv", "a/0003.MKV", "b/0002.mkv"},
		},
		{
			name: "extra extension without dot",
			opts: ScanOptions{Extensions: []string{"mkv", ".MP4"}},
			want: []string{"0001.mkv", "a/0003.MKV", "b/0002.mkv", "b/c/0004.mp4"},
		},
		{
			name: "top level only",
			opts: ScanOptions{MaxDepth: 1},
			want: []string{"0001.mkv"},
		},
		{
			name: "limit keeps earliest",
			opts: ScanOptions{Limit: 2},
			want: []string{"0001.mkv", "a/0003.MKV"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScanFragments(dir, tt.opts)
			if err != nil {
				t.Fatalf("ScanFragments() error = %v", err)
			}
			var rel []string
			for _, p := range got {
				r, err := filepath.Rel(abs, p)
				if err != nil {
					t.Fatal(err)
				}
				rel = append(rel, filepath.ToSlash(r))
			}
			if !slices.Equal(rel, tt.want) {
				t.Errorf("ScanFragments() = %v, want %v", rel, tt.want)
			}
		})
	}
}

func TestScanFragmentsErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "x.mkv")
	touch(t, file)

	if _, err := ScanFragments(filepath.Join(dir, "missing"), ScanOptions{}); err == nil {
		t.Error("expected error for missing directory")
	}
	if _, err := ScanFragments(file, ScanOptions{}); err == nil {
		t.Error("expected error for a file path")
	}
}

func TestScanFragmentsSkipsDirectorySymlinks(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "real", "0001.mkv"))
	if err := os.Symlink(filepath.Join(dir, "real"), filepath.Join(dir, "loop.mkv")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(dir, "real", "0001.mkv"), filepath.Join(dir, "link.mkv")); err != nil {
		t.Fatal(err)
	}

	got, err := ScanFragments(dir, ScanOptions{})
	if err != nil {
		t.Fatalf("ScanFragments() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ScanFragments() = %v, want the file and the file symlink", got)
	}
}
