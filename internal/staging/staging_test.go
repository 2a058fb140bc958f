package staging

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b")
	d, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if info, err := os.Stat(d.Root()); err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
}

func TestNewRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	os.WriteFile(f, []byte("x"), 0644)
	if _, err := New(f); err == nil {
		t.Error("expected error for file root")
	}
	if _, err := New(""); err == nil {
		t.Error("expected error for empty root")
	}
}

func TestWriteStreamAndOpen(t *testing.T) {
	d, _ := New(t.TempDir())

	path, n, err := d.WriteStream("report.txt", strings.NewReader("first"))
	if err != nil {
		t.Fatalf("WriteStream: %v", err)
	}
	if n != 5 || filepath.Base(path) != "report.txt" {
		t.Errorf("got path=%s n=%d", path, n)
	}

	// A second write replaces the staged copy.
	if _, _, err := d.WriteStream("report.txt", strings.NewReader("second")); err != nil {
		t.Fatalf("WriteStream: %v", err)
	}

	f, err := d.OpenForRead("report.txt")
	if err != nil {
		t.Fatalf("OpenForRead: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}

	entries, _ := os.ReadDir(d.Root())
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %d entries", len(entries))
	}
}

func TestInvalidNames(t *testing.T) {
	d, _ := New(t.TempDir())
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		if _, _, err := d.WriteStream(name, strings.NewReader("")); !errors.Is(err, ErrInvalidName) {
			t.Errorf("WriteStream(%q) err = %v, want ErrInvalidName", name, err)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteStreamFailureLeavesNoFile(t *testing.T) {
	d, _ := New(t.TempDir())
	if _, _, err := d.WriteStream("x", failingReader{}); err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(d.Root())
	if len(entries) != 0 {
		t.Errorf("expected empty dir, found %d entries", len(entries))
	}
}

func TestClear(t *testing.T) {
	d, _ := New(t.TempDir())
	d.WriteStream("a", strings.NewReader("a"))
	os.MkdirAll(filepath.Join(d.Root(), "sub", "deep"), 0755)
	os.WriteFile(filepath.Join(d.Root(), "sub", "deep", "b"), []byte("b"), 0644)

	if err := d.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	entries, _ := os.ReadDir(d.Root())
	if len(entries) != 0 {
		t.Errorf("Clear left %d entries", len(entries))
	}
	if _, err := os.Stat(d.Root()); err != nil {
		t.Errorf("root removed: %v", err)
	}
}
