package badgergraph

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fruitsalade/pathstore/internal/blob/local"
	"github.com/fruitsalade/pathstore/internal/graph"
	"github.com/fruitsalade/pathstore/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logging.InitNop()
	blobs, err := local.New(local.Config{RootPath: filepath.Join(t.TempDir(), "blobs"), CreateDirs: true})
	if err != nil {
		t.Fatal(err)
	}
	s, err := OpenInMemory(blobs)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureRoot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.EnsureRoot(ctx, "root")
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.EnsureRoot(ctx, "root")
	if err != nil {
		t.Fatal(err)
	}
	if id != again {
		t.Errorf("EnsureRoot created a second root: %s vs %s", id, again)
	}

	nodes, err := s.Search(ctx, graph.Query{Name: "root"})
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || !nodes[0].IsFolder() {
		t.Errorf("unexpected roots %+v", nodes)
	}
}

func TestSearchOrderAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	root, _ := s.EnsureRoot(ctx, "root")

	f1, err := s.CreateFolder(ctx, "dup", root)
	if err != nil {
		t.Fatal(err)
	}
	file, err := s.CreateFile(ctx, "dup", root, strings.NewReader("x"), 1)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := s.CreateFolder(ctx, "dup", root)
	if err != nil {
		t.Fatal(err)
	}
	// Same name in another folder must not leak into parent-scoped searches.
	if _, err := s.CreateFolder(ctx, "dup", f1.ID); err != nil {
		t.Fatal(err)
	}
	// A longer name sharing the prefix must not match.
	if _, err := s.CreateFolder(ctx, "dup2", root); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		kind graph.KindFilter
		want []string
	}{
		{graph.AnyKind, []string{f1.ID, file.ID, f2.ID}},
		{graph.OnlyFolders, []string{f1.ID, f2.ID}},
		{graph.ExcludeFolders, []string{file.ID}},
	}
	for _, tt := range tests {
		nodes, err := s.Search(ctx, graph.Query{Name: "dup", ParentID: root, Kind: tt.kind})
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, n := range nodes {
			got = append(got, n.ID)
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("kind %v: got %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestFileLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	root, _ := s.EnsureRoot(ctx, "root")

	docs, err := s.CreateFolder(ctx, "docs", root)
	if err != nil {
		t.Fatal(err)
	}
	file, err := s.CreateFile(ctx, "a.txt", docs.ID, strings.NewReader("badger content"), -1)
	if err != nil {
		t.Fatal(err)
	}
	if file.Size != int64(len("badger content")) {
		t.Errorf("size = %d", file.Size)
	}

	rc, err := s.Download(ctx, file.ID)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "badger content" {
		t.Errorf("got %q", data)
	}

	if _, err := s.Download(ctx, docs.ID); !errors.Is(err, graph.ErrNotAFile) {
		t.Errorf("expected ErrNotAFile, got %v", err)
	}
	if err := s.Delete(ctx, docs.ID); !errors.Is(err, graph.ErrFolderNotEmpty) {
		t.Errorf("expected ErrFolderNotEmpty, got %v", err)
	}

	if err := s.Delete(ctx, file.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, docs.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, docs.ID); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
	nodes, _ := s.Search(ctx, graph.Query{Name: "a.txt"})
	if len(nodes) != 0 {
		t.Errorf("deleted file still found: %+v", nodes)
	}
}

func TestCreateUnderMissingParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateFolder(ctx, "x", "no-such-id"); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
	if _, err := s.CreateFile(ctx, "x", "no-such-id", strings.NewReader("x"), 1); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestTrashedHidden(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	root, _ := s.EnsureRoot(ctx, "root")

	f, err := s.CreateFolder(ctx, "old", root)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Trash(f.ID); err != nil {
		t.Fatal(err)
	}
	nodes, _ := s.Search(ctx, graph.Query{Name: "old", ParentID: root})
	if len(nodes) != 0 {
		t.Errorf("trashed node returned: %+v", nodes)
	}
	// A trashed child does not keep its folder alive.
	if err := s.Delete(ctx, root); err != nil {
		t.Errorf("delete root with only trashed children: %v", err)
	}
}
