// Package memgraph provides an in-process graph store. It backs tests and
// the "memory" backend, and mirrors the semantics of the remote store:
// duplicate sibling names are allowed and search results come back in
// creation order.
package memgraph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/pathstore/internal/graph"
)

type entry struct {
	node    graph.Node
	content []byte
}

// Store is an in-memory graph.Client.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*entry
	order []string
	now   func() time.Time
}

var _ graph.Client = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		nodes: make(map[string]*entry),
		now:   time.Now,
	}
}

// AddRoot creates a parentless folder and returns its ID. Roots are
// provisioned out of band in the real store.
func (s *Store) AddRoot(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(graph.Node{Name: name, Kind: graph.KindFolder}, nil).ID
}

func (s *Store) insert(n graph.Node, content []byte) graph.Node {
	n.ID = uuid.NewString()
	n.ModTime = s.now()
	s.nodes[n.ID] = &entry{node: n, content: content}
	s.order = append(s.order, n.ID)
	return n
}

func (s *Store) live(id string) (*entry, bool) {
	e, ok := s.nodes[id]
	if !ok || e.node.Trashed {
		return nil, false
	}
	return e, true
}

// Search returns matching non-trashed nodes in creation order.
func (s *Store) Search(ctx context.Context, q graph.Query) ([]graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graph.Node
	for _, id := range s.order {
		e := s.nodes[id]
		if q.Match(e.node) {
			out = append(out, cloneNode(e.node))
		}
	}
	return out, nil
}

// CreateFolder creates a folder under parentID.
func (s *Store) CreateFolder(ctx context.Context, name, parentID string) (graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return graph.Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkParent(parentID); err != nil {
		return graph.Node{}, err
	}
	n := s.insert(graph.Node{Name: name, Kind: graph.KindFolder, Parents: []string{parentID}}, nil)
	return cloneNode(n), nil
}

// CreateFile reads content fully and stores it under parentID.
func (s *Store) CreateFile(ctx context.Context, name, parentID string, content io.Reader, size int64) (graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return graph.Node{}, err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return graph.Node{}, fmt.Errorf("read content: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return graph.Node{}, fmt.Errorf("content length %d does not match declared size %d", len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkParent(parentID); err != nil {
		return graph.Node{}, err
	}
	n := s.insert(graph.Node{
		Name:    name,
		Kind:    graph.KindFile,
		Parents: []string{parentID},
		Size:    int64(len(data)),
	}, data)
	return cloneNode(n), nil
}

func (s *Store) checkParent(parentID string) error {
	p, ok := s.live(parentID)
	if !ok {
		return fmt.Errorf("parent %s: %w", parentID, graph.ErrNodeNotFound)
	}
	if !p.node.IsFolder() {
		return fmt.Errorf("parent %s is a file", parentID)
	}
	return nil
}

// Delete removes a node. Folders with live children are refused.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(id)
	if !ok {
		return fmt.Errorf("delete %s: %w", id, graph.ErrNodeNotFound)
	}
	if e.node.IsFolder() && s.hasChildren(id) {
		return fmt.Errorf("delete %s: %w", id, graph.ErrFolderNotEmpty)
	}

	delete(s.nodes, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) hasChildren(id string) bool {
	for _, e := range s.nodes {
		if !e.node.Trashed && e.node.HasParent(id) {
			return true
		}
	}
	return false
}

// Download returns a reader over a copy of the file's content.
func (s *Store) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(id)
	if !ok {
		return nil, fmt.Errorf("download %s: %w", id, graph.ErrNodeNotFound)
	}
	if e.node.IsFolder() {
		return nil, fmt.Errorf("download %s: %w", id, graph.ErrNotAFile)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(e.content))), nil
}

// Trash marks a node as trashed without deleting it.
func (s *Store) Trash(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.nodes[id]
	if !ok {
		return graph.ErrNodeNotFound
	}
	e.node.Trashed = true
	return nil
}

// Children lists live direct children of parentID in creation order.
func (s *Store) Children(parentID string) []graph.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.Node
	for _, id := range s.order {
		e := s.nodes[id]
		if !e.node.Trashed && e.node.HasParent(parentID) {
			out = append(out, cloneNode(e.node))
		}
	}
	return out
}

// Len returns the number of nodes, trashed included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func cloneNode(n graph.Node) graph.Node {
	n.Parents = append([]string(nil), n.Parents...)
	return n
}
