// Package graph defines the node model of the remote object store and the
// client contract the storage core consumes.
//
// The store is a graph: every node has an opaque ID and zero or more parent
// IDs. Names are display names and are not unique among siblings. There is
// no native notion of a path.
package graph

import (
	"context"
	"errors"
	"io"
	"time"
)

// Kind distinguishes files from folders.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

// FolderMimeType is the MIME type the Drive service uses for folders.
const FolderMimeType = "application/vnd.google-apps.folder"

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	default:
		return "unknown"
	}
}

// KindFilter restricts a search by node kind.
type KindFilter int

const (
	AnyKind KindFilter = iota
	OnlyFolders
	ExcludeFolders
)

// Matches reports whether a node of kind k passes the filter.
func (f KindFilter) Matches(k Kind) bool {
	switch f {
	case OnlyFolders:
		return k == KindFolder
	case ExcludeFolders:
		return k != KindFolder
	default:
		return true
	}
}

// Node is a single file or folder in the store.
type Node struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Kind    Kind      `json:"kind"`
	Parents []string  `json:"parents,omitempty"`
	Trashed bool      `json:"trashed,omitempty"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"mtime"`
}

// IsFolder reports whether the node is a folder.
func (n Node) IsFolder() bool {
	return n.Kind == KindFolder
}

// HasParent reports whether id is one of the node's parents.
func (n Node) HasParent(id string) bool {
	for _, p := range n.Parents {
		if p == id {
			return true
		}
	}
	return false
}

// Query selects non-trashed nodes by exact name.
// An empty ParentID means no parent constraint.
type Query struct {
	Name     string
	ParentID string
	Kind     KindFilter
}

// Match reports whether n satisfies the query. Trashed nodes never match.
func (q Query) Match(n Node) bool {
	if n.Trashed || n.Name != q.Name {
		return false
	}
	if q.ParentID != "" && !n.HasParent(q.ParentID) {
		return false
	}
	return q.Kind.Matches(n.Kind)
}

var (
	// ErrNodeNotFound is returned when an ID does not name a live node.
	ErrNodeNotFound = errors.New("graph: node not found")

	// ErrFolderNotEmpty is returned by backends that refuse to delete a
	// folder with live children.
	ErrFolderNotEmpty = errors.New("graph: folder not empty")

	// ErrNotAFile is returned when downloading a folder.
	ErrNotAFile = errors.New("graph: not a file")
)

// Client is the remote graph store contract. Calls are synchronous; every
// result reflects the store at the time of the call.
type Client interface {
	// Search returns the non-trashed nodes matching q, in store order.
	Search(ctx context.Context, q Query) ([]Node, error)

	// CreateFolder creates a folder named name under parentID.
	CreateFolder(ctx context.Context, name, parentID string) (Node, error)

	// CreateFile creates a file under parentID with the given content.
	// size is the content length, or -1 if unknown.
	CreateFile(ctx context.Context, name, parentID string, content io.Reader, size int64) (Node, error)

	// Delete permanently removes the node.
	Delete(ctx context.Context, id string) error

	// Download streams a file's content. The caller closes the reader.
	Download(ctx context.Context, id string) (io.ReadCloser, error)

	// Close releases any resources held by the client.
	Close() error
}
