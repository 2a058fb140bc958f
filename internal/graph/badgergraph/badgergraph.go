// Package badgergraph keeps the node graph in an embedded BadgerDB and file
// content in a blob backend.
//
// Key layout:
//
//	node/<id>                       JSON node record
//	name/<name>\x00<seq>/<id>       name index, creation ordered
//	child/<parent>/<id>             child index
package badgergraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/pathstore/internal/graph"
	"github.com/fruitsalade/pathstore/internal/logging"
)

const (
	prefixNode  = "node/"
	prefixName  = "name/"
	prefixChild = "child/"
)

// BlobStore is the subset of blob.Backend the graph needs.
type BlobStore interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	PutObject(ctx context.Context, key string, body io.Reader, size int64) (int64, error)
	DeleteObject(ctx context.Context, key string) error
}

type record struct {
	graph.Node
	Seq     uint64 `json:"seq"`
	BlobKey string `json:"blob_key,omitempty"`
}

// Store is a BadgerDB-backed graph.Client.
type Store struct {
	db    *badger.DB
	seq   *badger.Sequence
	blobs BlobStore
	now   func() time.Time
}

var _ graph.Client = (*Store)(nil)

// Open opens or creates a database in dir.
func Open(dir string, blobs BlobStore) (*Store, error) {
	return open(badger.DefaultOptions(dir), blobs)
}

// OpenInMemory opens a database that lives only in memory.
func OpenInMemory(blobs BlobStore) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), blobs)
}

func open(opts badger.Options, blobs BlobStore) (*Store, error) {
	opts = opts.
		WithLogger(badgerLogger{logging.S().Named("badger")}).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte("seq"), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return &Store{db: db, seq: seq, blobs: blobs, now: time.Now}, nil
}

// Close releases the sequence and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		logging.Warn("release badger sequence", zap.Error(err))
	}
	return s.db.Close()
}

func nodeKey(id string) []byte { return []byte(prefixNode + id) }

func namePrefix(name string) []byte { return []byte(prefixName + name + "\x00") }

func nameKey(name string, seq uint64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%016x/%s", prefixName, name, seq, id))
}

func childPrefix(parentID string) []byte { return []byte(prefixChild + parentID + "/") }

func childKey(parentID, id string) []byte { return []byte(prefixChild + parentID + "/" + id) }

func getRecord(txn *badger.Txn, id string) (record, error) {
	var rec record
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, fmt.Errorf("node %s: %w", id, graph.ErrNodeNotFound)
	}
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func putRecord(txn *badger.Txn, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode node: %w", err)
	}
	if err := txn.Set(nodeKey(rec.ID), data); err != nil {
		return err
	}
	if err := txn.Set(nameKey(rec.Name, rec.Seq, rec.ID), nil); err != nil {
		return err
	}
	for _, p := range rec.Parents {
		if err := txn.Set(childKey(p, rec.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

// Search scans the name index in creation order and filters by q.
func (s *Store) Search(ctx context.Context, q graph.Query) ([]graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []graph.Node
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := namePrefix(q.Name)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			// <seq>/ follows the prefix.
			id := string(it.Item().Key()[len(prefix)+17:])
			rec, err := getRecord(txn, id)
			if errors.Is(err, graph.ErrNodeNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if q.Match(rec.Node) {
				out = append(out, rec.Node)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Name, err)
	}
	return out, nil
}

func (s *Store) checkParent(txn *badger.Txn, parentID string) error {
	p, err := getRecord(txn, parentID)
	if err != nil {
		return fmt.Errorf("parent: %w", err)
	}
	if p.Trashed {
		return fmt.Errorf("parent %s: %w", parentID, graph.ErrNodeNotFound)
	}
	if !p.IsFolder() {
		return fmt.Errorf("parent %s is a file", parentID)
	}
	return nil
}

func (s *Store) create(ctx context.Context, rec record) (graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return graph.Node{}, err
	}
	seq, err := s.seq.Next()
	if err != nil {
		return graph.Node{}, fmt.Errorf("next sequence: %w", err)
	}
	rec.Seq = seq
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.ModTime = s.now()

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, p := range rec.Parents {
			if err := s.checkParent(txn, p); err != nil {
				return err
			}
		}
		return putRecord(txn, rec)
	})
	if err != nil {
		return graph.Node{}, err
	}
	return rec.Node, nil
}

// EnsureRoot returns the first parentless folder named name, creating one
// when absent.
func (s *Store) EnsureRoot(ctx context.Context, name string) (string, error) {
	nodes, err := s.Search(ctx, graph.Query{Name: name, Kind: graph.OnlyFolders})
	if err != nil {
		return "", err
	}
	for _, n := range nodes {
		if len(n.Parents) == 0 {
			return n.ID, nil
		}
	}
	n, err := s.create(ctx, record{Node: graph.Node{Name: name, Kind: graph.KindFolder}})
	if err != nil {
		return "", err
	}
	logging.Info("created root folder", zap.String("root", name), logging.NodeID(n.ID))
	return n.ID, nil
}

// CreateFolder creates a folder under parentID.
func (s *Store) CreateFolder(ctx context.Context, name, parentID string) (graph.Node, error) {
	return s.create(ctx, record{Node: graph.Node{
		Name:    name,
		Kind:    graph.KindFolder,
		Parents: []string{parentID},
	}})
}

// CreateFile stores content in the blob backend and records the node.
func (s *Store) CreateFile(ctx context.Context, name, parentID string, content io.Reader, size int64) (graph.Node, error) {
	id := uuid.NewString()
	key := "nodes/" + id[:2] + "/" + id

	n, err := s.blobs.PutObject(ctx, key, content, size)
	if err != nil {
		return graph.Node{}, fmt.Errorf("store content: %w", err)
	}

	node, err := s.create(ctx, record{
		Node: graph.Node{
			ID:      id,
			Name:    name,
			Kind:    graph.KindFile,
			Parents: []string{parentID},
			Size:    n,
		},
		BlobKey: key,
	})
	if err != nil {
		if delErr := s.blobs.DeleteObject(ctx, key); delErr != nil {
			logging.Warn("orphaned blob", zap.String("key", key), zap.Error(delErr))
		}
		return graph.Node{}, err
	}
	return node, nil
}

func hasLiveChildren(txn *badger.Txn, id string) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := childPrefix(id)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		childID := string(it.Item().Key()[len(prefix):])
		rec, err := getRecord(txn, childID)
		if errors.Is(err, graph.ErrNodeNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if !rec.Trashed {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes a node and its index entries. Folders with live children
// are refused.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var blobKey string
	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Trashed {
			return fmt.Errorf("node %s: %w", id, graph.ErrNodeNotFound)
		}
		if rec.IsFolder() {
			busy, err := hasLiveChildren(txn, id)
			if err != nil {
				return err
			}
			if busy {
				return graph.ErrFolderNotEmpty
			}
		}

		if err := txn.Delete(nodeKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(nameKey(rec.Name, rec.Seq, id)); err != nil {
			return err
		}
		for _, p := range rec.Parents {
			if err := txn.Delete(childKey(p, id)); err != nil {
				return err
			}
		}
		blobKey = rec.BlobKey
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	if blobKey != "" {
		if err := s.blobs.DeleteObject(ctx, blobKey); err != nil {
			logging.Warn("orphaned blob", zap.String("key", blobKey), zap.Error(err))
		}
	}
	return nil
}

// Download opens the blob behind a file node.
func (s *Store) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	if rec.Trashed {
		return nil, fmt.Errorf("download %s: %w", id, graph.ErrNodeNotFound)
	}
	if rec.IsFolder() || rec.BlobKey == "" {
		return nil, fmt.Errorf("download %s: %w", id, graph.ErrNotAFile)
	}
	return s.blobs.GetObject(ctx, rec.BlobKey)
}

// Trash marks a node as trashed.
func (s *Store) Trash(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		rec.Trashed = true
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(nodeKey(id), data)
	})
}

// badgerLogger routes badger's logs through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
