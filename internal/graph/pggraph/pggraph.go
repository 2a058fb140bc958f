// Package pggraph stores the node graph in PostgreSQL. Node rows carry the
// name, kind and parent reference; file content lives in a blob backend
// under the node's blob key.
package pggraph

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/pathstore/internal/graph"
	"github.com/fruitsalade/pathstore/internal/logging"
	"github.com/fruitsalade/pathstore/internal/metrics"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// BlobStore is the subset of blob.Backend the graph needs.
type BlobStore interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	PutObject(ctx context.Context, key string, body io.Reader, size int64) (int64, error)
	DeleteObject(ctx context.Context, key string) error
}

// Store is a PostgreSQL-backed graph.Client.
type Store struct {
	db    *sql.DB
	blobs BlobStore
}

var _ graph.Client = (*Store)(nil)

// New opens the database at databaseURL.
func New(databaseURL string, blobs BlobStore) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, blobs: blobs}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate applies the embedded schema migrations in name order.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		logging.Info("running migration", zap.String("file", f))
		content, err := migrations.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}
	return nil
}

// EnsureRoot returns the ID of the first parentless folder named name,
// creating one if none exists.
func (s *Store) EnsureRoot(ctx context.Context, name string) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("ensure_root", time.Since(start)) }()

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM nodes WHERE name = $1 AND parent_id IS NULL AND is_folder AND NOT trashed ORDER BY seq LIMIT 1`,
		name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query root: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, name, is_folder, parent_id) VALUES ($1, $2, TRUE, NULL)`,
		id, name); err != nil {
		return "", fmt.Errorf("insert root: %w", err)
	}
	logging.Info("created root folder", zap.String("root", name), logging.NodeID(id))
	return id, nil
}

const nodeColumns = `id, name, is_folder, parent_id, trashed, size, mod_time`

func scanNode(sc interface{ Scan(...any) error }) (graph.Node, error) {
	var (
		n        graph.Node
		isFolder bool
		parentID sql.NullString
	)
	if err := sc.Scan(&n.ID, &n.Name, &isFolder, &parentID, &n.Trashed, &n.Size, &n.ModTime); err != nil {
		return graph.Node{}, err
	}
	if isFolder {
		n.Kind = graph.KindFolder
	}
	if parentID.Valid {
		n.Parents = []string{parentID.String}
	}
	return n, nil
}

// buildSearch renders q as a SELECT over live nodes in creation order.
func buildSearch(q graph.Query) (string, []any) {
	where := []string{"NOT trashed", "name = $1"}
	args := []any{q.Name}

	if q.ParentID != "" {
		args = append(args, q.ParentID)
		where = append(where, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	switch q.Kind {
	case graph.OnlyFolders:
		where = append(where, "is_folder")
	case graph.ExcludeFolders:
		where = append(where, "NOT is_folder")
	}

	return "SELECT " + nodeColumns + " FROM nodes WHERE " + strings.Join(where, " AND ") + " ORDER BY seq", args
}

// Search returns matching live nodes in creation order.
func (s *Store) Search(ctx context.Context, q graph.Query) ([]graph.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("search", time.Since(start)) }()

	query, args := buildSearch(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []graph.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) checkParent(ctx context.Context, parentID string) error {
	var isFolder bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_folder FROM nodes WHERE id = $1 AND NOT trashed`, parentID).Scan(&isFolder)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("parent %s: %w", parentID, graph.ErrNodeNotFound)
	}
	if err != nil {
		return fmt.Errorf("query parent %s: %w", parentID, err)
	}
	if !isFolder {
		return fmt.Errorf("parent %s is a file", parentID)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, name, parentID string, isFolder bool, size int64, blobKey sql.NullString) (graph.Node, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO nodes (id, name, is_folder, parent_id, size, blob_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+nodeColumns,
		uuid.NewString(), name, isFolder, parentID, size, blobKey)
	n, err := scanNode(row)
	if err != nil {
		return graph.Node{}, fmt.Errorf("insert node %q: %w", name, err)
	}
	return n, nil
}

// CreateFolder inserts a folder row under parentID.
func (s *Store) CreateFolder(ctx context.Context, name, parentID string) (graph.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_folder", time.Since(start)) }()

	if err := s.checkParent(ctx, parentID); err != nil {
		return graph.Node{}, err
	}
	return s.insert(ctx, name, parentID, true, 0, sql.NullString{})
}

// CreateFile writes content to the blob store, then inserts the node row.
// The blob is removed again if the insert fails.
func (s *Store) CreateFile(ctx context.Context, name, parentID string, content io.Reader, size int64) (graph.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_file", time.Since(start)) }()

	if err := s.checkParent(ctx, parentID); err != nil {
		return graph.Node{}, err
	}

	key := blobKey(uuid.NewString())
	n, err := s.blobs.PutObject(ctx, key, content, size)
	if err != nil {
		return graph.Node{}, fmt.Errorf("store content: %w", err)
	}

	node, err := s.insert(ctx, name, parentID, false, n, sql.NullString{String: key, Valid: true})
	if err != nil {
		if delErr := s.blobs.DeleteObject(ctx, key); delErr != nil {
			logging.Warn("orphaned blob", zap.String("key", key), zap.Error(delErr))
		}
		return graph.Node{}, err
	}
	return node, nil
}

// deleteSubtree removes a node and every row below it in one statement, so
// the parent_id reference is checked only once the whole subtree is gone.
const deleteSubtree = `
WITH RECURSIVE subtree(id) AS (
    SELECT id FROM nodes WHERE id = $1
  UNION ALL
    SELECT n.id FROM nodes n JOIN subtree t ON n.parent_id = t.id
)
DELETE FROM nodes WHERE id IN (SELECT id FROM subtree)
RETURNING blob_key`

// Delete removes a node and its blob. Folders with live children are
// refused; trashed descendants are purged with the folder, blobs included.
func (s *Store) Delete(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var isFolder bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_folder FROM nodes WHERE id = $1 AND NOT trashed FOR UPDATE`, id).Scan(&isFolder)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("delete %s: %w", id, graph.ErrNodeNotFound)
	}
	if err != nil {
		return fmt.Errorf("query node %s: %w", id, err)
	}

	if isFolder {
		var children int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM nodes WHERE parent_id = $1 AND NOT trashed`, id).Scan(&children); err != nil {
			return fmt.Errorf("count children of %s: %w", id, err)
		}
		if children > 0 {
			return fmt.Errorf("delete %s: %w", id, graph.ErrFolderNotEmpty)
		}
	}

	keys, err := deleteRows(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	for _, key := range keys {
		if err := s.blobs.DeleteObject(ctx, key); err != nil {
			logging.Warn("orphaned blob", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

func deleteRows(ctx context.Context, tx *sql.Tx, id string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, deleteSubtree, id)
	if err != nil {
		return nil, fmt.Errorf("delete node %s: %w", id, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key sql.NullString
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan deleted blob key: %w", err)
		}
		if key.Valid {
			keys = append(keys, key.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete node %s: %w", id, err)
	}
	return keys, nil
}

// Download opens the blob behind a file node.
func (s *Store) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	start := time.Now()
	var (
		isFolder bool
		key      sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT is_folder, blob_key FROM nodes WHERE id = $1 AND NOT trashed`, id).Scan(&isFolder, &key)
	metrics.RecordDBQuery("download", time.Since(start))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("download %s: %w", id, graph.ErrNodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query node %s: %w", id, err)
	}
	if isFolder || !key.Valid {
		return nil, fmt.Errorf("download %s: %w", id, graph.ErrNotAFile)
	}
	return s.blobs.GetObject(ctx, key.String)
}

// Trash marks a node as trashed. Trashed nodes are invisible to Search.
func (s *Store) Trash(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET trashed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("trash %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("trash %s: %w", id, graph.ErrNodeNotFound)
	}
	return nil
}

// blobKey shards keys by their first two characters.
func blobKey(id string) string {
	return "nodes/" + id[:2] + "/" + id
}
