// Package pathstore maps slash-delimited paths onto a graph store whose
// nodes reference their parents by ID.
//
// Nothing is cached: every operation locates the root by name and walks the
// path again. Operations are not serialized against each other. Two stores
// to the same path may interleave their search, delete and create steps and
// leave duplicates or lose an overwrite; that race is inherited from the
// remote store and left visible on purpose.
package pathstore

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/pathstore/internal/events"
	"github.com/fruitsalade/pathstore/internal/graph"
	"github.com/fruitsalade/pathstore/internal/logging"
	"github.com/fruitsalade/pathstore/internal/metrics"
	"github.com/fruitsalade/pathstore/internal/staging"
)

// DefaultRootName is used when no root name is configured.
const DefaultRootName = "root"

// Notifier receives an event after each successful operation.
type Notifier interface {
	Publish(events.Event)
}

// Option configures a Storage.
type Option func(*Storage)

// WithRootName sets the name of the root folder.
func WithRootName(name string) Option {
	return func(s *Storage) { s.rootName = name }
}

// WithNotifier publishes operation events to n.
func WithNotifier(n Notifier) Option {
	return func(s *Storage) { s.notifier = n }
}

// Storage exposes path-based operations over a graph.Client.
type Storage struct {
	client     graph.Client
	stage      *staging.Dir
	rootName   string
	notifier   Notifier
	locator    *RootLocator
	resolver   *Resolver
	reconciler *Reconciler
}

// New creates a Storage over client, staging downloads in stage.
func New(client graph.Client, stage *staging.Dir, opts ...Option) *Storage {
	s := &Storage{
		client:   client,
		stage:    stage,
		rootName: DefaultRootName,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.locator = NewRootLocator(client, s.rootName)
	s.resolver = NewResolver(client)
	s.reconciler = NewReconciler(client)
	return s
}

// RootName returns the configured root folder name.
func (s *Storage) RootName() string { return s.rootName }

// StagingDir returns the local staging directory.
func (s *Storage) StagingDir() string { return s.stage.Root() }

func (s *Storage) finish(ctx context.Context, op, path string, start time.Time, err error) {
	metrics.RecordOperation(op, time.Since(start), err == nil)
	if err != nil {
		logging.WithContext(ctx).Warn("storage operation failed",
			logging.Op(op),
			logging.Path(path),
			zap.String("kind", KindOf(err).String()),
			zap.Error(err))
	}
}

func (s *Storage) publish(e events.Event) {
	if s.notifier != nil {
		s.notifier.Publish(e)
	}
}

// Store uploads the local file at localPath into targetFolder, which may be
// empty for the root. Missing folders are created. Existing nodes with the
// file's name in the target folder are deleted before the upload.
// Directories are rejected before any remote call.
func (s *Storage) Store(ctx context.Context, localPath, targetFolder string) (err error) {
	const op = "store"
	start := time.Now()
	defer func() { s.finish(ctx, op, targetFolder, start, err) }()

	if err := Validate(targetFolder); err != nil {
		return withOp(op, targetFolder, err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return withOp(op, localPath, localError(err, "stat local file"))
	}
	if info.IsDir() {
		return withOp(op, localPath, newError(KindInvalidArgument,
			"%s is a folder; use CreateFolder instead", info.Name()))
	}

	f, err := os.Open(localPath)
	if err != nil {
		return withOp(op, localPath, localError(err, "open local file"))
	}
	defer f.Close()

	return withOp(op, targetFolder, s.store(ctx, info.Name(), targetFolder, f, info.Size()))
}

// StoreReader uploads r as name into targetFolder with Store semantics.
// size is the content length, or -1 if unknown.
func (s *Storage) StoreReader(ctx context.Context, name, targetFolder string, r io.Reader, size int64) (err error) {
	const op = "store"
	start := time.Now()
	defer func() { s.finish(ctx, op, targetFolder, start, err) }()

	if err := validName(name); err != nil {
		return withOp(op, name, err)
	}
	if err := Validate(targetFolder); err != nil {
		return withOp(op, targetFolder, err)
	}
	return withOp(op, targetFolder, s.store(ctx, name, targetFolder, r, size))
}

func (s *Storage) store(ctx context.Context, name, targetFolder string, r io.Reader, size int64) error {
	rootID, err := s.locator.LocateRoot(ctx)
	if err != nil {
		return err
	}
	parentID, err := s.resolver.Resolve(ctx, rootID, FolderSegments(targetFolder), true)
	if err != nil {
		return err
	}

	replaced, err := s.reconciler.ReconcileByName(ctx, parentID, name)
	if err != nil {
		return err
	}

	node, err := s.client.CreateFile(ctx, name, parentID, r, size)
	if err != nil {
		var pe *os.PathError
		if errors.As(err, &pe) {
			return localError(err, "upload %q", name)
		}
		return remoteError(err, "upload %q", name)
	}

	full := joinPath(targetFolder, name)
	logging.WithContext(ctx).Info("file stored",
		logging.Path(full),
		logging.NodeID(node.ID),
		zap.Int64("size", node.Size),
		zap.Int("replaced", replaced))
	s.publish(events.Event{Type: events.EventStore, Path: full, NodeID: node.ID, Size: node.Size, Replaced: replaced})
	return nil
}

// Remove deletes every node named after the path's leaf in its parent
// folder. Missing intermediate folders are created on the way, which turns
// removal of a never-stored path into a no-op. Paths ending in a separator
// are rejected; folders go through RemoveFolder.
func (s *Storage) Remove(ctx context.Context, path string) (err error) {
	const op = "remove"
	start := time.Now()
	defer func() { s.finish(ctx, op, path, start, err) }()

	if err := Validate(path); err != nil {
		return withOp(op, path, err)
	}
	if looksLikeFolder(path) {
		return withOp(op, path, newError(KindInvalidArgument,
			"invalid path; looks like you're trying to remove a folder, use RemoveFolder instead"))
	}
	segments, leaf := SplitPath(path)
	if leaf == "" {
		return withOp(op, path, newError(KindInvalidArgument, "invalid path; the path shouldn't be empty"))
	}

	rootID, err := s.locator.LocateRoot(ctx)
	if err != nil {
		return withOp(op, path, err)
	}
	parentID, err := s.resolver.Resolve(ctx, rootID, segments, true)
	if err != nil {
		return withOp(op, path, err)
	}
	deleted, err := s.reconciler.ReconcileByName(ctx, parentID, leaf)
	if err != nil {
		return withOp(op, path, err)
	}

	logging.WithContext(ctx).Info("file removed", logging.Path(path), zap.Int("deleted", deleted))
	s.publish(events.Event{Type: events.EventRemove, Path: path, Replaced: deleted})
	return nil
}

// CreateFolder materializes every folder of path, reusing existing ones.
func (s *Storage) CreateFolder(ctx context.Context, path string) (err error) {
	const op = "create_folder"
	start := time.Now()
	defer func() { s.finish(ctx, op, path, start, err) }()

	if err := Validate(path); err != nil {
		return withOp(op, path, err)
	}
	segments := FolderSegments(path)
	if len(segments) == 0 {
		return withOp(op, path, newError(KindInvalidArgument, "invalid path; the path shouldn't be empty"))
	}

	rootID, err := s.locator.LocateRoot(ctx)
	if err != nil {
		return withOp(op, path, err)
	}
	id, err := s.resolver.Resolve(ctx, rootID, segments, true)
	if err != nil {
		return withOp(op, path, err)
	}

	logging.WithContext(ctx).Info("folder created", logging.Path(path), logging.NodeID(id))
	s.publish(events.Event{Type: events.EventCreateFolder, Path: path, NodeID: id})
	return nil
}

// RemoveFolder deletes the folder at path. An empty path is a no-op. Whether
// a non-empty folder can be deleted is up to the remote store.
func (s *Storage) RemoveFolder(ctx context.Context, path string) (err error) {
	const op = "remove_folder"
	start := time.Now()
	defer func() { s.finish(ctx, op, path, start, err) }()

	if err := Validate(path); err != nil {
		return withOp(op, path, err)
	}
	segments := FolderSegments(path)
	if len(segments) == 0 {
		return nil
	}

	rootID, err := s.locator.LocateRoot(ctx)
	if err != nil {
		return withOp(op, path, err)
	}
	id, err := s.resolver.Resolve(ctx, rootID, segments, false)
	if err != nil {
		return withOp(op, path, err)
	}
	if err := s.client.Delete(ctx, id); err != nil {
		return withOp(op, path, remoteError(err, "delete folder"))
	}

	logging.WithContext(ctx).Info("folder removed", logging.Path(path), logging.NodeID(id))
	s.publish(events.Event{Type: events.EventRemoveFolder, Path: path, NodeID: id})
	return nil
}

// FolderID resolves a folder path to its node ID without creating
// anything. The empty path resolves to the root.
func (s *Storage) FolderID(ctx context.Context, path string) (string, error) {
	const op = "resolve"
	if err := Validate(path); err != nil {
		return "", withOp(op, path, err)
	}
	rootID, err := s.locator.LocateRoot(ctx)
	if err != nil {
		return "", withOp(op, path, err)
	}
	id, err := s.resolver.Resolve(ctx, rootID, FolderSegments(path), false)
	return id, withOp(op, path, err)
}

// Retrieve downloads the file at path into the staging directory and
// returns the staged file's local path.
func (s *Storage) Retrieve(ctx context.Context, path string) (local string, err error) {
	const op = "retrieve"
	start := time.Now()
	defer func() { s.finish(ctx, op, path, start, err) }()

	local, _, err = s.retrieve(ctx, path)
	return local, withOp(op, path, err)
}

// RetrieveStream downloads the file at path into the staging directory and
// reopens the staged copy for reading. The caller closes the stream.
func (s *Storage) RetrieveStream(ctx context.Context, path string) (rc io.ReadCloser, err error) {
	const op = "retrieve"
	start := time.Now()
	defer func() { s.finish(ctx, op, path, start, err) }()

	_, name, err := s.retrieve(ctx, path)
	if err != nil {
		return nil, withOp(op, path, err)
	}
	f, err := s.stage.OpenForRead(name)
	if err != nil {
		return nil, withOp(op, path, localError(err, "reopen staged file"))
	}
	return f, nil
}

func (s *Storage) retrieve(ctx context.Context, path string) (string, string, error) {
	if err := Validate(path); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(path) == "" {
		return "", "", newError(KindInvalidArgument, "invalid path; the path shouldn't be empty")
	}
	if looksLikeFolder(path) {
		return "", "", newError(KindInvalidArgument, "invalid path; looks like you're trying to retrieve a folder")
	}
	segments, leaf := SplitPath(path)

	rootID, err := s.locator.LocateRoot(ctx)
	if err != nil {
		return "", "", err
	}
	parentID, err := s.resolver.Resolve(ctx, rootID, segments, false)
	if err != nil {
		return "", "", err
	}

	files, err := s.client.Search(ctx, graph.Query{Name: leaf, ParentID: parentID, Kind: graph.ExcludeFolders})
	if err != nil {
		return "", "", remoteError(err, "search %q", leaf)
	}
	if len(files) == 0 {
		return "", "", newError(KindNotFound, "%s doesn't exist within storage", path)
	}
	node := files[0]

	rc, err := s.client.Download(ctx, node.ID)
	if err != nil {
		return "", "", remoteError(err, "download %q", leaf)
	}
	defer rc.Close()

	src := &trackingReader{r: rc}
	local, n, err := s.stage.WriteStream(node.Name, src)
	if err != nil {
		if src.err != nil {
			return "", "", remoteError(src.err, "download %q", leaf)
		}
		return "", "", localError(err, "stage %q", leaf)
	}

	logging.WithContext(ctx).Info("file retrieved",
		logging.Path(path),
		logging.NodeID(node.ID),
		zap.String("local", local),
		zap.Int64("size", n))
	s.publish(events.Event{Type: events.EventRetrieve, Path: path, NodeID: node.ID, Size: n})
	return local, node.Name, nil
}

// Clean empties the staging directory. Remote storage is untouched.
func (s *Storage) Clean(ctx context.Context) (err error) {
	const op = "clean"
	start := time.Now()
	defer func() { s.finish(ctx, op, "", start, err) }()

	if err := s.stage.Clear(); err != nil {
		return withOp(op, s.stage.Root(), localError(err, "clean staging directory"))
	}
	logging.WithContext(ctx).Info("staging directory cleaned", zap.String("dir", s.stage.Root()))
	s.publish(events.Event{Type: events.EventClean})
	return nil
}

// trackingReader remembers the last read error so download failures can be
// told apart from local write failures.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

func joinPath(folder, name string) string {
	segs := append(FolderSegments(folder), name)
	return strings.Join(segs, Separator)
}
