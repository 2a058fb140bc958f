package pathstore

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/pathstore/internal/graph"
	"github.com/fruitsalade/pathstore/internal/logging"
	"github.com/fruitsalade/pathstore/internal/metrics"
)

// RootLocator finds the configured root folder by name.
type RootLocator struct {
	client graph.Client
	name   string
}

// NewRootLocator returns a locator for the root named name.
func NewRootLocator(client graph.Client, name string) *RootLocator {
	return &RootLocator{client: client, name: name}
}

// LocateRoot searches for non-trashed nodes named after the root, with no
// parent constraint. If several exist, the first in store order wins.
func (l *RootLocator) LocateRoot(ctx context.Context) (string, error) {
	nodes, err := l.client.Search(ctx, graph.Query{Name: l.name, Kind: graph.AnyKind})
	if err != nil {
		return "", remoteError(err, "search root %q", l.name)
	}
	if len(nodes) == 0 {
		return "", newError(KindConfiguration, "%s doesn't exist as a root storage", l.name)
	}
	if len(nodes) > 1 {
		logging.WithContext(ctx).Debug("multiple roots found, using first",
			zap.String("root", l.name), zap.Int("count", len(nodes)))
	}
	return nodes[0].ID, nil
}

// Resolver walks folder segments from a parent node.
type Resolver struct {
	client graph.Client
}

// NewResolver returns a resolver over client.
func NewResolver(client graph.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve walks segments left to right starting at parentID and returns the
// ID of the last folder. Each step takes the first folder with the segment's
// name. A missing folder is created when createMissing is set; otherwise the
// whole call fails with KindNotFound. No segments returns parentID.
func (r *Resolver) Resolve(ctx context.Context, parentID string, segments []string, createMissing bool) (string, error) {
	current := parentID
	for i, seg := range segments {
		nodes, err := r.client.Search(ctx, graph.Query{Name: seg, ParentID: current, Kind: graph.OnlyFolders})
		if err != nil {
			return "", remoteError(err, "search folder %q", seg)
		}
		if len(nodes) > 0 {
			current = nodes[0].ID
			continue
		}
		if !createMissing {
			return "", newError(KindNotFound, "%s doesn't exist within storage", strings.Join(segments[:i+1], Separator))
		}

		created, err := r.client.CreateFolder(ctx, seg, current)
		if err != nil {
			return "", remoteError(err, "create folder %q", seg)
		}
		metrics.RecordFolderCreated()
		logging.WithContext(ctx).Debug("created folder",
			zap.String("name", seg), zap.String("parent_id", current), logging.NodeID(created.ID))
		current = created.ID
	}
	return current, nil
}

// Reconciler removes same-named siblings ahead of a replacement.
type Reconciler struct {
	client graph.Client
}

// NewReconciler returns a reconciler over client.
func NewReconciler(client graph.Client) *Reconciler {
	return &Reconciler{client: client}
}

// ReconcileByName deletes every non-trashed node named name directly under
// parentID, files and folders alike, and returns how many were deleted.
// Deletion is permanent. The first failure aborts the sweep.
func (r *Reconciler) ReconcileByName(ctx context.Context, parentID, name string) (int, error) {
	nodes, err := r.client.Search(ctx, graph.Query{Name: name, ParentID: parentID, Kind: graph.AnyKind})
	if err != nil {
		return 0, remoteError(err, "search %q", name)
	}

	deleted := 0
	for _, n := range nodes {
		if err := r.client.Delete(ctx, n.ID); err != nil {
			metrics.RecordReconciled(deleted)
			return deleted, remoteError(err, "delete %q (%s)", name, n.ID)
		}
		deleted++
	}
	metrics.RecordReconciled(deleted)
	return deleted, nil
}
