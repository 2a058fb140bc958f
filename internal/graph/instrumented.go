package graph

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/pathstore/internal/logging"
	"github.com/fruitsalade/pathstore/internal/metrics"
)

// Instrumented wraps a Client with per-call metrics and debug logging.
type Instrumented struct {
	Client
	backend string
}

// Instrument returns c wrapped with metrics. backend labels log entries.
func Instrument(c Client, backend string) *Instrumented {
	return &Instrumented{Client: c, backend: backend}
}

func (i *Instrumented) observe(ctx context.Context, call string, start time.Time, err error, fields ...zap.Field) {
	metrics.RecordRemoteCall(call, time.Since(start), err == nil)
	fields = append(fields,
		zap.String("backend", i.backend),
		zap.String("call", call),
		zap.Duration("duration", time.Since(start)))
	if err != nil {
		logging.WithContext(ctx).Debug("remote call failed", append(fields, zap.Error(err))...)
		return
	}
	logging.WithContext(ctx).Debug("remote call", fields...)
}

// Search records and forwards a search.
func (i *Instrumented) Search(ctx context.Context, q Query) ([]Node, error) {
	start := time.Now()
	nodes, err := i.Client.Search(ctx, q)
	i.observe(ctx, "search", start, err,
		zap.String("name", q.Name),
		zap.String("parent_id", q.ParentID),
		zap.Int("results", len(nodes)))
	return nodes, err
}

// CreateFolder records and forwards a folder creation.
func (i *Instrumented) CreateFolder(ctx context.Context, name, parentID string) (Node, error) {
	start := time.Now()
	n, err := i.Client.CreateFolder(ctx, name, parentID)
	i.observe(ctx, "create_folder", start, err, zap.String("name", name), zap.String("parent_id", parentID))
	return n, err
}

// CreateFile records and forwards a file upload.
func (i *Instrumented) CreateFile(ctx context.Context, name, parentID string, content io.Reader, size int64) (Node, error) {
	start := time.Now()
	n, err := i.Client.CreateFile(ctx, name, parentID, content, size)
	i.observe(ctx, "create_file", start, err, zap.String("name", name), zap.Int64("size", size))
	if err == nil && size > 0 {
		metrics.RecordUploaded(size)
	}
	return n, err
}

// Delete records and forwards a deletion.
func (i *Instrumented) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := i.Client.Delete(ctx, id)
	i.observe(ctx, "delete", start, err, logging.NodeID(id))
	return err
}

// Download records and forwards a download request. Only the time to
// open the stream is measured.
func (i *Instrumented) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := i.Client.Download(ctx, id)
	i.observe(ctx, "download", start, err, logging.NodeID(id))
	return rc, err
}
