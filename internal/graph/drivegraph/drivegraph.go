// Package drivegraph adapts the Google Drive v3 API to graph.Client.
//
// Drive is the store the path model was built for: files and folders are
// nodes with parent IDs, sibling names are not unique, and folders are files
// with the folder MIME type. Delete is permanent and recursive on the Drive
// side.
package drivegraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/fruitsalade/pathstore/internal/graph"
	"github.com/fruitsalade/pathstore/internal/logging"
	"github.com/fruitsalade/pathstore/internal/retry"
)

const fileFields = "id, name, mimeType, parents, trashed, size, modifiedTime"

// Config holds Drive client settings.
type Config struct {
	// TokenSource supplies access tokens. Ignored when HTTPClient is set.
	TokenSource oauth2.TokenSource
	// HTTPClient overrides the authenticated transport.
	HTTPClient *http.Client
	// Endpoint overrides the Drive API base URL.
	Endpoint string
	// Retry governs retries of rate-limited and 5xx responses. A zero
	// MaxAttempts selects retry.DefaultConfig.
	Retry retry.Config
}

// Client is a graph.Client over Drive.
type Client struct {
	svc   *drive.Service
	retry retry.Config
}

var _ graph.Client = (*Client)(nil)

// New creates a Drive client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(cfg.TokenSource))
	default:
		return nil, errors.New("drive: a token source or HTTP client is required")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	rc := cfg.Retry
	if rc.MaxAttempts == 0 {
		rc = retry.DefaultConfig()
	}
	rc.OnRetry = func(attempt int, wait time.Duration, err error) {
		logging.Warn("drive call failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
	return &Client{svc: svc, retry: rc}, nil
}

// Close is a no-op.
func (c *Client) Close() error { return nil }

// escape quotes a value for a Drive query string literal.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// BuildQuery renders q in Drive's search syntax.
func BuildQuery(q graph.Query) string {
	clauses := []string{fmt.Sprintf("name = '%s'", escape(q.Name))}
	if q.ParentID != "" {
		clauses = append(clauses, fmt.Sprintf("'%s' in parents", escape(q.ParentID)))
	}
	switch q.Kind {
	case graph.OnlyFolders:
		clauses = append(clauses, fmt.Sprintf("mimeType = '%s'", graph.FolderMimeType))
	case graph.ExcludeFolders:
		clauses = append(clauses, fmt.Sprintf("mimeType != '%s'", graph.FolderMimeType))
	}
	clauses = append(clauses, "trashed = false")
	return strings.Join(clauses, " and ")
}

// classify marks rate limiting and server errors as retryable.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500) {
		return retry.Retryable(err)
	}
	return err
}

func toNode(f *drive.File) graph.Node {
	n := graph.Node{
		ID:      f.Id,
		Name:    f.Name,
		Kind:    graph.KindFile,
		Parents: f.Parents,
		Trashed: f.Trashed,
		Size:    f.Size,
	}
	if f.MimeType == graph.FolderMimeType {
		n.Kind = graph.KindFolder
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		n.ModTime = t
	}
	return n
}

// Search lists all pages of matching files in service order.
func (c *Client) Search(ctx context.Context, q graph.Query) ([]graph.Node, error) {
	query := BuildQuery(q)
	var out []graph.Node
	pageToken := ""
	for {
		call := c.svc.Files.List().
			Q(query).
			Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := retry.DoWithResult(ctx, c.retry, func() (*drive.FileList, error) {
			l, err := call.Do()
			return l, classify(err)
		})
		if err != nil {
			return nil, fmt.Errorf("list files (%s): %w", query, err)
		}
		for _, f := range list.Files {
			out = append(out, toNode(f))
		}
		if list.NextPageToken == "" {
			return out, nil
		}
		pageToken = list.NextPageToken
	}
}

// CreateFolder creates a folder under parentID.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (graph.Node, error) {
	meta := &drive.File{
		Name:     name,
		MimeType: graph.FolderMimeType,
		Parents:  []string{parentID},
	}
	f, err := retry.DoWithResult(ctx, c.retry, func() (*drive.File, error) {
		f, err := c.svc.Files.Create(meta).Fields(fileFields).Context(ctx).Do()
		return f, classify(err)
	})
	if err != nil {
		return graph.Node{}, fmt.Errorf("create folder %q: %w", name, err)
	}
	return toNode(f), nil
}

// CreateFile uploads content in a single request. Uploads are not retried
// since the content stream cannot be replayed.
func (c *Client) CreateFile(ctx context.Context, name, parentID string, content io.Reader, size int64) (graph.Node, error) {
	meta := &drive.File{
		Name:    name,
		Parents: []string{parentID},
	}
	f, err := c.svc.Files.Create(meta).
		Media(content, googleapi.ChunkSize(0)).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return graph.Node{}, fmt.Errorf("upload %q: %w", name, err)
	}
	logging.WithContext(ctx).Debug("uploaded to drive",
		zap.String("name", name), logging.NodeID(f.Id), zap.Int64("size", f.Size))
	return toNode(f), nil
}

// Delete permanently deletes a node, bypassing the trash.
func (c *Client) Delete(ctx context.Context, id string) error {
	err := retry.Do(ctx, c.retry, func() error {
		return classify(c.svc.Files.Delete(id).Context(ctx).Do())
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Download streams a file's content.
func (c *Client) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := retry.DoWithResult(ctx, c.retry, func() (*http.Response, error) {
		r, err := c.svc.Files.Get(id).Context(ctx).Download()
		return r, classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	return resp.Body, nil
}
