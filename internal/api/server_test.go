package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/pathstore/internal/auth"
	"github.com/fruitsalade/pathstore/internal/events"
	"github.com/fruitsalade/pathstore/internal/graph/memgraph"
	"github.com/fruitsalade/pathstore/internal/logging"
	"github.com/fruitsalade/pathstore/internal/pathstore"
	"github.com/fruitsalade/pathstore/internal/staging"
)

type testEnv struct {
	srv   *httptest.Server
	store *memgraph.Store
	root  string
	stage *staging.Dir
}

func newTestEnv(t *testing.T, jwt *auth.JWT, maxUpload int64) *testEnv {
	t.Helper()
	logging.InitNop()

	store := memgraph.New()
	root := store.AddRoot("root")
	stage, err := staging.New(filepath.Join(t.TempDir(), "staging"))
	if err != nil {
		t.Fatal(err)
	}
	b := events.NewBroadcaster()
	storage := pathstore.New(store, stage, pathstore.WithNotifier(b))

	srv := httptest.NewServer(NewServer(storage, b, jwt, maxUpload).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, root: root, stage: stage}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return er
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil, 1024)
	resp := e.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" || body["root"] != "root" {
		t.Errorf("unexpected body %v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestFileRoundTrip(t *testing.T) {
	e := newTestEnv(t, nil, 1024)

	resp := e.do(t, http.MethodPut, "/api/v1/files/docs/notes/a.txt", "first")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("store status = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodPut, "/api/v1/files/docs/notes/a.txt", "second")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("overwrite status = %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodGet, "/api/v1/files/docs/notes/a.txt", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retrieve status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "second" {
		t.Errorf("got %q, want %q", data, "second")
	}
	if _, err := os.Stat(filepath.Join(e.stage.Root(), "a.txt")); err != nil {
		t.Errorf("expected staged copy: %v", err)
	}

	resp = e.do(t, http.MethodDelete, "/api/v1/files/docs/notes/a.txt", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove status = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodGet, "/api/v1/files/docs/notes/a.txt", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after remove, got %d", resp.StatusCode)
	}
	if er := decodeError(t, resp); er.Kind != "not_found" {
		t.Errorf("kind = %q", er.Kind)
	}
}

func TestFolders(t *testing.T) {
	e := newTestEnv(t, nil, 1024)

	resp := e.do(t, http.MethodPost, "/api/v1/folders/a/b", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodPost, "/api/v1/folders/a/b", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second create status = %d", resp.StatusCode)
	}
	if n := len(e.store.Children(e.root)); n != 1 {
		t.Errorf("expected a single folder under root, got %d", n)
	}

	resp = e.do(t, http.MethodGet, "/api/v1/folders/a/b", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lookup status = %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["id"] == "" {
		t.Error("missing folder id")
	}

	resp = e.do(t, http.MethodDelete, "/api/v1/folders/a/b", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove status = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodDelete, "/api/v1/folders/a/b", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRemoveNonEmptyFolder(t *testing.T) {
	e := newTestEnv(t, nil, 1024)

	e.do(t, http.MethodPut, "/api/v1/files/docs/a.txt", "x")
	resp := e.do(t, http.MethodDelete, "/api/v1/folders/docs", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if er := decodeError(t, resp); er.Kind != "remote_operation" {
		t.Errorf("kind = %q", er.Kind)
	}
}

func TestBadRequests(t *testing.T) {
	e := newTestEnv(t, nil, 1024)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"store folder path", http.MethodPut, "/api/v1/files/docs/", http.StatusBadRequest},
		{"retrieve folder path", http.MethodGet, "/api/v1/files/docs/", http.StatusBadRequest},
		{"control character", http.MethodPost, "/api/v1/folders/a%01b", http.StatusBadRequest},
		{"missing folder", http.MethodGet, "/api/v1/folders/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, tt.method, tt.path, "x")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	e := newTestEnv(t, nil, 4)

	resp := e.do(t, http.MethodPut, "/api/v1/files/big.bin", "0123456789")
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if n := len(e.store.Children(e.root)); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestClean(t *testing.T) {
	e := newTestEnv(t, nil, 1024)

	e.do(t, http.MethodPut, "/api/v1/files/a.txt", "x")
	e.do(t, http.MethodGet, "/api/v1/files/a.txt", "")

	resp := e.do(t, http.MethodPost, "/api/v1/staging/clean", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	entries, _ := os.ReadDir(e.stage.Root())
	if len(entries) != 0 {
		t.Errorf("staging not empty: %d entries", len(entries))
	}
}

func TestAuthRequired(t *testing.T) {
	j := auth.NewJWT("test-secret")
	e := newTestEnv(t, j, 1024)

	resp := e.do(t, http.MethodPost, "/api/v1/folders/a", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should be public, got %d", resp.StatusCode)
	}

	token, _, err := j.Issue("tester", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	resp = e.do(t, http.MethodPost, "/api/v1/folders/a", "", "Authorization", "Bearer "+token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t, nil, 1024)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/api/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The subscription is registered before the headers are flushed.
	e.do(t, http.MethodPost, "/api/v1/folders/docs", "")

	sc := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimPrefix(line, "data: ")
		}
		if dataLine != "" {
			break
		}
	}
	if eventLine != events.EventCreateFolder {
		t.Fatalf("event = %q", eventLine)
	}
	var ev events.Event
	if err := json.Unmarshal([]byte(dataLine), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Path != "docs" {
		t.Errorf("path = %q", ev.Path)
	}
}

func TestEventStreamFilter(t *testing.T) {
	e := newTestEnv(t, nil, 1024)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		e.srv.URL+"/api/v1/events?prefix=docs&type=mkdir", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	e.do(t, http.MethodPost, "/api/v1/folders/other", "")
	e.do(t, http.MethodPut, "/api/v1/files/docs/a.txt", "x")
	e.do(t, http.MethodPost, "/api/v1/folders/docs/sub", "")

	sc := bufio.NewScanner(resp.Body)
	var dataLine string
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	var ev events.Event
	if err := json.Unmarshal([]byte(dataLine), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != events.EventCreateFolder || ev.Path != "docs/sub" {
		t.Errorf("first delivered event = %+v, want mkdir docs/sub", ev)
	}
}
