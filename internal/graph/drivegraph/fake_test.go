package drivegraph

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/pathstore/internal/graph"
)

type fakeFile struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType,omitempty"`
	Parents      []string `json:"parents,omitempty"`
	Trashed      bool     `json:"trashed,omitempty"`
	Size         string   `json:"size,omitempty"`
	ModifiedTime string   `json:"modifiedTime,omitempty"`

	content []byte
}

// fakeDrive is a minimal in-memory Drive v3 server covering the calls the
// client makes.
type fakeDrive struct {
	mu      sync.Mutex
	files   map[string]*fakeFile
	order   []string
	queries []string

	// failNext makes the next n requests fail with failCode.
	failNext int
	failCode int
	requests int
	pageSize int
}

func newFakeDrive() (*fakeDrive, *httptest.Server) {
	fd := &fakeDrive{files: make(map[string]*fakeFile), pageSize: 2}
	return fd, httptest.NewServer(fd)
}

func (fd *fakeDrive) add(name, mimeType string, parents ...string) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.insert(&fakeFile{Name: name, MimeType: mimeType, Parents: parents})
}

func (fd *fakeDrive) insert(f *fakeFile) string {
	f.ID = uuid.NewString()
	f.ModifiedTime = time.Now().UTC().Format(time.RFC3339)
	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}
	if f.MimeType != graph.FolderMimeType {
		f.Size = strconv.Itoa(len(f.content))
	}
	fd.files[f.ID] = f
	fd.order = append(fd.order, f.ID)
	return f.ID
}

func (fd *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.requests++
	if fd.failNext > 0 {
		fd.failNext--
		writeError(w, fd.failCode, "injected failure")
		return
	}

	idx := strings.LastIndex(r.URL.Path, "/files")
	if idx < 0 {
		writeError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path[idx+len("/files"):], "/")

	switch {
	case r.Method == http.MethodGet && id == "":
		fd.list(w, r)
	case r.Method == http.MethodPost && id == "":
		fd.create(w, r)
	case r.Method == http.MethodDelete && id != "":
		fd.delete(w, id)
	case r.Method == http.MethodGet && id != "":
		fd.get(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, r.Method+" "+r.URL.Path)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, msg)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "'")
	s = strings.TrimSuffix(s, "'")
	s = strings.ReplaceAll(s, `\'`, `'`)
	return strings.ReplaceAll(s, `\\`, `\`)
}

// matches evaluates the subset of the Drive query language BuildQuery emits.
func matches(f *fakeFile, q string) bool {
	for _, clause := range strings.Split(q, " and ") {
		switch {
		case clause == "trashed = false":
			if f.Trashed {
				return false
			}
		case strings.HasPrefix(clause, "name = "):
			if f.Name != unquote(strings.TrimPrefix(clause, "name = ")) {
				return false
			}
		case strings.HasPrefix(clause, "mimeType != "):
			if f.MimeType == unquote(strings.TrimPrefix(clause, "mimeType != ")) {
				return false
			}
		case strings.HasPrefix(clause, "mimeType = "):
			if f.MimeType != unquote(strings.TrimPrefix(clause, "mimeType = ")) {
				return false
			}
		case strings.HasSuffix(clause, " in parents"):
			parent := unquote(strings.TrimSuffix(clause, " in parents"))
			found := false
			for _, p := range f.Parents {
				found = found || p == parent
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (fd *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	fd.queries = append(fd.queries, q)

	var all []*fakeFile
	for _, id := range fd.order {
		if f := fd.files[id]; f != nil && matches(f, q) {
			all = append(all, f)
		}
	}

	start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	end := start + fd.pageSize
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	} else {
		end = len(all)
	}
	if start > end {
		start = end
	}
	writeJSON(w, map[string]any{"files": all[start:end], "nextPageToken": next})
}

func (fd *fakeDrive) create(w http.ResponseWriter, r *http.Request) {
	f := &fakeFile{}
	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r.Body, params["boundary"])
		meta, err := mr.NextPart()
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing metadata part")
			return
		}
		if err := json.NewDecoder(meta).Decode(f); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		media, err := mr.NextPart()
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing media part")
			return
		}
		f.content, _ = io.ReadAll(media)
	} else if err := json.NewDecoder(r.Body).Decode(f); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, p := range f.Parents {
		if fd.files[p] == nil {
			writeError(w, http.StatusNotFound, "parent not found")
			return
		}
	}
	fd.insert(f)
	writeJSON(w, f)
}

func (fd *fakeDrive) delete(w http.ResponseWriter, id string) {
	if fd.files[id] == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	fd.deleteRecursive(id)
	w.WriteHeader(http.StatusNoContent)
}

func (fd *fakeDrive) deleteRecursive(id string) {
	delete(fd.files, id)
	for cid, f := range fd.files {
		for _, p := range f.Parents {
			if p == id {
				fd.deleteRecursive(cid)
				break
			}
		}
	}
}

func (fd *fakeDrive) get(w http.ResponseWriter, r *http.Request, id string) {
	f := fd.files[id]
	if f == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if r.URL.Query().Get("alt") != "media" {
		writeJSON(w, f)
		return
	}
	if f.MimeType == graph.FolderMimeType {
		writeError(w, http.StatusForbidden, "folders have no content")
		return
	}
	w.Header().Set("Content-Type", f.MimeType)
	w.Write(f.content)
}

func (fd *fakeDrive) childCount(id string) int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	n := 0
	for _, f := range fd.files {
		for _, p := range f.Parents {
			if p == id {
				n++
			}
		}
	}
	return n
}

func (fd *fakeDrive) fileCount() int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return len(fd.files)
}

func (fd *fakeDrive) requestCount() int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.requests
}

func (fd *fakeDrive) queryCount() int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return len(fd.queries)
}
