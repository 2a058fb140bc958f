// Package api exposes Storage operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/pathstore/internal/auth"
	"github.com/fruitsalade/pathstore/internal/events"
	"github.com/fruitsalade/pathstore/internal/logging"
	"github.com/fruitsalade/pathstore/internal/metrics"
	"github.com/fruitsalade/pathstore/internal/pathstore"
)

// Server is the pathstore HTTP server.
type Server struct {
	storage       *pathstore.Storage
	broadcaster   *events.Broadcaster
	jwt           *auth.JWT
	maxUploadSize int64
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  int    `json:"code"`
}

// NewServer creates a server. jwt may be nil to serve without authentication.
func NewServer(storage *pathstore.Storage, broadcaster *events.Broadcaster, jwt *auth.JWT, maxUploadSize int64) *Server {
	return &Server{
		storage:       storage,
		broadcaster:   broadcaster,
		jwt:           jwt,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)

	protected := http.NewServeMux()

	protected.HandleFunc("PUT /api/v1/files/{path...}", s.handleStore)
	protected.HandleFunc("GET /api/v1/files/{path...}", s.handleRetrieve)
	protected.HandleFunc("DELETE /api/v1/files/{path...}", s.handleRemove)

	protected.HandleFunc("GET /api/v1/folders/{path...}", s.handleFolderID)
	protected.HandleFunc("POST /api/v1/folders/{path...}", s.handleCreateFolder)
	protected.HandleFunc("DELETE /api/v1/folders/{path...}", s.handleRemoveFolder)

	protected.HandleFunc("POST /api/v1/staging/clean", s.handleClean)

	if s.broadcaster != nil {
		protected.HandleFunc("GET /api/v1/events", s.handleEvents)
	}

	if s.jwt != nil {
		mux.Handle("/api/v1/", s.jwt.Middleware(protected))
	} else {
		mux.Handle("/api/v1/", protected)
	}

	return metrics.Middleware(routeLabel, logging.Middleware(mux))
}

// routeLabel keeps metric cardinality bounded by dropping the path tail.
func routeLabel(r *http.Request) string {
	for _, prefix := range []string{"/api/v1/files", "/api/v1/folders"} {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return prefix
		}
	}
	return r.URL.Path
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "root": s.storage.RootName()})
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	segments, name := pathstore.SplitPath(p)
	if name == "" || strings.HasSuffix(p, pathstore.Separator) {
		s.sendError(w, http.StatusBadRequest, "file path required")
		return
	}

	if r.ContentLength > s.maxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large (max %d bytes)", s.maxUploadSize))
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	defer body.Close()

	folder := strings.Join(segments, pathstore.Separator)
	if err := s.storage.StoreReader(r.Context(), name, folder, body, r.ContentLength); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large (max %d bytes)", s.maxUploadSize))
			return
		}
		s.sendStorageError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"path": strings.Join(append(segments, name), pathstore.Separator)})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	rc, err := s.storage.RetrieveStream(r.Context(), p)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	defer rc.Close()

	_, name := pathstore.SplitPath(p)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if f, ok := rc.(*os.File); ok {
		if st, err := f.Stat(); err == nil {
			w.Header().Set("Content-Length", strconv.FormatInt(st.Size(), 10))
		}
	}
	if _, err := io.Copy(w, rc); err != nil {
		logging.WithContext(r.Context()).Warn("content transfer interrupted", logging.Path(p), zap.Error(err))
	}
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Remove(r.Context(), r.PathValue("path")); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFolderID(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	id, err := s.storage.FolderID(r.Context(), p)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"path": p, "id": id})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	if err := s.storage.CreateFolder(r.Context(), p); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"path": p})
}

func (s *Server) handleRemoveFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.RemoveFolder(r.Context(), r.PathValue("path")); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Clean(r.Context()); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := s.broadcaster.Subscribe(eventFilter(r))
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// eventFilter reads ?prefix= and a comma-separated ?type= from the query.
func eventFilter(r *http.Request) events.Filter {
	q := r.URL.Query()
	f := events.Filter{Prefix: q.Get("prefix")}
	for _, t := range strings.Split(q.Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Types = append(f.Types, t)
		}
	}
	return f
}

// statusFor maps a storage error kind to an HTTP status.
func statusFor(kind pathstore.ErrorKind) int {
	switch kind {
	case pathstore.KindInvalidArgument:
		return http.StatusBadRequest
	case pathstore.KindNotFound:
		return http.StatusNotFound
	case pathstore.KindRemoteOperation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendStorageError(w http.ResponseWriter, r *http.Request, err error) {
	kind := pathstore.KindOf(err)
	code := statusFor(kind)
	if code >= 500 {
		logging.WithContext(r.Context()).Error("storage operation failed", zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Kind: kind.String(), Code: code})
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}
