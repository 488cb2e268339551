// Package server exposes the ingestion pipeline over HTTP. It is a thin
// boundary: request decoding, policy parsing, and response shaping — all
// ingestion semantics live in internal/ingest.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quarrydev/quarry/internal/database"
	"github.com/quarrydev/quarry/internal/errs"
	"github.com/quarrydev/quarry/internal/filestore"
	"github.com/quarrydev/quarry/internal/ingest"
	"github.com/quarrydev/quarry/internal/logger"
)

// maxUploadBytes caps one multipart upload.
const maxUploadBytes = 256 << 20

// maxPreviewRows caps the row-preview endpoint.
const maxPreviewRows = 1000

// Server wires the pipeline, registry, store and filestore to HTTP routes.
type Server struct {
	db       database.DB
	store    filestore.Store
	bucket   string
	registry *ingest.Registry
	pipeline *ingest.Pipeline
	defaults ingest.Defaults
	log      *logger.Logger
}

// New returns a Server. store may be nil when remote ingestion is disabled.
// defaults supplies the policies used when a request's query params leave
// them out.
func New(db database.DB, store filestore.Store, bucket string,
	registry *ingest.Registry, pipeline *ingest.Pipeline,
	defaults ingest.Defaults, log *logger.Logger) *Server {
	return &Server{
		db:       db,
		store:    store,
		bucket:   bucket,
		registry: registry,
		pipeline: pipeline,
		defaults: defaults,
		log:      log,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleUpload)
		r.Post("/ingest/remote", s.handleRemote)
		r.Get("/sources", s.handleListSources)
		r.Get("/sources/{id}", s.handleGetSource)
		r.Get("/tables", s.handleListTables)
		r.Get("/tables/{table}", s.handleInspectTable)
		r.Get("/tables/{table}/rows", s.handlePreviewRows)
	})

	return r
}

// --- ingestion handlers ---

// handleUpload ingests one uploaded file. Policies come from query params:
// ?table=&conflict=&nullability=&mode=&type=.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	freq, ok := s.fileRequestFromQuery(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, `missing form field "file"`)
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "quarry-upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot spool upload")
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeError(w, http.StatusInternalServerError, "cannot spool upload")
		return
	}
	tmp.Close()
	freq.Path = tmp.Name()

	rec := &ingest.SourceRecord{
		ID:          header.Filename,
		DisplayName: header.Filename,
		Origin:      "upload",
	}
	outcome, err := s.processOne(r.Context(), freq, rec)
	if err != nil {
		writeErrsError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

type remoteRequest struct {
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// handleRemote ingests every object under a bucket prefix, one source at a
// time in listing order. Per-source failures never abort the run; a store
// listing failure does.
func (s *Server) handleRemote(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "no file store configured")
		return
	}

	freq, ok := s.fileRequestFromQuery(w, r)
	if !ok {
		return
	}

	var req remoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = s.bucket
	}
	if bucket == "" {
		writeError(w, http.StatusBadRequest, "no bucket given and no default configured")
		return
	}

	files, err := filestore.Walk(r.Context(), s.store, bucket, filestore.WalkOptions{Prefix: req.Prefix})
	if err != nil {
		writeErrsError(w, err)
		return
	}

	outcomes := make([]ingest.Outcome, 0, len(files))
	for _, obj := range files {
		rec := &ingest.SourceRecord{
			ID:          bucket + "/" + obj.Key,
			DisplayName: filepath.Base(obj.Key),
			Origin:      "s3://" + bucket + "/" + obj.Key,
		}

		// An explicit table override only makes sense for a single source.
		perFile := freq
		perFile.TableName = ""

		local, err := filestore.DownloadTemp(r.Context(), s.store, bucket, obj.Key)
		if err != nil {
			if regErr := s.registry.Register(r.Context(), rec); regErr != nil {
				writeErrsError(w, regErr)
				return
			}
			outcome, abortErr := s.pipeline.Abort(r.Context(), rec, err)
			if abortErr != nil {
				writeErrsError(w, abortErr)
				return
			}
			outcomes = append(outcomes, outcome)
			continue
		}

		perFile.Path = local
		outcome, err := s.processOne(r.Context(), perFile, rec)
		os.Remove(local)
		if err != nil {
			writeErrsError(w, err)
			return
		}
		outcomes = append(outcomes, outcome)
	}

	writeJSON(w, http.StatusOK, outcomes)
}

// processOne registers the source and runs the pipeline, enforcing the
// caller-side single-writer rule: a source still marked processing is not
// re-ingested concurrently.
func (s *Server) processOne(ctx context.Context, freq ingest.FileRequest, rec *ingest.SourceRecord) (ingest.Outcome, error) {
	existing, err := s.registry.Get(ctx, rec.ID)
	if err != nil && !errs.IsNotFound(err) {
		return ingest.Outcome{}, err
	}
	if existing != nil && existing.Status == ingest.StatusProcessing {
		return ingest.Outcome{}, errs.New(errs.ErrKindConflict,
			"source is already being processed")
	}

	if err := s.registry.Register(ctx, rec); err != nil {
		return ingest.Outcome{}, err
	}

	return s.pipeline.IngestFile(ctx, freq, rec)
}

// fileRequestFromQuery parses the shared policy query parameters, falling
// back to the configured defaults for absent ones. On a bad value it writes
// the error response and returns ok=false.
func (s *Server) fileRequestFromQuery(w http.ResponseWriter, r *http.Request) (ingest.FileRequest, bool) {
	q := r.URL.Query()

	conflict, err := ingest.ParseConflictPolicy(orDefault(q.Get("conflict"), string(s.defaults.Conflict)))
	if err != nil {
		writeErrsError(w, err)
		return ingest.FileRequest{}, false
	}
	nullability, err := ingest.ParseNullabilityPolicy(orDefault(q.Get("nullability"), string(s.defaults.Nullability)))
	if err != nil {
		writeErrsError(w, err)
		return ingest.FileRequest{}, false
	}
	mode, err := ingest.ParseStrictness(orDefault(q.Get("mode"), string(s.defaults.Mode)))
	if err != nil {
		writeErrsError(w, err)
		return ingest.FileRequest{}, false
	}

	return ingest.FileRequest{
		TypeOverride: q.Get("type"),
		TableName:    q.Get("table"),
		Conflict:     conflict,
		Nullability:  nullability,
		Mode:         mode,
	}, true
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// --- read handlers ---

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.List(r.Context())
	if err != nil {
		writeErrsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErrsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.db.ListTables(r.Context())
	if err != nil {
		writeErrsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (s *Server) handleInspectTable(w http.ResponseWriter, r *http.Request) {
	cols, err := s.db.InspectTable(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		writeErrsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

func (s *Server) handlePreviewRows(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit > maxPreviewRows {
		limit = maxPreviewRows
	}
	offset := queryInt(r, "offset", 0)

	sql, args, err := database.Select(chi.URLParam(r, "table"), s.db.Dialect()).
		Limit(limit).
		Offset(offset).
		Build()
	if err != nil {
		writeErrsError(w, err)
		return
	}

	rows, err := s.db.Query(r.Context(), sql, args...)
	if err != nil {
		writeErrsError(w, err)
		return
	}
	result, err := database.ScanRows(rows)
	if err != nil {
		writeErrsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- response helpers ---

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErrsError maps the errs taxonomy onto HTTP status codes.
func writeErrsError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsNotFound(err):
		status = http.StatusNotFound
	case errs.IsInvalidInput(err):
		status = http.StatusBadRequest
	case errs.IsConflict(err):
		status = http.StatusConflict
	case errs.IsPermissionDenied(err):
		status = http.StatusForbidden
	case errs.IsTimeout(err):
		status = http.StatusGatewayTimeout
	case errs.IsConnectionFailed(err):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}
