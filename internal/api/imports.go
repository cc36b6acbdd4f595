package api

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"catalog-import-service/internal/telemetry"
)

const uploadField = "file"

type importResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

// handleImport stores an uploaded CSV and submits a catalog_import job. The
// caller gets the job id immediately and polls /jobs/{id}.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if !s.admitUpload(w, r) {
		return
	}

	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = 64 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("upload exceeds %d bytes", limit)})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "expected multipart form with a file field"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "file is required"})
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "only .csv files are accepted"})
		return
	}

	path, err := s.deps.Uploads.Save(r.Context(), header.Filename, file)
	if err != nil {
		s.writeError(w, fmt.Errorf("store upload: %w", err))
		return
	}

	job, err := s.deps.Jobs.SubmitImport(r.Context(), path)
	if err != nil {
		s.writeError(w, fmt.Errorf("submit import: %w", err))
		return
	}
	s.log.Info("import accepted", zap.String("job_id", job.ID), zap.String("filepath", path), zap.Int64("bytes", header.Size))
	writeJSON(w, http.StatusAccepted, importResponse{JobID: job.ID, StatusURL: "/jobs/" + job.ID})
}

// admitUpload applies the per-client upload limit. A limiter outage fails open
// so imports keep flowing when Redis is briefly unavailable.
func (s *Server) admitUpload(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Limiter == nil {
		return true
	}
	d, err := s.deps.Limiter.Allow(r.Context(), clientKey(r))
	if err != nil {
		s.log.Warn("rate limiter unavailable", zap.Error(err))
		return true
	}
	if d.Allowed {
		return true
	}
	telemetry.RateLimitRejects.Inc()
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
	}
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many uploads, retry later"})
	return false
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	count := intQuery(r, "limit")
	if count <= 0 || count > 1000 {
		count = 100
	}
	ids, err := s.deps.Jobs.Failed(r.Context(), int64(count))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": ids})
}
