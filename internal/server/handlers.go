package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/vecindex/internal/models"
	"github.com/hyperjump/vecindex/internal/storage"
)

// searchRequest is the body of POST /api/v1/search. Omitted top_k and threshold take the
// configured defaults.
type searchRequest struct {
	QueryVector         []float32 `json:"query_vector"`
	DocumentID          string    `json:"document_id,omitempty"`
	DocumentIDs         []string  `json:"document_ids,omitempty"`
	TopK                *int      `json:"top_k,omitempty"`
	SimilarityThreshold *float64  `json:"similarity_threshold,omitempty"`
	IncludeVectors      bool      `json:"include_vectors,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	query := &models.SearchQuery{
		QueryVector:         req.QueryVector,
		DocumentID:          req.DocumentID,
		DocumentIDs:         req.DocumentIDs,
		TopK:                s.config.Search.DefaultTopK,
		SimilarityThreshold: s.config.Search.DefaultThreshold,
		IncludeVectors:      req.IncludeVectors,
	}
	if req.TopK != nil {
		query.TopK = *req.TopK
	}
	if req.SimilarityThreshold != nil {
		query.SimilarityThreshold = *req.SimilarityThreshold
	}
	s.logger.Debug("search request",
		zap.Int("dimension", len(query.QueryVector)),
		zap.String("document_id", query.DocumentID),
		zap.Int("top_k", query.TopK),
	)
	response, err := s.engine.Search(r.Context(), query)
	if err != nil {
		s.respondErr(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleInsertVectors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var batch models.DocumentBatch
	if !s.decode(w, r, &batch) {
		return
	}
	if batch.DocumentID != "" && batch.DocumentID != id {
		s.respondError(w, http.StatusBadRequest, models.KindOf(models.ErrInvalidArgument),
			fmt.Sprintf("body document_id %q does not match path %q", batch.DocumentID, id))
		return
	}
	s.logger.Debug("insert vectors request", zap.String("document_id", id), zap.Int("count", len(batch.Vectors)))
	summary, err := s.index.CreateOrAppend(r.Context(), id, batch.Vectors)
	if err != nil {
		s.respondErr(w, "insert failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs := s.index.Documents()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "total": len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := s.index.Document(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, models.KindOf(models.ErrNotFound), "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("document_id", id))
	removed, err := s.index.DeleteDocument(r.Context(), id)
	if err != nil {
		s.respondErr(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"document_id": id, "removed": removed})
}

func (s *Server) handleDeleteEmbedding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	embeddingID := chi.URLParam(r, "embeddingID")
	s.logger.Debug("delete embedding request", zap.String("document_id", id), zap.String("embedding_id", embeddingID))
	deleted, err := s.index.DeleteEmbedding(r.Context(), id, embeddingID)
	if err != nil {
		s.respondErr(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.index.Stats())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.index.Stats()
	resp := map[string]interface{}{
		"documents": stats.TotalDocuments,
		"vectors":   stats.TotalVectors,
	}

	cfg := s.config
	configInfo := map[string]interface{}{
		"storage_backend":   cfg.Storage.Backend,
		"norm_epsilon":      cfg.Index.NormEpsilon,
		"default_top_k":     cfg.Search.DefaultTopK,
		"max_top_k":         cfg.Search.MaxTopK,
		"default_threshold": cfg.Search.DefaultThreshold,
		"parallelism":       cfg.Search.Parallelism,
	}
	if paths := storage.Paths(cfg.Storage); len(paths) > 0 {
		configInfo["storage_path"] = paths[0]
	}
	if cfg.Inbox.Directory != "" {
		configInfo["inbox_directory"] = cfg.Inbox.Directory
	}
	resp["config"] = configInfo

	diskBytes, err := storage.StoreUsageBytes(cfg.Storage)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v, responding 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge, models.KindOf(models.ErrInvalidArgument), "request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, models.KindOf(models.ErrInvalidArgument), "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, models.KindOf(err), err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, kind, message string) {
	s.respondJSON(w, status, map[string]string{"error": message, "kind": kind})
}
