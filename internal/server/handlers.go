package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"go.uber.org/zap"
)

type addPhotoRequest struct {
	Path    string `json:"path"`
	Caption string `json:"caption"`
}

type deletePhotoRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resident := s.manager.Resident()
	if resident == nil {
		resident = []string{}
	}
	resp := map[string]interface{}{
		"resident_users": resident,
	}
	if s.catalog != nil {
		users, vectors, err := s.catalog.Totals(ctx)
		if err != nil {
			s.logger.Error("status: catalog totals failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["catalog_users"] = users
		resp["catalog_vectors"] = vectors
	}
	if s.captions != nil {
		if n, err := s.captions.DocCount(); err == nil {
			resp["captions_indexed"] = n
		}
	}
	if s.config != nil {
		configInfo := map[string]interface{}{
			"backend":           s.config.Index.Backend,
			"metric":            s.config.Index.Metric,
			"default_dimension": s.config.Index.DefaultDimension,
			"extractor":         s.config.Extractor.Kind,
			"data_dir":          s.config.Storage.DataDir,
			"idle_ttl":          s.config.Index.IdleTTL.String(),
		}
		if s.config.Watch.Enabled {
			configInfo["watch_root"] = s.config.Watch.Root
		}
		resp["config"] = configInfo
		if diskBytes, err := storage.DiskUsageBytes(s.config.Storage.DataDir, s.config.Storage.CatalogPath, s.config.Storage.KeywordIndexPath); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	photos, err := s.manager.List(r.Context(), userID)
	if err != nil {
		s.respondIndexError(w, "list", userID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "photos": photos})
}

func (s *Server) handleAddPhoto(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req addPhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("add photo request", zap.String("user", userID), zap.String("path", req.Path))
	col, err := s.manager.Add(r.Context(), userID, req.Path, req.Caption)
	if err != nil {
		s.respondIndexError(w, "add", userID, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"user_id": userID,
		"path":    req.Path,
		"photos":  len(col.Paths),
		"status":  "indexed",
	})
}

func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	path := r.URL.Query().Get("path")
	if path == "" {
		var body deletePhotoRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	s.logger.Debug("delete photo request", zap.String("user", userID), zap.String("path", path))
	if err := s.manager.Delete(r.Context(), userID, path); err != nil {
		s.respondIndexError(w, "delete", userID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"user_id": userID, "path": path, "status": "deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request",
		zap.String("user", userID), zap.String("mode", query.Mode), zap.Int("k", query.K))
	resp, err := s.engine.Search(r.Context(), userID, query)
	if err != nil {
		s.respondIndexError(w, "search", userID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	stats, err := s.manager.Stats(r.Context(), userID)
	if err != nil {
		s.respondIndexError(w, "stats", userID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := indexer.ValidateUserID(userID); err != nil {
		s.respondIndexError(w, "evict", userID, err)
		return
	}
	evicted := s.manager.Evict(userID)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "evicted": evicted})
}

// statusFor maps index errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, indexer.ErrInvalidUser), errors.Is(err, indexer.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, indexer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, indexer.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, indexer.ErrExtraction):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondIndexError(w http.ResponseWriter, op, userID string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.String("user", userID), zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.String("user", userID), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
