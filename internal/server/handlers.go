package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
)

const (
	healthCheckTimeout = 10 * time.Second
	multipartOverhead  = 1 << 20
	multipartMemory    = 32 << 20
)

// Service health values reported by /health.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// StatusConfig summarizes the active configuration.
type StatusConfig struct {
	VectorStore         string  `json:"vector_store"`
	Registry            string  `json:"registry"`
	Conversations       string  `json:"conversations"`
	EmbeddingProvider   string  `json:"embedding_provider"`
	EmbeddingModel      string  `json:"embedding_model"`
	EmbeddingDimensions int     `json:"embedding_dimensions"`
	LLMProvider         string  `json:"llm_provider"`
	LLMModel            string  `json:"llm_model"`
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Documents      int                 `json:"documents"`
	Vectors        int                 `json:"vectors"`
	Dimension      int                 `json:"dimension"`
	DiskUsage      []storage.PathUsage `json:"disk_usage,omitempty"`
	DiskUsageBytes int64               `json:"disk_usage_bytes"`
	Config         StatusConfig        `json:"config"`
}

// Status collects index and registry counts plus a configuration summary.
func Status(ctx context.Context, index vector.Index, registry storage.Registry, cfg *config.Config) (*StatusResponse, error) {
	stats, err := index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := registry.Count(ctx)
	if err != nil {
		return nil, err
	}
	resp := &StatusResponse{
		Documents: docs,
		Vectors:   stats.Count,
		Dimension: stats.Dimension,
		Config: StatusConfig{
			VectorStore:         cfg.Vector.Type,
			Registry:            cfg.Storage.Registry,
			Conversations:       cfg.Storage.Conversations,
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingModel:      cfg.Embedding.Model,
			EmbeddingDimensions: cfg.Embedding.Dimensions,
			LLMProvider:         cfg.LLM.Provider,
			LLMModel:            cfg.LLM.Model,
			ChunkSize:           cfg.Documents.ChunkSize,
			ChunkOverlap:        cfg.Documents.ChunkOverlap,
			TopK:                cfg.RAG.TopK,
			SimilarityThreshold: cfg.RAG.SimilarityThreshold,
		},
	}
	paths := map[string]string{"vector_snapshot": cfg.Vector.SnapshotPath}
	if cfg.Storage.Registry == "sqlite" {
		paths["registry"] = cfg.Storage.DatabasePath
	}
	if cfg.Storage.Conversations == "badger" {
		paths["conversations"] = cfg.Storage.BadgerPath
	}
	if usage, total, err := storage.DiskUsage(paths); err == nil {
		resp.DiskUsage = usage
		resp.DiskUsageBytes = total
	}
	return resp, nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"name": Name, "version": s.version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	services := map[string]string{
		"vector_store":       StatusHealthy,
		"llm":                StatusHealthy,
		"document_processor": StatusHealthy,
	}
	status := StatusHealthy
	if _, err := s.svc.Index.Stats(ctx); err != nil {
		s.logger.Warn("health: vector store check failed", zap.Error(err))
		services["vector_store"] = StatusUnhealthy
		status = StatusDegraded
	}
	if s.svc.Generator == nil || !s.svc.Generator.HealthCheck(ctx) {
		services["llm"] = StatusUnhealthy
		status = StatusDegraded
	}
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   s.version,
		Timestamp: time.Now().UTC(),
		Services:  services,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.config.Documents.MaxFileSizeBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "file too large", "")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "no file provided", "")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload", err.Error())
		return
	}
	s.logger.Debug("upload request", zap.String("filename", header.Filename), zap.Int("bytes", len(content)))
	resp, err := s.svc.Indexer.Upload(r.Context(), header.Filename, content)
	if err != nil {
		s.respondFailure(w, "upload failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	resp, err := s.svc.Orchestrator.Answer(r.Context(), &req)
	if err != nil {
		s.respondFailure(w, "chat failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := req.Validate(s.config.RAG.TopK); err != nil {
		s.respondFailure(w, "search failed", err)
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	resp, err := s.svc.Retriever.Run(r.Context(), &req, s.config.RAG.SimilarityThreshold)
	if err != nil {
		s.respondFailure(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.Indexer.ListDocuments(r.Context())
	if err != nil {
		s.respondFailure(w, "list documents failed", err)
		return
	}
	if docs == nil {
		docs = []*models.DocumentInfo{}
	}
	s.respondJSON(w, http.StatusOK, models.DocumentList{Documents: docs, TotalCount: len(docs)})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.svc.Indexer.DeleteDocument(r.Context(), id); err != nil {
		s.respondFailure(w, "delete failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message":     "Document deleted successfully",
		"document_id": id,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := Status(r.Context(), s.svc.Index, s.svc.Registry, s.config)
	if err != nil {
		s.respondFailure(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled", "")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled", "")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required", "")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path", err.Error())
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found", abs)
			return
		}
		s.respondError(w, http.StatusInternalServerError, "stat failed", err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory", abs)
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "add directory failed", err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled", "")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)", "")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path", err.Error())
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "remove directory failed", err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps a pipeline error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, indexer.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrRetrieval), errors.Is(err, models.ErrGeneration):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) respondFailure(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err), zap.Int("status", status))
	} else {
		s.logger.Debug(msg, zap.Error(err), zap.Int("status", status))
	}
	s.respondError(w, status, msg, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message, detail string) {
	s.respondJSON(w, status, ErrorResponse{Error: message, Detail: detail, Timestamp: time.Now().UTC()})
}
