// Package api exposes the admin HTTP surface: document upload and
// processing, expected-ledger browsing and confirmation, invoice and
// emitter CRUD.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"github.com/facturaAR/invoice-admin-service/internal/auth"
	"github.com/facturaAR/invoice-admin-service/internal/config"
	"github.com/facturaAR/invoice-admin-service/internal/db"
	"github.com/facturaAR/invoice-admin-service/internal/extractor"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
	"github.com/facturaAR/invoice-admin-service/internal/storage"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB per document
	Version       = "1.0.0"
)

// Handler handles HTTP requests for the admin tool.
type Handler struct {
	config   *config.Config
	db       *db.DB
	store    *storage.Store // nil when object storage is not configured
	auth     *auth.Service
	resolver *recon.Resolver
	gate     *recon.Gate
}

// NewHandler creates a new API handler.
func NewHandler(cfg *config.Config, database *db.DB, store *storage.Store, authSvc *auth.Service, resolver *recon.Resolver, gate *recon.Gate) *Handler {
	return &Handler{
		config:   cfg,
		db:       database,
		store:    store,
		auth:     authSvc,
		resolver: resolver,
		gate:     gate,
	}
}

// SetupRoutes configures the HTTP routes.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Document pipeline
	router.HandleFunc("/api/documents", h.UploadDocuments).Methods("POST")
	router.HandleFunc("/api/documents", h.ListDocuments).Methods("GET")
	router.HandleFunc("/api/documents/{id}/reprocess", h.ReprocessDocument).Methods("POST")
	router.HandleFunc("/api/documents/{id}/file", h.GetDocumentFile).Methods("GET")
	router.HandleFunc("/api/documents/{id}", h.GetDocument).Methods("GET")
	router.HandleFunc("/api/documents/{id}", h.DeleteDocument).Methods("DELETE")

	// Expected ledger
	router.HandleFunc("/api/expected", h.ListExpected).Methods("GET")
	router.HandleFunc("/api/expected/candidates", h.GetCandidates).Methods("GET")
	router.HandleFunc("/api/expected/import", h.ImportExpected).Methods("POST")
	router.HandleFunc("/api/expected/{id}/confirm", h.ConfirmExpected).Methods("POST")
	router.HandleFunc("/api/expected/{id}/status", h.UpdateExpectedStatus).Methods("PUT")

	// Invoice CRUD
	router.HandleFunc("/api/invoices", h.GetInvoices).Methods("GET")
	router.HandleFunc("/api/invoices/{id}", h.GetInvoice).Methods("GET")
	router.HandleFunc("/api/invoices/{id}", h.UpdateInvoice).Methods("PUT")
	router.HandleFunc("/api/invoices/{id}", h.DeleteInvoice).Methods("DELETE")

	// Emitters
	router.HandleFunc("/api/emitters", h.GetEmitters).Methods("GET")
	router.HandleFunc("/api/emitters", h.CreateEmitter).Methods("POST")
	router.HandleFunc("/api/emitters/{id}", h.DeleteEmitter).Methods("DELETE")

	// Auth
	router.HandleFunc("/api/login", h.Login).Methods("POST")

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Memory    MemoryStats   `json:"memory"`
	Database  ServiceStatus `json:"database"`
	Storage   ServiceStatus `json:"storage"`
	AI        ServiceStatus `json:"ai"`
}

// MemoryStats represents memory usage statistics.
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency.
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health endpoint - enhanced for monitoring.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	databaseStatus := h.checkDatabase(r.Context())
	storageStatus := h.checkStorage(r.Context())

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Database: databaseStatus,
		Storage:  storageStatus,
		AI: ServiceStatus{
			Available: h.config.AI.DefaultProvider != "",
			Version:   h.config.AI.DefaultProvider,
		},
	}

	// The database is the only hard dependency.
	if !databaseStatus.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// checkDatabase verifies the PostgreSQL connection.
func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.db == nil {
		return ServiceStatus{Available: false, Error: "database not initialized"}
	}
	if err := h.db.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL via PgBouncer"}
}

// checkStorage verifies the MinIO connection.
func (h *Handler) checkStorage(ctx context.Context) ServiceStatus {
	if h.store == nil {
		return ServiceStatus{Available: false, Error: "storage not configured"}
	}
	if err := h.store.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "MinIO S3"}
}

// createProvider creates the appropriate AI provider.
func (h *Handler) createProvider(providerName, modelName string) (extractor.Provider, error) {
	if providerName == "" {
		providerName = h.config.AI.DefaultProvider
	}

	switch providerName {
	case "openai":
		model := modelName
		if model == "" {
			model = h.config.AI.OpenAI.Model
		}
		return extractor.NewOpenAIProvider(
			h.config.AI.OpenAI.APIKey,
			h.config.AI.OpenAI.BaseURL,
			model,
		)

	case "gemini":
		model := modelName
		if model == "" {
			model = h.config.AI.Gemini.Model
		}
		return extractor.NewGeminiProvider(
			h.config.AI.Gemini.APIKey,
			model,
		)

	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", providerName)
	}
}

// sendError sends an error response.
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeError maps domain errors onto HTTP statuses: validation 400, not
// found 404, conflict 409, everything else 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErr *recon.ValidationError
	var notFoundErr *recon.NotFoundError
	var conflictErr *recon.ConflictError

	switch {
	case errors.As(err, &validationErr):
		h.sendError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &notFoundErr):
		h.sendError(w, http.StatusNotFound, notFoundErr.Error())
	case errors.As(err, &conflictErr):
		h.sendError(w, http.StatusConflict, conflictErr.Error())
	default:
		log.Printf("internal error: %v", err)
		h.sendError(w, http.StatusInternalServerError, "internal error")
	}
}
