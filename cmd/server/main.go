package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/facturaAR/invoice-admin-service/api"
	"github.com/facturaAR/invoice-admin-service/internal/auth"
	"github.com/facturaAR/invoice-admin-service/internal/config"
	"github.com/facturaAR/invoice-admin-service/internal/db"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
	"github.com/facturaAR/invoice-admin-service/internal/storage"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize JWT
	authSvc, err := auth.New(cfg.JWT.Secret, time.Duration(cfg.JWT.TTLHours)*time.Hour)
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}
	log.Println("JWT authentication initialized")

	ctx := context.Background()

	// Initialize database connection pool. The expected ledger and the
	// transactional commit live here, so the database is a hard dependency.
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()
	log.Println("Database connection pool initialized")

	// Initialize MinIO storage
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Printf("Warning: MinIO storage not available: %v", err)
		log.Println("Documents will not be stored; reprocessing is disabled")
		store = nil
	} else {
		log.Println("MinIO storage initialized")
	}

	// Wire the reconciliation core
	reconCfg := recon.DefaultConfig()
	if cfg.Recon.NumberTolerance > 0 {
		reconCfg.NumberTolerance = cfg.Recon.NumberTolerance
	}
	if cfg.Recon.AutoLinkThreshold > 0 {
		reconCfg.AutoLinkThreshold = cfg.Recon.AutoLinkThreshold
	}
	if cfg.Recon.ExactMatchConfidence > 0 {
		reconCfg.ExactMatchConfidence = cfg.Recon.ExactMatchConfidence
	}
	if cfg.Recon.CandidateLimit > 0 {
		reconCfg.CandidateLimit = cfg.Recon.CandidateLimit
	}
	resolver := recon.NewResolver(database, reconCfg)
	gate := recon.NewGate(resolver, database, reconCfg)

	// Create API handler
	handler := api.NewHandler(cfg, database, store, authSvc, resolver, gate)
	router := handler.SetupRoutes()

	// Wrap router with JWT middleware (skips /health and /api/login)
	protectedRouter := authSvc.Middleware(router)

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Printf("Starting Invoice Admin Service v%s on %s", api.Version, addr)
	log.Printf("Default AI Provider: %s", cfg.AI.DefaultProvider)
	log.Printf("Storage: %v", store != nil)
	log.Printf("Endpoints:")
	log.Printf("  POST http://%s/api/login                     - Authenticate", addr)
	log.Printf("  POST http://%s/api/documents                 - Upload + process documents (requires JWT)", addr)
	log.Printf("  POST http://%s/api/documents/{id}/reprocess  - Re-run pipeline (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/documents/{id}/file       - Stream stored document (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/expected                  - Browse expected ledger (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/expected/candidates       - Partial-match search (requires JWT)", addr)
	log.Printf("  POST http://%s/api/expected/{id}/confirm     - Confirm a match (requires JWT)", addr)
	log.Printf("  POST http://%s/api/expected/import           - Import AFIP Excel export (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/invoices                  - List invoices (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/emitters                  - List emitters (requires JWT)", addr)
	log.Printf("  GET  http://%s/health                        - Health check", addr)

	if err := http.ListenAndServe(addr, protectedRouter); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
