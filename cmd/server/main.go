package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raillogistic/bulkimport/internal/config"
	"github.com/raillogistic/bulkimport/internal/db"
	"github.com/raillogistic/bulkimport/internal/importer"
	"github.com/raillogistic/bulkimport/internal/middleware"
	"github.com/raillogistic/bulkimport/internal/repository"
	"github.com/raillogistic/bulkimport/internal/template"
	"github.com/raillogistic/bulkimport/migrations"

	"github.com/rs/cors"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(migrations.FS, cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	batchRepo := repository.NewBatchRepository(conn.Pool)
	rowRepo := repository.NewRowRepository(conn.Pool)
	issueRepo := repository.NewIssueRepository(conn.Pool)
	snapshotRepo := repository.NewSnapshotRepository(conn.Pool)
	recordRepo := repository.NewRecordRepository(conn.Pool)
	templateRepo := repository.NewTemplateRepository(conn.Pool)

	// Create the import pipeline
	resolver := template.NewCatalogResolver(templateRepo)
	service := importer.NewService(conn, batchRepo, rowRepo, issueRepo, snapshotRepo, recordRepo, resolver, cfg.Import.ReportDir)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	importer.NewHandler(service).Register(mux)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.LoggingMiddleware(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting import server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
