package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/semcache/semcache/internal/api"
	"github.com/semcache/semcache/internal/auth"
	"github.com/semcache/semcache/internal/config"
	"github.com/semcache/semcache/internal/core"
	"github.com/semcache/semcache/internal/logger"
	"github.com/semcache/semcache/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	purgeFlag := flag.Bool("purge", false, "Run a one-shot retention sweep and exit")
	mintTokenFlag := flag.Bool("mint-admin-token", false, "Print an admin bearer token and exit")
	flag.Parse()

	if *mintTokenFlag {
		token, err := auth.GenerateAdminToken(cfg.AdminJWTSecret, "operator")
		if err != nil {
			log.Fatal("Failed to mint admin token", "error", err)
		}
		fmt.Println(token)
		return
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}
	defer dbStore.Close()

	cacheService := core.NewCacheService(dbStore, log)

	// Retention is caller-triggered: either this flag or the purge endpoint,
	// scheduled externally. There is no background sweep.
	if *purgeFlag {
		removed, err := cacheService.Purge(context.Background(), cfg.PurgeMaxAgeDays, int64(cfg.PurgeMinUsage))
		if err != nil {
			log.Fatal("Retention sweep failed", "error", err)
		}
		log.Info("Retention sweep finished, exiting", "removed", removed)
		return
	}

	// Optional generate-on-miss responder.
	var llmService *core.LLMService
	if cfg.GeminiAPIKey != "" {
		llmService, err = core.NewLLMService(context.Background(), cfg.GeminiAPIKey)
		if err != nil {
			log.Fatal("Failed to initialize LLM service", "error", err)
		}
		defer llmService.Close()
		log.Info("Generate-on-miss responder enabled")
	}

	apiHandler := api.NewAPIHandler(cacheService, llmService, log, cfg.AdminJWTSecret)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // generate-on-miss calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Info("Starting server", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Could not listen", "addr", serverAddr, "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", "error", err)
	}

	log.Info("Server exiting gracefully")
}
