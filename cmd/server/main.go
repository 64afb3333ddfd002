package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/checkin-demo/internal/assist"
	"github.com/chadiek/checkin-demo/internal/config"
	"github.com/chadiek/checkin-demo/internal/docs"
	"github.com/chadiek/checkin-demo/internal/httpserver"
	"github.com/chadiek/checkin-demo/internal/speech"
	"github.com/chadiek/checkin-demo/internal/storage"
	"github.com/chadiek/checkin-demo/internal/stt"
	"github.com/chadiek/checkin-demo/internal/summary"
	"github.com/chadiek/checkin-demo/internal/tts"
	"github.com/chadiek/checkin-demo/internal/wizard"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	assistClient := assist.NewClient(cfg.AssistBaseURL, cfg.AssistAPIKey)

	var store docs.BlobStore
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		sb, err := storage.NewSupabase(storage.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Printf("supabase init failed, uploads will not be stored: %v", err)
		} else {
			store = sb
		}
	}

	var recognizers speech.RecognizerFactory
	if cfg.AssemblyAIKey != "" {
		recognizers = func() speech.Recognizer { return stt.NewAssemblyAIRecognizer(cfg.AssemblyAIKey) }
	}

	registry := wizard.NewRegistry(wizard.Deps{
		Exchanger:       assistClient,
		Trigger:         summary.NewTrigger(assistClient),
		Analyzer:        assistClient,
		Store:           store,
		Recognizers:     recognizers,
		Synthesizer:     tts.NewDeepgramSynthesizer(cfg.DeepgramKey),
		Voices:          tts.DefaultVoices(),
		Locale:          cfg.Locale,
		CompletionToken: cfg.CompletionToken,
	}, cfg.SessionIdleTTL)
	defer registry.Close()

	srv := httpserver.NewServer(registry, cfg.AuthPassword)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
