package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rappleit/protege/internal/bridge"
	"github.com/rappleit/protege/internal/config"
	"github.com/rappleit/protege/internal/gemini"
	"github.com/rappleit/protege/internal/httpserver"
	"github.com/rappleit/protege/internal/memory"
	"github.com/rappleit/protege/internal/persona"
	"github.com/rappleit/protege/internal/session"
	"github.com/rappleit/protege/internal/tts"
	"github.com/rappleit/protege/internal/wstoken"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	personas := persona.NewStore()
	mem := memory.NewStore()

	connector := session.ConnectorFunc(func(ctx context.Context, systemInstruction string) (bridge.ModelSession, error) {
		return gemini.DialLive(ctx, gemini.LiveConfig{
			APIKey:            cfg.GoogleAPIKey,
			Model:             cfg.LiveModel,
			SystemInstruction: systemInstruction,
		})
	})
	sessions := session.NewRegistry(connector, personas, mem)

	deps := httpserver.Deps{
		Sessions:       sessions,
		Personas:       personas,
		Tokens:         wstoken.NewIssuer(cfg.FrontendWSSecret),
		Reports:        sessions,
		Transcriber:    gemini.NewTranscriber(cfg.GoogleAPIKey, cfg.TranscriptionModel),
		Memory:         mem,
		AllowedOrigins: cfg.AllowedOrigins,
	}

	switch cfg.VoiceProvider {
	case "elevenlabs":
		if cfg.ElevenLabsAPIKey != "" {
			deps.Voice = tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, tts.NewVoiceRegistry())
		}
	case "deepgram":
		if cfg.DeepgramAPIKey != "" {
			deps.Voice = tts.NewDeepgramClient(cfg.DeepgramAPIKey, cfg.DeepgramModel)
		}
	}

	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		archive, err := memory.NewSupabaseArchive(memory.ArchiveConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Printf("supabase archive disabled: %v", err)
		} else {
			deps.Archiver = archive
		}
	}

	srv := httpserver.New(deps)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
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
