// Package config loads the server configuration from the environment, with a
// .env file honored in development.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string `envconfig:"HTTP_ADDRESS" default:":8080"`

	GoogleAPIKey       string `envconfig:"GOOGLE_API_KEY"`
	LiveModel          string `envconfig:"GEMINI_LIVE_MODEL" default:"gemini-2.0-flash-exp"`
	TranscriptionModel string `envconfig:"GEMINI_TRANSCRIPTION_MODEL" default:"gemini-2.0-flash-lite"`

	FrontendWSSecret string   `envconfig:"FRONTEND_WS_SECRET"`
	AllowedOrigins   []string `envconfig:"ALLOWED_ORIGINS"`

	// VoiceProvider picks the preview synthesizer: "elevenlabs", "deepgram"
	// or empty to disable previews.
	VoiceProvider    string `envconfig:"VOICE_PROVIDER" default:"elevenlabs"`
	ElevenLabsAPIKey string `envconfig:"ELEVENLABS_API_KEY"`
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL"`

	SupabaseURL            string `envconfig:"SUPABASE_URL"`
	SupabaseServiceRoleKey string `envconfig:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseBucket         string `envconfig:"SUPABASE_BUCKET" default:"session-audio"`
}

// Load reads the environment into a Config and warns about missing keys that
// degrade functionality rather than abort startup.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.GoogleAPIKey == "" {
		log.Println("Warning: GOOGLE_API_KEY not set - model sessions and transcription will not work")
	}
	if cfg.FrontendWSSecret == "" {
		cfg.FrontendWSSecret = randomSecret()
		log.Println("Warning: FRONTEND_WS_SECRET not set - generated an ephemeral secret, tokens will not survive restarts")
	}
	switch cfg.VoiceProvider {
	case "elevenlabs":
		if cfg.ElevenLabsAPIKey == "" {
			log.Println("Warning: ELEVENLABS_API_KEY not set - voice previews will not work")
		}
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			log.Println("Warning: DEEPGRAM_API_KEY not set - voice previews will not work")
		}
	}
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceRoleKey == "" {
		log.Println("Warning: SUPABASE_URL/SUPABASE_SERVICE_ROLE_KEY not set - turn audio will not be archived")
	}

	log.Printf("config: HTTP_ADDRESS=%s", cfg.HTTPAddress)
	return cfg
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("config: generate secret: %v", err)
	}
	return hex.EncodeToString(b)
}
