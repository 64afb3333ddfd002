package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress     string
	AuthPassword    string
	AssistBaseURL   string
	AssistAPIKey    string
	AssemblyAIKey   string
	DeepgramKey     string
	SupabaseURL     string
	SupabaseKey     string
	SupabaseBucket  string
	Locale          string
	CompletionToken string
	SessionIdleTTL  time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	assistBaseURL := os.Getenv("ASSIST_BASE_URL")
	if assistBaseURL == "" {
		log.Println("Warning: ASSIST_BASE_URL not set - dialog exchanges will not work")
	}
	assistKey := os.Getenv("ASSIST_API_KEY")
	if assistKey == "" {
		log.Println("Warning: ASSIST_API_KEY not set - backend may reject requests")
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - voice capture will not work")
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech output will not work")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if supabaseURL == "" || supabaseKey == "" {
		log.Println("Warning: SUPABASE_URL/SUPABASE_SERVICE_ROLE_KEY not set - document uploads will not be stored")
	}
	bucket := os.Getenv("SUPABASE_BUCKET")
	if bucket == "" {
		bucket = "intake-documents"
	}

	locale := os.Getenv("SPEECH_LOCALE")
	if locale == "" {
		locale = "de-DE"
	}

	token := os.Getenv("COMPLETION_TOKEN")
	if token == "" {
		token = "boarding"
	}

	idleTTL := 30 * time.Minute
	if raw := os.Getenv("SESSION_IDLE_MINUTES"); raw != "" {
		if mins, perr := strconv.Atoi(raw); perr == nil && mins > 0 {
			idleTTL = time.Duration(mins) * time.Minute
		} else {
			log.Printf("Warning: invalid SESSION_IDLE_MINUTES=%q - using default", raw)
		}
	}

	log.Printf("config: HTTP_ADDRESS=%s locale=%s bucket=%s", addr, locale, bucket)
	return Config{
		HTTPAddress:     addr,
		AuthPassword:    os.Getenv("AUTH_PASSWORD"),
		AssistBaseURL:   assistBaseURL,
		AssistAPIKey:    assistKey,
		AssemblyAIKey:   assemblyAIKey,
		DeepgramKey:     deepgramKey,
		SupabaseURL:     supabaseURL,
		SupabaseKey:     supabaseKey,
		SupabaseBucket:  bucket,
		Locale:          locale,
		CompletionToken: token,
		SessionIdleTTL:  idleTTL,
	}
}
