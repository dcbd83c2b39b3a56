package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting, loaded from the environment. A local
// .env file is honored when present so development setups need no exported
// variables.
type Config struct {
	Port string

	// JWTSecret signs and verifies access tokens. Required.
	JWTSecret string
	TokenTTL  time.Duration

	// MongoURI is optional: when empty the server runs on in-memory stores.
	MongoURI      string
	MongoDatabase string

	// OpenAIAPIKey is optional: when empty the server runs on the built-in
	// keyword-based mock analyzers and responder.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Per-identity message admission over the websocket.
	MessageRateLimit  int
	MessageRateBurst  int
	MessageRateWindow time.Duration

	// Coarse per-IP limit on the HTTP surface.
	APIRateLimit  int
	APIRateWindow time.Duration

	HistoryWindow     int
	AnalysisTimeout   time.Duration
	GenerationTimeout time.Duration
}

// Load reads configuration from the environment, loading .env first when one
// exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		TokenTTL:          getDuration("JWT_TOKEN_TTL", 24*time.Hour),
		MongoURI:          os.Getenv("MONGODB_URI"),
		MongoDatabase:     getEnv("MONGODB_DATABASE", "elara"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		MessageRateLimit:  getInt("MESSAGE_RATE_LIMIT", 30),
		MessageRateBurst:  getInt("MESSAGE_RATE_BURST", 5),
		MessageRateWindow: getDuration("MESSAGE_RATE_WINDOW", time.Minute),
		APIRateLimit:      getInt("API_RATE_LIMIT", 100),
		APIRateWindow:     getDuration("API_RATE_WINDOW", 15*time.Minute),
		HistoryWindow:     getInt("HISTORY_WINDOW", 20),
		AnalysisTimeout:   getDuration("ANALYSIS_TIMEOUT", 10*time.Second),
		GenerationTimeout: getDuration("GENERATION_TIMEOUT", 30*time.Second),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}
	return cfg, nil
}

// UseMongo reports whether a durable store is configured
func (c *Config) UseMongo() bool {
	return c.MongoURI != ""
}

// UseOpenAI reports whether the real analysis and generation backend is
// configured.
func (c *Config) UseOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
