package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	AuthJWTSecret string

	// Clinic scheduling policy. All natural-language dates and times are
	// resolved as wall-clock time in this zone.
	ClinicTimezone   string
	SlotDurationMins int

	// Primary model (Gemini).
	GeminiAPIKey  string
	GeminiModelID string

	// Fallback model (Groq, OpenAI-compatible API).
	GroqAPIKey  string
	GroqBaseURL string
	GroqModelID string

	// Bounded tool-calling loop.
	MaxToolSteps int

	// Redis transcript cache.
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	TranscriptTTL time.Duration

	// How many doctors are listed in the system prompt.
	PromptDoctorLimit int

	CORSAllowedOrigins string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		ClinicTimezone:   getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),
		SlotDurationMins: getEnvAsInt("SLOT_DURATION_MINS", 30),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		GroqAPIKey:  getEnv("GROQ_API_KEY", ""),
		GroqBaseURL: getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModelID: getEnv("GROQ_MODEL_ID", "llama-3.3-70b-versatile"),

		MaxToolSteps: getEnvAsInt("MAX_TOOL_STEPS", 10),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		TranscriptTTL: getEnvAsDuration("TRANSCRIPT_TTL", 24*time.Hour),

		PromptDoctorLimit: getEnvAsInt("PROMPT_DOCTOR_LIMIT", 5),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
