package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config - every environment setting the server reads at startup
type Config struct {
	AppEnv string

	// Redis (optional, only used for the shared attempt guard)
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Gemini API
	GeminiAPIKey    string
	GeminiModel     string
	GeminiTextModel string

	// Vertex AI backend (used instead of the API key when a project is set)
	GoogleCloudProject  string
	GoogleCloudLocation string

	// Server
	Port string

	// Generation
	GenerationTimeout time.Duration
	FetchTimeout      time.Duration
	MaxImageBytes     int64
	AttemptTTL        time.Duration

	// Output
	OutputFormat  string // "jpeg" | "webp"
	OutputQuality int

	// Prompt assets
	HouseBackgroundFilename string
	LogoPath                string
}

// LoadConfig - load .env (if any) and the process environment
func LoadConfig(log zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️  .env file not found, using environment variables")
	}

	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "production"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getBool("REDIS_USE_TLS", false),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", getEnv("API_KEY", "")),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiTextModel: getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),

		GoogleCloudProject:  getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation: getEnv("GOOGLE_CLOUD_LOCATION", "us-central1"),

		Port: getEnv("PORT", "8080"),

		GenerationTimeout: getDuration("GENERATION_TIMEOUT", 90*time.Second),
		FetchTimeout:      getDuration("FETCH_TIMEOUT", 20*time.Second),
		MaxImageBytes:     int64(getInt("MAX_IMAGE_BYTES", 20<<20)),
		AttemptTTL:        getDuration("ATTEMPT_TTL", 5*time.Minute),

		OutputFormat:  strings.ToLower(getEnv("OUTPUT_FORMAT", "jpeg")),
		OutputQuality: getInt("OUTPUT_QUALITY", 90),

		HouseBackgroundFilename: getEnv("HOUSE_BACKGROUND_FILENAME", "fondo-final.jpg"),
		LogoPath:                getEnv("LOGO_PATH", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info().Msg("✅ Configuration loaded successfully")
	log.Info().Msgf("   Gemini: %s (text: %s, vertex: %v)", cfg.GeminiModel, cfg.GeminiTextModel, cfg.UseVertex())
	log.Info().Msgf("   Redis guard: %v", cfg.RedisEnabled())
	log.Info().Msgf("   Output: %s (quality %d)", cfg.OutputFormat, cfg.OutputQuality)

	return cfg, nil
}

// validate - required settings
func (c *Config) validate() error {
	if c.GeminiAPIKey == "" && !c.UseVertex() {
		return fmt.Errorf("Falta la clave de la API. Por favor, asegúrate de que esté configurada en el entorno (GEMINI_API_KEY)")
	}
	if c.OutputFormat != "jpeg" && c.OutputFormat != "webp" {
		return fmt.Errorf("OUTPUT_FORMAT must be jpeg or webp, got %q", c.OutputFormat)
	}
	if c.OutputQuality < 1 || c.OutputQuality > 100 {
		return fmt.Errorf("OUTPUT_QUALITY must be between 1 and 100, got %d", c.OutputQuality)
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be positive")
	}
	return nil
}

// UseVertex - Vertex AI backend instead of the Gemini API key
func (c *Config) UseVertex() bool {
	return c.GoogleCloudProject != ""
}

// RedisEnabled - Redis is optional
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// GetRedisAddr - Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// getEnv - environment value with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if s := os.Getenv(key); s != "" {
		if parsed, err := strconv.ParseBool(s); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if s := os.Getenv(key); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if parsed, err := time.ParseDuration(s); err == nil {
			return parsed
		}
	}
	return defaultValue
}
