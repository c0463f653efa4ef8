package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "test-key")

		cfg, err := LoadConfig(zerolog.Nop())
		require.NoError(t, err)

		assert.Equal(t, "test-key", cfg.GeminiAPIKey)
		assert.Equal(t, "gemini-2.5-flash-image", cfg.GeminiModel)
		assert.Equal(t, "gemini-2.5-flash", cfg.GeminiTextModel)
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 90*time.Second, cfg.GenerationTimeout)
		assert.Equal(t, "jpeg", cfg.OutputFormat)
		assert.Equal(t, "fondo-final.jpg", cfg.HouseBackgroundFilename)
		assert.False(t, cfg.RedisEnabled())
		assert.False(t, cfg.UseVertex())
	})

	t.Run("falls back to API_KEY", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("API_KEY", "legacy-key")

		cfg, err := LoadConfig(zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "legacy-key", cfg.GeminiAPIKey)
	})

	t.Run("requires a key without vertex", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("API_KEY", "")
		t.Setenv("GOOGLE_CLOUD_PROJECT", "")

		_, err := LoadConfig(zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Falta la clave de la API")
	})

	t.Run("vertex project replaces the key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("API_KEY", "")
		t.Setenv("GOOGLE_CLOUD_PROJECT", "my-project")

		cfg, err := LoadConfig(zerolog.Nop())
		require.NoError(t, err)
		assert.True(t, cfg.UseVertex())
	})

	t.Run("rejects unknown output format", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "k")
		t.Setenv("OUTPUT_FORMAT", "bmp")

		_, err := LoadConfig(zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("parses durations and redis", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "k")
		t.Setenv("GENERATION_TIMEOUT", "2m")
		t.Setenv("REDIS_HOST", "cache")
		t.Setenv("REDIS_PORT", "6380")

		cfg, err := LoadConfig(zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, 2*time.Minute, cfg.GenerationTimeout)
		assert.True(t, cfg.RedisEnabled())
		assert.Equal(t, "cache:6380", cfg.GetRedisAddr())
	})
}
