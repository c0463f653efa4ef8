package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eai-studio-server/modules/annotate"
	"eai-studio-server/modules/common/config"
	"eai-studio-server/modules/common/gemini"
	"eai-studio-server/modules/common/lock"
	"eai-studio-server/modules/common/logger"
	"eai-studio-server/modules/common/utils"
	"eai-studio-server/modules/scene"
	"eai-studio-server/modules/session"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// enableCORS - CORS headers for the browser client
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "eai-studio-scene",
	})
}

// newGuard - Redis when configured and reachable, otherwise in-memory
func newGuard(cfg *config.Config, log zerolog.Logger) lock.Guard {
	if !cfg.RedisEnabled() {
		log.Info().Msg("🔒 Attempt guard: in-memory")
		return lock.NewMemoryGuard()
	}

	rdb, err := lock.Connect(cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  Redis unavailable, falling back to in-memory attempt guard")
		return lock.NewMemoryGuard()
	}
	log.Info().Msg("🔒 Attempt guard: redis")
	return lock.NewRedisGuard(rdb, log)
}

// loadLogo - optional dealership logo attached to description scenes
func loadLogo(cfg *config.Config, log zerolog.Logger) *utils.EncodedImage {
	if cfg.LogoPath == "" {
		return nil
	}
	logo, err := utils.EncodeLocalFile(cfg.LogoPath)
	if err != nil {
		log.Warn().Err(err).Msgf("⚠️  Could not load logo %s, continuing without it", cfg.LogoPath)
		return nil
	}
	log.Info().Msgf("🖼️  Loaded logo %s (%s)", logo.Filename, logo.MediaType)
	return logo
}

func main() {
	log := logger.New(os.Getenv("APP_ENV"))

	cfg, err := config.LoadConfig(log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := gemini.NewGenaiModel(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize Gemini")
	}

	sessions := session.NewManager(log)
	sessions.StartCleanupRoutine(ctx, 5*time.Minute)

	service := scene.NewService(
		model,
		utils.NewFetcher(cfg.FetchTimeout, cfg.MaxImageBytes),
		newGuard(cfg, log),
		&scene.Composer{HouseBackground: cfg.HouseBackgroundFilename, Logo: loadLogo(cfg, log)},
		scene.ServiceConfig{
			ImageModel: cfg.GeminiModel,
			TextModel:  cfg.GeminiTextModel,
			Timeout:    cfg.GenerationTimeout,
			AttemptTTL: cfg.AttemptTTL,
		},
		log,
	)
	sceneHandler := scene.NewHandler(service, annotate.NewAnnotator(cfg.OutputFormat, cfg.OutputQuality, log), sessions, cfg.MaxImageBytes, log)

	r := mux.NewRouter()
	r.Use(logger.Middleware(log))
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	sessions.RegisterRoutes(r)
	sceneHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msgf("🚀 E•AI Studio scene server starting on port %s", cfg.Port)
		log.Info().Msgf("📡 WebSocket endpoint: ws://localhost:%s/ws?session=<id>", cfg.Port)
		log.Info().Msgf("🎨 Generate: http://localhost:%s/api/scene/generate", cfg.Port)
		log.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)
		log.Info().Msgf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GenerationTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
