package lock

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"eai-studio-server/modules/common/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Connect - Redis connection for the shared guard
func Connect(cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	log.Info().Msgf("🔌 Connecting to Redis: %s", cfg.GetRedisAddr())

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("🔍 Testing Redis connection...")
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("❌ Redis ping failed")
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info().Msg("✅ Redis connected")
	return rdb, nil
}

// releaseScript - delete the key only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard - Guard shared between server replicas via SET NX PX
type RedisGuard struct {
	rdb    redis.UniversalClient
	prefix string
	log    zerolog.Logger
}

// NewRedisGuard - guard over an existing client
func NewRedisGuard(rdb redis.UniversalClient, log zerolog.Logger) *RedisGuard {
	return &RedisGuard{rdb: rdb, prefix: "scene:attempt:", log: log}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	redisKey := g.prefix + key
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", redisKey, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, g.rdb, []string{redisKey}, token).Err(); err != nil {
				g.log.Warn().Err(err).Msgf("⚠️  [Lock] Failed to release %s", redisKey)
			}
		})
	}, nil
}
