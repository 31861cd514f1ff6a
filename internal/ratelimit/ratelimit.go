// Package ratelimit throttles address creation per client IP.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config holds rate limiter configuration.
type Config struct {
	// PerMinute is the sustained number of requests allowed per minute.
	PerMinute float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
}

// entry holds rate limiter and last access time for an IP
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter keeps a token bucket per key in process.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	done    chan struct{}
	once    sync.Once
}

// NewMemory creates a limiter and starts its cleanup goroutine.
func NewMemory(cfg Config) *MemoryLimiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	rl := &MemoryLimiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow implements Limiter.
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.PerMinute/60), rl.config.Burst),
		}
		rl.entries[key] = e
	}
	e.lastAccess = time.Now()

	return e.limiter.Allow(), nil
}

// Stop stops the cleanup goroutine
func (rl *MemoryLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

func (rl *MemoryLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked keys.
func (rl *MemoryLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// RedisLimiter is a fixed one-minute window shared by every node.
type RedisLimiter struct {
	rdb    redis.Cmdable
	prefix string
	limit  int64
	window time.Duration
}

// NewRedis allows PerMinute+Burst requests per key and minute.
func NewRedis(rdb redis.Cmdable, prefix string, cfg Config) *RedisLimiter {
	limit := int64(math.Ceil(cfg.PerMinute)) + int64(cfg.Burst)
	if limit < 1 {
		limit = 1
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: limit, window: time.Minute}
}

// Allow implements Limiter.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().Unix() / int64(rl.window/time.Second)
	k := rl.prefix + ":ratelimit:" + key + ":" + strconv.FormatInt(window, 10)

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return incr.Val() <= rl.limit, nil
}

// Middleware applies l keyed by client IP. Limiter errors fail open.
func Middleware(l Limiter, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please try again later",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
