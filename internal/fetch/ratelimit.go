package fetch

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HostLimiter caps outbound fetches per target host with a redis-backed
// fixed window. A redis failure allows the request: the limiter is a
// politeness mechanism, not a security control.
type HostLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	config HostLimiterConfig
}

// HostLimiterConfig configures the per-host fetch limiter.
type HostLimiterConfig struct {
	Enabled         bool `yaml:"enabled"`
	RequestsPerHost int  `yaml:"requests_per_host"`
	WindowSeconds   int  `yaml:"window_seconds"`
}

// DefaultHostLimiterConfig returns the limiter defaults (disabled).
func DefaultHostLimiterConfig() HostLimiterConfig {
	return HostLimiterConfig{
		Enabled:         false,
		RequestsPerHost: 30,
		WindowSeconds:   60,
	}
}

var incrWindow = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// NewHostLimiter creates a limiter over the given redis client.
func NewHostLimiter(redisClient *redis.Client, cfg HostLimiterConfig, logger *zap.Logger) *HostLimiter {
	if cfg.RequestsPerHost == 0 {
		cfg.RequestsPerHost = 30
	}
	if cfg.WindowSeconds == 0 {
		cfg.WindowSeconds = 60
	}
	return &HostLimiter{
		redis:  redisClient,
		logger: logger,
		config: cfg,
	}
}

// Allow reports whether one more fetch against host fits in the current
// window.
func (l *HostLimiter) Allow(ctx context.Context, host string) bool {
	if !l.config.Enabled || l.redis == nil {
		return true
	}

	key := "signalforge:fetchlimit:" + host
	windowMs := l.config.WindowSeconds * 1000

	current, err := incrWindow.Run(ctx, l.redis, []string{key}, windowMs).Int()
	if err != nil {
		l.logger.Warn("fetch limiter check failed, allowing request", zap.Error(err))
		return true
	}

	return current <= l.config.RequestsPerHost
}
