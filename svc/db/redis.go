package db

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"nullbin/cfg"
)

// Redis backs the shared rate-limit counters. The service runs fine
// without it; callers fall back to per-process limiting when nil.
type Redis struct {
	client *redis.Client
}

// rateLimitScript counts requests in a fixed window. The expiry is set
// only when the key is created, so the window does not slide under load.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = redis.call('INCR', key)
if current == 1 then
	redis.call('EXPIRE', key, window)
end
if current > limit then
	return 0
end
return 1
`)

func NewRedis(c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	if c.RedisTLS || strings.HasPrefix(c.RedisURL, "rediss://") {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	opt.DialTimeout = c.RedisTimeout
	opt.ReadTimeout = c.RedisTimeout
	opt.WriteTimeout = c.RedisTimeout

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), c.RedisTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return &Redis{client: client}, nil
}

// Allow returns false when the caller has exhausted its quota for the
// current window. Errors are returned as-is so the limiter can decide
// whether to fail open.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := rateLimitScript.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Int()
	if err != nil {
		return false, errors.Wrap(err, "rate limit script")
	}
	return res == 1, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
