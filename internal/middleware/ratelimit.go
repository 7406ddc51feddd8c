package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/carzbazzar/api/pkg/response"
)

// KeyFunc picks the bucket a request is counted in. An empty key skips limiting.
type KeyFunc func(c *fiber.Ctx) string

// RateLimiter counts requests per fixed window in Redis
type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit allows maxRequests per window for each key returned by keyFn
func (rl *RateLimiter) Limit(scope string, maxRequests int, window time.Duration, keyFn KeyFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}
		bucket := keyFn(c)
		if bucket == "" {
			return c.Next()
		}

		key := "ratelimit:" + scope + ":" + bucket
		ctx := c.UserContext()

		var incr *redis.IntCmd
		_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.ExpireNX(ctx, key, window)
			return nil
		})
		if err != nil {
			// Redis down: allow
			return c.Next()
		}
		count := incr.Val()

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("X-RateLimit-Remaining", "0")
			c.Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))

		return c.Next()
	}
}

// ByUser buckets requests per authenticated inspector
func ByUser(c *fiber.Ctx) string {
	return GetUserID(c)
}

// ByUserAndInspection buckets requests per inspector and inspection, so a
// busy inspection does not starve the inspector's other ones.
func ByUserAndInspection(c *fiber.Ctx) string {
	userID := GetUserID(c)
	if userID == "" {
		return ""
	}
	return userID + ":" + c.Params("inspectionId")
}

// CaptureLimit limits media captures per inspector and inspection
func (rl *RateLimiter) CaptureLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("capture", maxPerHour, time.Hour, ByUserAndInspection)
}
