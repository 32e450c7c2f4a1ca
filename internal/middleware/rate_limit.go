package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-autotest/internal/utils"
)

// RateLimit allows max requests per window for each caller. Callers are keyed
// by user id, or client IP when anonymous, plus the values of the named route
// params, so a runner pushing snapshots for one assignment does not throttle another.
func RateLimit(identifier string, max int, window time.Duration, params ...string) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			caller := fmt.Sprintf("%v", c.Locals("user_id"))
			if caller == "" || caller == "0" || caller == "<nil>" {
				caller = c.IP()
			}

			parts := []string{identifier, caller}
			for _, param := range params {
				parts = append(parts, c.Params(param))
			}
			return strings.Join(parts, ":")
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
