package middlewares

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"sekolahchat_backend/internals/metrics"
)

// MetricsMiddleware mencatat jumlah & durasi request per route template
// (mis. /api/u/chat/rooms/:id), bukan path mentah, supaya label tidak meledak.
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		path := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
			path = r.Path
		}

		metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		return err
	}
}
