package middlewares

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// Global limiter: untuk semua endpoint biasa
func GlobalRateLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			// koneksi websocket berumur panjang, tidak dihitung
			return c.Path() == "/api/u/chat/ws"
		},
		LimitReached: limitReached("Terlalu banyak permintaan. Silakan coba lagi nanti."),
	})
}

// SendMessageRateLimiter membatasi kirim pesan per user (bukan per IP),
// supaya satu sekolah di balik NAT yang sama tidak saling mengunci.
func SendMessageRateLimiter(perMinute int) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 60
	}
	return limiter.New(limiter.Config{
		Max:          perMinute,
		Expiration:   1 * time.Minute,
		KeyGenerator: userKey("send"),
		LimitReached: limitReached("Terlalu banyak pesan. Tunggu sebentar ya."),
	})
}

// Upload lebih berat: batas lebih ketat
func UploadRateLimiter(perMinute int) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 20
	}
	return limiter.New(limiter.Config{
		Max:          perMinute,
		Expiration:   1 * time.Minute,
		KeyGenerator: userKey("upload"),
		LimitReached: limitReached("Terlalu banyak unggahan. Coba beberapa saat lagi."),
	})
}

func userKey(prefix string) func(*fiber.Ctx) string {
	return func(c *fiber.Ctx) string {
		if v := c.Locals("user_id"); v != nil {
			return fmt.Sprintf("%s:%v", prefix, v)
		}
		return prefix + ":ip:" + c.IP()
	}
}

func limitReached(msg string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error_code": "RATE_LIMITED",
			"message":    msg,
		})
	}
}
