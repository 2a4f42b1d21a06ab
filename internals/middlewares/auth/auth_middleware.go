// internals/middlewares/auth/auth_middleware.go
package auth

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type AuthJWTOpts struct {
	Secret string
	// cookie access_token dipakai kalau header Authorization kosong
	AllowCookieFallback bool
	// ?access_token= untuk upgrade WebSocket (browser tidak bisa set header)
	AllowQueryToken bool
	// nil: skip cek user aktif (test)
	DB  *gorm.DB
	Log zerolog.Logger
}

// AuthJWT memverifikasi bearer token dan menyimpan identitas pemanggil di
// Locals: "user_id" (uuid.UUID), "userRole", "user_name".
func AuthJWT(opts AuthJWTOpts) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := extractBearerToken(c, opts)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		if opts.Secret == "" {
			opts.Log.Error().Msg("auth: JWT_SECRET kosong")
			return fiber.NewError(fiber.StatusInternalServerError, "Missing JWT Secret")
		}

		claims := jwt.MapClaims{}
		parser := jwt.Parser{SkipClaimsValidation: true}
		if _, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(opts.Secret), nil
		}); err != nil {
			opts.Log.Debug().Err(err).Msg("auth: gagal parse token")
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized - Token parse error")
		}

		if err := validateTokenExpiry(claims, 30*time.Second); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized - Token expired")
		}

		userID, err := extractUserID(claims)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized - Invalid or missing user ID")
		}

		if opts.DB != nil {
			if err := ensureUserActive(opts.DB.WithContext(c.UserContext()), userID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized - User not found")
				}
				if errors.Is(err, errUserInactive) {
					return fiber.NewError(fiber.StatusForbidden, "Akun Anda telah dinonaktifkan")
				}
				opts.Log.Error().Err(err).Msg("auth: cek user aktif gagal")
				return fiber.NewError(fiber.StatusServiceUnavailable, "Database tidak tersedia")
			}
		}

		c.Locals("user_id", userID)
		storeBasicClaimsToLocals(c, claims)
		return c.Next()
	}
}
