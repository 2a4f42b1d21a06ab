package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/configs"
	chatRoute "sekolahchat_backend/internals/features/chat/route"
	"sekolahchat_backend/internals/middlewares"
	authMiddleware "sekolahchat_backend/internals/middlewares/auth"
)

var startTime time.Time

type Deps struct {
	DB   *gorm.DB
	Chat *chatRoute.Module
	Log  zerolog.Logger
}

func SetupRoutes(app *fiber.App, deps Deps) {
	startTime = time.Now()
	log := deps.Log

	BaseRoutes(app, deps.DB)

	jwt := authMiddleware.AuthJWTOpts{
		Secret:              configs.GetEnv("JWT_SECRET"),
		AllowCookieFallback: true,
		// browser tidak bisa set header Authorization saat upgrade websocket
		AllowQueryToken: true,
		DB:              deps.DB,
		Log:             log,
	}

	api := app.Group("/api", middlewares.GlobalRateLimiter())

	// ===================== PRIVATE (USER) =====================
	log.Info().Msg("[ROUTE] Setting up PRIVATE group /api/u")
	private := api.Group("/u", authMiddleware.AuthJWT(jwt))

	// ===================== ADMIN =====================
	log.Info().Msg("[ROUTE] Setting up ADMIN group /api/a")
	admin := api.Group("/a", authMiddleware.AuthJWT(jwt))

	// ===================== MOUNT ROUTES =====================
	log.Info().Msg("[ROUTE] Mounting Chat routes...")
	chatRoute.ChatUserRoutes(private, deps.Chat)
	chatRoute.ChatAdminRoutes(admin, deps.Chat)
}
