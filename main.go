package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/gofiber/utils"
	"github.com/rs/zerolog"

	"sekolahchat_backend/internals/configs"
	database "sekolahchat_backend/internals/databases"
	"sekolahchat_backend/internals/features/chat/attachment"
	"sekolahchat_backend/internals/features/chat/realtime"
	chatRoute "sekolahchat_backend/internals/features/chat/route"
	helper "sekolahchat_backend/internals/helpers"
	helperOSS "sekolahchat_backend/internals/helpers/oss"
	middlewares "sekolahchat_backend/internals/middlewares"
	routes "sekolahchat_backend/internals/route"
	"sekolahchat_backend/internals/seeds"
)

func main() {
	configs.LoadEnv()
	log := configs.NewLogger()
	cfg := configs.LoadChatConfig()

	app := fiber.New(fiber.Config{
		// 🚀 JSON super cepat
		JSONEncoder:             sonic.Marshal,
		JSONDecoder:             sonic.Unmarshal,
		DisableStartupMessage:   true,
		ErrorHandler:            helper.FiberErrorHandler,
		BodyLimit:               int(cfg.MaxAttachmentBytes)*4 + 1<<20, // multipart bisa beberapa file
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          []string{"0.0.0.0/0"},
	})

	// ⚙️ middleware dasar + performa
	app.Use(compress.New(compress.Config{Level: compress.LevelDefault}))
	app.Use(etag.New())

	// 🔎 Request-ID + timeout guard
	app.Use(func(c *fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = utils.UUID()
		}
		c.Set("X-Request-ID", id)
		c.Locals("reqid", id)
		ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	})

	middlewares.SetupMiddlewares(app)

	// 🔌 DB connect + pool + warm-up
	database.ConnectDB(log)
	database.TunePool(log)
	if err := database.Migrate(database.DB); err != nil {
		log.Fatal().Err(err).Msg("❌ migrasi tabel chat gagal")
	}
	database.WarmUpQueries(log)

	storage := helperOSS.NewObjectStorageFromEnv(log, cfg.PublicBaseURL)
	broker := newBroker(cfg, log)

	chat := chatRoute.NewModule(database.DB, broker, storage, cfg, log)

	if configs.GetEnvBool("SEED_DEMO", false) {
		if err := seeds.RunAllSeeds(context.Background(), database.DB, chat.Service, log); err != nil {
			log.Error().Err(err).Msg("❌ seed demo gagal")
		}
	}

	// ⏱ reaper setelah DB siap
	reaperCron, err := attachment.StartReaperCron(chat.Reaper, cfg.ReaperSchedule)
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.ReaperSchedule).Msg("❌ jadwal reaper tidak valid")
	}

	// ✅ Routes
	routes.SetupRoutes(app, routes.Deps{DB: database.DB, Chat: chat, Log: log})

	// 🔒 Keep-Alive & timeout koneksi server
	app.Server().ReadTimeout = 15 * time.Second
	app.Server().WriteTimeout = 30 * time.Second
	app.Server().IdleTimeout = 90 * time.Second

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	go func() {
		log.Info().Str("port", port).Msg("✅ Listening")
		if err := app.Listen("0.0.0.0:" + port); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// graceful shutdown: server → cron → broker → DB
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("🛑 shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(ctx)

	<-reaperCron.Stop().Done()
	if err := broker.Close(); err != nil {
		log.Warn().Err(err).Msg("broker close")
	}
	database.Close()
}

// newBroker: redis kalau dikonfigurasi dan bisa dihubungi, selain itu memory.
func newBroker(cfg configs.ChatConfig, log zerolog.Logger) realtime.Broker {
	if cfg.RealtimeBackend != configs.RealtimeBackendRedis {
		return realtime.NewMemoryBroker()
	}
	client, err := realtime.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ REDIS_URL tidak valid, fallback ke memory broker")
		return realtime.NewMemoryBroker()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	b, err := realtime.NewRedisBroker(ctx, client, log)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ redis tidak bisa dihubungi, fallback ke memory broker")
		_ = client.Close()
		return realtime.NewMemoryBroker()
	}
	log.Info().Msg("📡 realtime broker: redis")
	return b
}
