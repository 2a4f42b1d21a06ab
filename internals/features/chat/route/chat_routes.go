package route

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/configs"
	"sekolahchat_backend/internals/constants"
	"sekolahchat_backend/internals/features/chat/attachment"
	"sekolahchat_backend/internals/features/chat/controller"
	"sekolahchat_backend/internals/features/chat/directory"
	"sekolahchat_backend/internals/features/chat/gateway"
	"sekolahchat_backend/internals/features/chat/readcursor"
	"sekolahchat_backend/internals/features/chat/realtime"
	"sekolahchat_backend/internals/features/chat/service"
	"sekolahchat_backend/internals/features/chat/store"
	helperOSS "sekolahchat_backend/internals/helpers/oss"
	"sekolahchat_backend/internals/middlewares"
	authMiddleware "sekolahchat_backend/internals/middlewares/auth"
)

// Module merangkai semua komponen chat di atas satu DB, broker dan storage.
type Module struct {
	Service    *service.ChatService
	Controller *controller.ChatController
	Gateway    *gateway.Gateway
	Reaper     *attachment.Reaper
	Cfg        configs.ChatConfig
}

func NewModule(db *gorm.DB, broker realtime.Broker, storage helperOSS.ObjectStorage, cfg configs.ChatConfig, log zerolog.Logger) *Module {
	st := store.New(db)
	tr := readcursor.New(db)
	svc := service.New(
		st, tr,
		directory.New(st, tr, directory.NewUserTableResolver(db), log),
		attachment.NewPipeline(db, storage, cfg, log),
		realtime.NewNotifier(broker, log),
		cfg, log,
	)
	reaper := attachment.NewReaper(db, storage, cfg.OrphanRetention, cfg.ReaperDryRun, log)
	return &Module{
		Service:    svc,
		Controller: controller.NewChatController(svc, reaper, log),
		Gateway:    gateway.New(broker, svc, log),
		Reaper:     reaper,
		Cfg:        cfg,
	}
}

// ChatUserRoutes: /api/u/chat/... (JWT sudah dipasang di group induk)
func ChatUserRoutes(r fiber.Router, m *Module) {
	ctl := m.Controller
	send := middlewares.SendMessageRateLimiter(configs.GetEnvInt("CHAT_SEND_PER_MINUTE", 60))
	upload := middlewares.UploadRateLimiter(configs.GetEnvInt("CHAT_UPLOAD_PER_MINUTE", 20))

	g := r.Group("/chat")

	// 💬 Rooms
	g.Post("/rooms/direct", ctl.CreateDirectRoom)
	g.Post("/rooms/group", ctl.CreateGroupRoom)
	g.Get("/rooms", ctl.ListRooms)
	g.Get("/rooms/:id", ctl.GetRoom)
	g.Delete("/rooms/:id", ctl.DisableRoom)
	g.Post("/rooms/:id/participants", ctl.AddParticipants)
	g.Delete("/rooms/:id/participants/:userId", ctl.RemoveParticipant)

	// ✉️ Messages
	g.Get("/rooms/:id/messages", ctl.ListMessages)
	g.Post("/rooms/:id/messages", send, ctl.SendMessage)
	g.Post("/rooms/:id/attachments", upload, ctl.UploadAttachment)
	g.Post("/direct/:peerId/messages", send, ctl.SendDirect)
	g.Patch("/messages/:id", ctl.EditMessage)
	g.Delete("/messages/:id", ctl.DeleteMessage)

	// 👀 Read cursor
	g.Post("/rooms/:id/read", ctl.MarkRead)
	g.Get("/rooms/:id/unread", ctl.UnreadCount)
	g.Get("/unread", ctl.UnreadCounts)

	// 🔌 Realtime
	g.Get("/ws", m.Gateway.Handler())
}

// ChatAdminRoutes: /api/a/chat/... khusus admin sekolah
func ChatAdminRoutes(r fiber.Router, m *Module) {
	g := r.Group("/chat", authMiddleware.OnlyRoles(constants.RoleErrorAdmin("pemeliharaan chat"), constants.AdminOnly...))
	g.Post("/attachments/reap", m.Controller.ReapOrphans)
}
