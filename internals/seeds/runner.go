package seeds

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/chat/service"
	userModel "sekolahchat_backend/internals/features/users/user/model"
	chatSeed "sekolahchat_backend/internals/seeds/chat"
	users "sekolahchat_backend/internals/seeds/users"
)

const usersFile = "internals/seeds/users/data_users.json"

// RunAllSeeds dipanggil saat SEED_DEMO=true. Tabel users dimigrasi di sini
// karena di produksi tabel itu milik sistem auth.
func RunAllSeeds(ctx context.Context, db *gorm.DB, svc *service.ChatService, log zerolog.Logger) error {
	if err := db.AutoMigrate(&userModel.UserModel{}); err != nil {
		return err
	}

	//* User
	seeded, err := users.SeedUsersFromJSON(db, usersFile, log)
	if err != nil {
		return err
	}

	//* Chat
	return chatSeed.SeedDemoRooms(ctx, db, svc, seeded, log)
}
