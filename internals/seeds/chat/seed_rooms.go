package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	chatModel "sekolahchat_backend/internals/features/chat/model"
	"sekolahchat_backend/internals/features/chat/service"
	userModel "sekolahchat_backend/internals/features/users/user/model"
)

const demoGroupName = "Kelas 5A - Orang Tua"

// SeedDemoRooms membuat satu room direct guru↔ortu dan satu grup kelas.
// Dilewati kalau grup demo sudah ada.
func SeedDemoRooms(ctx context.Context, db *gorm.DB, svc *service.ChatService, users []userModel.UserModel, log zerolog.Logger) error {
	var n int64
	if err := db.WithContext(ctx).Model(&chatModel.RoomModel{}).
		Where("chat_room_name = ?", demoGroupName).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		log.Info().Msg("ℹ️ room demo sudah ada, dilewati")
		return nil
	}

	var teacher uuid.UUID
	var members []uuid.UUID
	for _, u := range users {
		switch u.Role {
		case userModel.RoleTeacher:
			if teacher == uuid.Nil {
				teacher = u.ID
			}
		case userModel.RoleParent, userModel.RoleStudent:
			members = append(members, u.ID)
		}
	}
	if teacher == uuid.Nil || len(members) == 0 {
		log.Warn().Msg("⚠️ seed user belum lengkap, room demo tidak dibuat")
		return nil
	}

	room, _, err := svc.CreateDirect(ctx, teacher, members[0])
	if err != nil {
		return err
	}
	hello := "Selamat pagi, Pak. Besok ada rapat orang tua jam 9."
	if _, err := svc.SendMessage(ctx, service.SendInput{RoomID: room.ChatRoomID, SenderID: teacher, Content: &hello}); err != nil {
		return err
	}

	name := demoGroupName
	group, err := svc.CreateGroup(ctx, teacher, &name, nil, members)
	if err != nil {
		return err
	}
	welcome := "Selamat datang di grup kelas 5A 👋"
	if _, err := svc.SendMessage(ctx, service.SendInput{RoomID: group.ChatRoomID, SenderID: teacher, Content: &welcome}); err != nil {
		return err
	}
	log.Info().Str("direct", room.ChatRoomID.String()).Str("group", group.ChatRoomID.String()).Msg("✅ room demo dibuat")
	return nil
}
