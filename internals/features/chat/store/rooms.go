package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/model"
)

type CreateRoomInput struct {
	Kind           model.RoomKind
	CreatorID      uuid.UUID
	ParticipantIDs []uuid.UUID
	Name           *string
	AvatarURL      *string
}

// CreateRoom creates a room with its participants. Direct rooms are
// deduplicated by participant pair: asking again for the same pair returns
// the existing room with created=false.
func (s *Store) CreateRoom(ctx context.Context, in CreateRoomInput) (room *model.RoomModel, created bool, err error) {
	switch in.Kind {
	case model.RoomKindDirect:
		return s.createDirect(ctx, in)
	case model.RoomKindGroup:
		return s.createGroup(ctx, in)
	default:
		return nil, false, chaterr.Newf(chaterr.KindValidation, "jenis room tidak dikenal: %q", in.Kind)
	}
}

func (s *Store) createDirect(ctx context.Context, in CreateRoomInput) (*model.RoomModel, bool, error) {
	ids := uniqueIDs(in.ParticipantIDs)
	if len(ids) != 2 {
		return nil, false, chaterr.New(chaterr.KindInvalidParticipants, "room direct butuh tepat dua peserta berbeda")
	}
	creator := in.CreatorID
	if creator == uuid.Nil {
		creator = ids[0]
	}
	if creator != ids[0] && creator != ids[1] {
		return nil, false, chaterr.New(chaterr.KindInvalidParticipants, "pembuat room direct harus salah satu peserta")
	}

	key := model.DirectKey(ids[0], ids[1])
	if existing, err := s.findDirect(ctx, key); err != nil || existing != nil {
		return existing, false, err
	}

	room := &model.RoomModel{
		ChatRoomKind:      model.RoomKindDirect,
		ChatRoomDirectKey: &key,
		ChatRoomCreatedBy: creator,
		ChatRoomIsActive:  true,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		parts := []model.ParticipantModel{
			{ChatParticipantRoomID: room.ChatRoomID, ChatParticipantUserID: ids[0], ChatParticipantRole: model.ParticipantRoleMember},
			{ChatParticipantRoomID: room.ChatRoomID, ChatParticipantUserID: ids[1], ChatParticipantRole: model.ParticipantRoleMember},
		}
		return tx.Create(&parts).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// kalah balapan dengan request lain untuk pasangan yang sama
		existing, ferr := s.findDirect(ctx, key)
		if ferr != nil {
			return nil, false, ferr
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, chaterr.Store(err, "create direct room")
	}
	return room, true, nil
}

func (s *Store) findDirect(ctx context.Context, key string) (*model.RoomModel, error) {
	var room model.RoomModel
	err := s.DB.WithContext(ctx).Where("chat_room_direct_key = ?", key).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, chaterr.Store(err, "find direct room")
	}
	return &room, nil
}

func (s *Store) createGroup(ctx context.Context, in CreateRoomInput) (*model.RoomModel, bool, error) {
	if in.CreatorID == uuid.Nil {
		return nil, false, chaterr.New(chaterr.KindInvalidParticipants, "room grup butuh pembuat")
	}
	ids := uniqueIDs(append([]uuid.UUID{in.CreatorID}, in.ParticipantIDs...))

	var name *string
	if in.Name != nil {
		if n := strings.TrimSpace(*in.Name); n != "" {
			name = &n
		}
	}

	room := &model.RoomModel{
		ChatRoomKind:      model.RoomKindGroup,
		ChatRoomName:      name,
		ChatRoomAvatarURL: in.AvatarURL,
		ChatRoomCreatedBy: in.CreatorID,
		ChatRoomIsActive:  true,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		parts := make([]model.ParticipantModel, 0, len(ids))
		for _, id := range ids {
			role := model.ParticipantRoleMember
			if id == in.CreatorID {
				role = model.ParticipantRoleOwner
			}
			parts = append(parts, model.ParticipantModel{
				ChatParticipantRoomID: room.ChatRoomID,
				ChatParticipantUserID: id,
				ChatParticipantRole:   role,
			})
		}
		return tx.Create(&parts).Error
	})
	if err != nil {
		return nil, false, chaterr.Store(err, "create group room")
	}
	return room, true, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID uuid.UUID) (*model.RoomModel, error) {
	var room model.RoomModel
	if err := s.DB.WithContext(ctx).Where("chat_room_id = ?", roomID).Take(&room).Error; err != nil {
		return nil, notFoundOr(err, "room")
	}
	return &room, nil
}

// DisableRoom soft-disables a room. Group rooms need an owner; either
// member of a direct room may disable it.
func (s *Store) DisableRoom(ctx context.Context, roomID, actorID uuid.UUID) (*model.RoomModel, error) {
	var room model.RoomModel
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_room_id = ?", roomID).Take(&room).Error; err != nil {
			return notFoundOr(err, "room")
		}
		actor, err := requireActive(tx, roomID, actorID)
		if err != nil {
			return err
		}
		if room.ChatRoomKind == model.RoomKindGroup && !actor.IsOwner() {
			return chaterr.New(chaterr.KindForbidden, "hanya owner yang boleh menonaktifkan grup")
		}
		if !room.ChatRoomIsActive {
			return nil
		}
		room.ChatRoomIsActive = false
		return tx.Model(&model.RoomModel{}).
			Where("chat_room_id = ?", roomID).
			Update("chat_room_is_active", false).Error
	})
	if err != nil {
		return nil, chaterr.Store(err, "disable room")
	}
	return &room, nil
}

// Membership is one row of a user's room list.
type Membership struct {
	Room        model.RoomModel
	Participant model.ParticipantModel
}

// RoomsForUser returns every active room the user currently belongs to,
// in two queries regardless of the number of rooms.
func (s *Store) RoomsForUser(ctx context.Context, userID uuid.UUID) ([]Membership, error) {
	db := s.DB.WithContext(ctx)

	var parts []model.ParticipantModel
	if err := db.
		Where("chat_participant_user_id = ? AND chat_participant_left_at IS NULL", userID).
		Find(&parts).Error; err != nil {
		return nil, chaterr.Store(err, "list memberships")
	}
	if len(parts) == 0 {
		return []Membership{}, nil
	}

	roomIDs := make([]uuid.UUID, 0, len(parts))
	for i := range parts {
		roomIDs = append(roomIDs, parts[i].ChatParticipantRoomID)
	}
	var rooms []model.RoomModel
	if err := db.
		Where("chat_room_id IN ? AND chat_room_is_active = ?", roomIDs, true).
		Find(&rooms).Error; err != nil {
		return nil, chaterr.Store(err, "list rooms")
	}
	byID := make(map[uuid.UUID]model.RoomModel, len(rooms))
	for _, r := range rooms {
		byID[r.ChatRoomID] = r
	}

	out := make([]Membership, 0, len(rooms))
	for _, p := range parts {
		if r, ok := byID[p.ChatParticipantRoomID]; ok {
			out = append(out, Membership{Room: r, Participant: p})
		}
	}
	return out, nil
}

// touchRoom updates the denormalised recency fields after an append.
func touchRoom(tx *gorm.DB, msg *model.MessageModel) error {
	return tx.Model(&model.RoomModel{}).
		Where("chat_room_id = ?", msg.ChatMessageRoomID).
		Updates(map[string]any{
			"chat_room_last_message_at": msg.ChatMessageCreatedAt,
			"chat_room_last_message":    newPreview(msg.Preview()),
		}).Error
}
