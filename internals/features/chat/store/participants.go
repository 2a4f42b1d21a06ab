package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/model"
)

// requireActive loads the caller's membership; a missing or departed
// participant yields NotAParticipant.
func requireActive(tx *gorm.DB, roomID, userID uuid.UUID) (*model.ParticipantModel, error) {
	var p model.ParticipantModel
	err := tx.
		Where("chat_participant_room_id = ? AND chat_participant_user_id = ?", roomID, userID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !p.Active()) {
		return nil, chaterr.New(chaterr.KindNotAParticipant, "kamu bukan peserta room ini")
	}
	if err != nil {
		return nil, chaterr.Store(err, "load participant")
	}
	return &p, nil
}

func (s *Store) RequireParticipant(ctx context.Context, roomID, userID uuid.UUID) (*model.ParticipantModel, error) {
	return requireActive(s.DB.WithContext(ctx), roomID, userID)
}

// ListParticipants returns the room's members ordered by join time.
// Departed members are included only when includeLeft is set.
func (s *Store) ListParticipants(ctx context.Context, roomID uuid.UUID, includeLeft bool) ([]model.ParticipantModel, error) {
	q := s.DB.WithContext(ctx).Where("chat_participant_room_id = ?", roomID)
	if !includeLeft {
		q = q.Where("chat_participant_left_at IS NULL")
	}
	var out []model.ParticipantModel
	if err := q.Order("chat_participant_joined_at ASC, chat_participant_id ASC").Find(&out).Error; err != nil {
		return nil, chaterr.Store(err, "list participants")
	}
	return out, nil
}

// ActiveMemberIDs returns the active member ids of each requested room.
func (s *Store) ActiveMemberIDs(ctx context.Context, roomIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	out := make(map[uuid.UUID][]uuid.UUID, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}
	var rows []model.ParticipantModel
	if err := s.DB.WithContext(ctx).
		Select("chat_participant_room_id", "chat_participant_user_id").
		Where("chat_participant_room_id IN ? AND chat_participant_left_at IS NULL", roomIDs).
		Order("chat_participant_joined_at ASC, chat_participant_id ASC").
		Find(&rows).Error; err != nil {
		return nil, chaterr.Store(err, "list room members")
	}
	for _, r := range rows {
		out[r.ChatParticipantRoomID] = append(out[r.ChatParticipantRoomID], r.ChatParticipantUserID)
	}
	return out, nil
}

// AddParticipants adds users to a group room. Only owners may add. Users
// who left earlier are re-activated. New members start with their cursor at
// the room's latest message so old history is not counted as unread.
func (s *Store) AddParticipants(ctx context.Context, roomID, actorID uuid.UUID, userIDs []uuid.UUID) ([]model.ParticipantModel, error) {
	ids := uniqueIDs(userIDs)
	if len(ids) == 0 {
		return nil, chaterr.New(chaterr.KindInvalidParticipants, "daftar peserta kosong")
	}

	var added []model.ParticipantModel
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room model.RoomModel
		if err := tx.Where("chat_room_id = ?", roomID).Take(&room).Error; err != nil {
			return notFoundOr(err, "room")
		}
		if room.ChatRoomKind != model.RoomKindGroup {
			return chaterr.New(chaterr.KindInvalidParticipants, "peserta room direct tidak bisa diubah")
		}
		if !room.ChatRoomIsActive {
			return chaterr.New(chaterr.KindForbidden, "room sudah dinonaktifkan")
		}
		actor, err := requireActive(tx, roomID, actorID)
		if err != nil {
			return err
		}
		if !actor.IsOwner() {
			return chaterr.New(chaterr.KindForbidden, "hanya owner yang boleh menambah peserta")
		}

		var existing []model.ParticipantModel
		if err := tx.
			Where("chat_participant_room_id = ? AND chat_participant_user_id IN ?", roomID, ids).
			Find(&existing).Error; err != nil {
			return err
		}
		byUser := make(map[uuid.UUID]model.ParticipantModel, len(existing))
		for _, p := range existing {
			byUser[p.ChatParticipantUserID] = p
		}

		now := time.Now().UTC()
		for _, uid := range ids {
			if p, ok := byUser[uid]; ok {
				if p.Active() {
					continue
				}
				if err := tx.Model(&model.ParticipantModel{}).
					Where("chat_participant_id = ?", p.ChatParticipantID).
					Updates(map[string]any{
						"chat_participant_left_at":       nil,
						"chat_participant_joined_at":     now,
						"chat_participant_role":          model.ParticipantRoleMember,
						"chat_participant_last_read_seq": room.ChatRoomLastSeq,
					}).Error; err != nil {
					return err
				}
				p.ChatParticipantLeftAt = nil
				p.ChatParticipantJoinedAt = now
				p.ChatParticipantRole = model.ParticipantRoleMember
				p.ChatParticipantLastReadSeq = room.ChatRoomLastSeq
				added = append(added, p)
				continue
			}
			p := model.ParticipantModel{
				ChatParticipantRoomID:      roomID,
				ChatParticipantUserID:      uid,
				ChatParticipantRole:        model.ParticipantRoleMember,
				ChatParticipantLastReadSeq: room.ChatRoomLastSeq,
			}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
			added = append(added, p)
		}
		return nil
	})
	if err != nil {
		return nil, chaterr.Store(err, "add participants")
	}
	return added, nil
}

// RemoveParticipant marks userID as departed. Members may remove
// themselves; removing someone else needs an owner. When the last owner
// leaves, the longest-standing remaining member becomes owner. A group left
// by its last member is disabled.
func (s *Store) RemoveParticipant(ctx context.Context, roomID, actorID, userID uuid.UUID) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room model.RoomModel
		if err := tx.Where("chat_room_id = ?", roomID).Take(&room).Error; err != nil {
			return notFoundOr(err, "room")
		}
		if room.ChatRoomKind != model.RoomKindGroup {
			return chaterr.New(chaterr.KindInvalidParticipants, "peserta room direct tidak bisa diubah")
		}
		actor, err := requireActive(tx, roomID, actorID)
		if err != nil {
			return err
		}
		target := actor
		if userID != actorID {
			if !actor.IsOwner() {
				return chaterr.New(chaterr.KindForbidden, "hanya owner yang boleh mengeluarkan peserta")
			}
			if target, err = requireActive(tx, roomID, userID); err != nil {
				return chaterr.New(chaterr.KindNotFound, "user bukan peserta room ini")
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(&model.ParticipantModel{}).
			Where("chat_participant_id = ?", target.ChatParticipantID).
			Update("chat_participant_left_at", now).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&model.ParticipantModel{}).
			Where("chat_participant_room_id = ? AND chat_participant_left_at IS NULL", roomID).
			Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			// grup tanpa anggota tidak boleh tetap aktif
			return tx.Model(&model.RoomModel{}).
				Where("chat_room_id = ?", roomID).
				Update("chat_room_is_active", false).Error
		}
		if !target.IsOwner() {
			return nil
		}

		var owners int64
		if err := tx.Model(&model.ParticipantModel{}).
			Where("chat_participant_room_id = ? AND chat_participant_left_at IS NULL AND chat_participant_role = ?",
				roomID, model.ParticipantRoleOwner).
			Count(&owners).Error; err != nil {
			return err
		}
		if owners > 0 {
			return nil
		}
		var heir model.ParticipantModel
		err = tx.
			Where("chat_participant_room_id = ? AND chat_participant_left_at IS NULL", roomID).
			Order("chat_participant_joined_at ASC, chat_participant_id ASC").
			Take(&heir).Error
		if err != nil {
			return err
		}
		return tx.Model(&model.ParticipantModel{}).
			Where("chat_participant_id = ?", heir.ChatParticipantID).
			Update("chat_participant_role", model.ParticipantRoleOwner).Error
	})
	return chaterr.Store(err, "remove participant")
}
