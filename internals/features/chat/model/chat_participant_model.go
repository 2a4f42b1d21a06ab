package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ParticipantRole string

const (
	ParticipantRoleMember ParticipantRole = "member"
	ParticipantRoleOwner  ParticipantRole = "owner"
)

// ParticipantModel: membership user ↔ room, sekaligus read cursor.
// Pair (room, user) unik; cursor hanya boleh naik.
type ParticipantModel struct {
	ChatParticipantID          uuid.UUID       `gorm:"column:chat_participant_id;type:uuid;primaryKey" json:"chat_participant_id"`
	ChatParticipantRoomID      uuid.UUID       `gorm:"column:chat_participant_room_id;type:uuid;not null;uniqueIndex:uq_chat_participants_room_user,priority:1" json:"chat_participant_room_id"`
	ChatParticipantUserID      uuid.UUID       `gorm:"column:chat_participant_user_id;type:uuid;not null;uniqueIndex:uq_chat_participants_room_user,priority:2;index:idx_chat_participants_user" json:"chat_participant_user_id"`
	ChatParticipantRole        ParticipantRole `gorm:"column:chat_participant_role;type:varchar(10);not null;default:'member'" json:"chat_participant_role"`
	ChatParticipantLastReadSeq int64           `gorm:"column:chat_participant_last_read_seq;not null;default:0" json:"chat_participant_last_read_seq"`
	ChatParticipantJoinedAt    time.Time       `gorm:"column:chat_participant_joined_at;autoCreateTime" json:"chat_participant_joined_at"`
	ChatParticipantLeftAt      *time.Time      `gorm:"column:chat_participant_left_at" json:"chat_participant_left_at,omitempty"`
	ChatParticipantUpdatedAt   time.Time       `gorm:"column:chat_participant_updated_at;autoUpdateTime" json:"chat_participant_updated_at"`
}

func (ParticipantModel) TableName() string { return "chat_participants" }

func (m *ParticipantModel) BeforeCreate(tx *gorm.DB) error {
	if m.ChatParticipantID == uuid.Nil {
		m.ChatParticipantID = uuid.New()
	}
	if m.ChatParticipantRole == "" {
		m.ChatParticipantRole = ParticipantRoleMember
	}
	return nil
}

func (m *ParticipantModel) Active() bool { return m.ChatParticipantLeftAt == nil }

func (m *ParticipantModel) IsOwner() bool { return m.ChatParticipantRole == ParticipantRoleOwner }
