package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RoomKind string

const (
	RoomKindDirect RoomKind = "direct"
	RoomKindGroup  RoomKind = "group"
)

func (k RoomKind) Valid() bool { return k == RoomKindDirect || k == RoomKindGroup }

// LastMessagePreview is the denormalised summary rendered by chat lists.
// It is a cache: the latest message row is always the source of truth.
type LastMessagePreview struct {
	MessageID uuid.UUID   `json:"message_id"`
	Seq       int64       `json:"seq"`
	SenderID  uuid.UUID   `json:"sender_id"`
	Type      MessageType `json:"type"`
	Preview   string      `json:"preview"`
	SentAt    time.Time   `json:"sent_at"`
}

type RoomModel struct {
	ChatRoomID        uuid.UUID  `gorm:"column:chat_room_id;type:uuid;primaryKey" json:"chat_room_id"`
	ChatRoomKind      RoomKind   `gorm:"column:chat_room_kind;type:varchar(10);not null" json:"chat_room_kind"`
	ChatRoomName      *string    `gorm:"column:chat_room_name;type:varchar(120)" json:"chat_room_name,omitempty"`
	ChatRoomAvatarURL *string    `gorm:"column:chat_room_avatar_url;type:text" json:"chat_room_avatar_url,omitempty"`
	ChatRoomDirectKey *string    `gorm:"column:chat_room_direct_key;type:varchar(80);uniqueIndex:uq_chat_rooms_direct_key" json:"-"` // "<uuid>:<uuid>" urut
	ChatRoomCreatedBy uuid.UUID  `gorm:"column:chat_room_created_by;type:uuid;not null" json:"chat_room_created_by"`
	ChatRoomIsActive  bool       `gorm:"column:chat_room_is_active;not null;default:true" json:"chat_room_is_active"`
	ChatRoomLastSeq   int64      `gorm:"column:chat_room_last_seq;not null;default:0" json:"chat_room_last_seq"`
	ChatRoomLastMsgAt *time.Time `gorm:"column:chat_room_last_message_at;index:idx_chat_rooms_last_message_at" json:"chat_room_last_message_at,omitempty"`

	ChatRoomLastMessage datatypes.JSONType[LastMessagePreview] `gorm:"column:chat_room_last_message" json:"chat_room_last_message"`

	ChatRoomCreatedAt time.Time `gorm:"column:chat_room_created_at;autoCreateTime" json:"chat_room_created_at"`
	ChatRoomUpdatedAt time.Time `gorm:"column:chat_room_updated_at;autoUpdateTime" json:"chat_room_updated_at"`
}

func (RoomModel) TableName() string { return "chat_rooms" }

func (m *RoomModel) BeforeCreate(tx *gorm.DB) error {
	if m.ChatRoomID == uuid.Nil {
		m.ChatRoomID = uuid.New()
	}
	return nil
}

// HasPreview reports whether the denormalised preview is populated.
func (m *RoomModel) HasPreview() bool {
	return m.ChatRoomLastMessage.Data().Seq > 0
}

// SortTime is the recency key used by chat lists.
func (m *RoomModel) SortTime() time.Time {
	if m.ChatRoomLastMsgAt != nil {
		return *m.ChatRoomLastMsgAt
	}
	return m.ChatRoomCreatedAt
}

// DirectKey builds the dedup key of a direct room; order of a and b does not matter.
func DirectKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}
