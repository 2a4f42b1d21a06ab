package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeOther MessageType = "other"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeOther:
		return true
	}
	return false
}

// MessageTypeFromMime maps an attachment mime type to a message type.
func MessageTypeFromMime(mime string) MessageType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MessageTypeImage
	case strings.HasPrefix(mime, "video/"):
		return MessageTypeVideo
	default:
		return MessageTypeOther
	}
}

// MessageModel tidak pernah dihapus fisik; seq per room harus tetap utuh
// untuk hitungan unread.
type MessageModel struct {
	ChatMessageID           uuid.UUID   `gorm:"column:chat_message_id;type:uuid;primaryKey" json:"chat_message_id"`
	ChatMessageRoomID       uuid.UUID   `gorm:"column:chat_message_room_id;type:uuid;not null;uniqueIndex:uq_chat_messages_room_seq,priority:1" json:"chat_message_room_id"`
	ChatMessageSeq          int64       `gorm:"column:chat_message_seq;not null;uniqueIndex:uq_chat_messages_room_seq,priority:2" json:"chat_message_seq"`
	ChatMessageSenderID     uuid.UUID   `gorm:"column:chat_message_sender_id;type:uuid;not null;index:idx_chat_messages_sender" json:"chat_message_sender_id"`
	ChatMessageContent      *string     `gorm:"column:chat_message_content;type:text" json:"chat_message_content,omitempty"`
	ChatMessageType         MessageType `gorm:"column:chat_message_type;type:varchar(10);not null;default:'text'" json:"chat_message_type"`
	ChatMessageAttachmentID *uuid.UUID  `gorm:"column:chat_message_attachment_id;type:uuid" json:"chat_message_attachment_id,omitempty"`
	ChatMessageCreatedAt    time.Time   `gorm:"column:chat_message_created_at;autoCreateTime" json:"chat_message_created_at"`
	ChatMessageEditedAt     *time.Time  `gorm:"column:chat_message_edited_at" json:"chat_message_edited_at,omitempty"`
	ChatMessageDeletedAt    *time.Time  `gorm:"column:chat_message_deleted_at" json:"chat_message_deleted_at,omitempty"`
	ChatMessageDeletedBy    *uuid.UUID  `gorm:"column:chat_message_deleted_by;type:uuid" json:"chat_message_deleted_by,omitempty"`

	Attachment *AttachmentModel `gorm:"-" json:"attachment,omitempty"`
}

func (MessageModel) TableName() string { return "chat_messages" }

func (m *MessageModel) BeforeCreate(tx *gorm.DB) error {
	if m.ChatMessageID == uuid.Nil {
		m.ChatMessageID = uuid.New()
	}
	return nil
}

func (m *MessageModel) IsDeleted() bool { return m.ChatMessageDeletedAt != nil }

const previewMaxRunes = 120

// Preview builds the list preview of this message.
func (m *MessageModel) Preview() LastMessagePreview {
	text := ""
	if m.ChatMessageContent != nil {
		text = strings.Join(strings.Fields(*m.ChatMessageContent), " ")
	}
	if text == "" {
		switch m.ChatMessageType {
		case MessageTypeImage:
			text = "[image]"
		case MessageTypeVideo:
			text = "[video]"
		case MessageTypeOther:
			text = "[file]"
		}
	}
	if utf8.RuneCountInString(text) > previewMaxRunes {
		r := []rune(text)
		text = string(r[:previewMaxRunes]) + "…"
	}
	return LastMessagePreview{
		MessageID: m.ChatMessageID,
		Seq:       m.ChatMessageSeq,
		SenderID:  m.ChatMessageSenderID,
		Type:      m.ChatMessageType,
		Preview:   text,
		SentAt:    m.ChatMessageCreatedAt,
	}
}
