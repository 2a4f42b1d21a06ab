package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AttachmentModel: metadata objek di storage. Baris tanpa message_id
// adalah orphan (upload sukses, append gagal) dan dibersihkan reaper.
type AttachmentModel struct {
	ChatAttachmentID           uuid.UUID  `gorm:"column:chat_attachment_id;type:uuid;primaryKey" json:"chat_attachment_id"`
	ChatAttachmentRoomID       uuid.UUID  `gorm:"column:chat_attachment_room_id;type:uuid;not null;index:idx_chat_attachments_room" json:"chat_attachment_room_id"`
	ChatAttachmentUploaderID   uuid.UUID  `gorm:"column:chat_attachment_uploader_id;type:uuid;not null" json:"chat_attachment_uploader_id"`
	ChatAttachmentObjectKey    string     `gorm:"column:chat_attachment_object_key;type:text;not null" json:"chat_attachment_object_key"`
	ChatAttachmentThumbnailKey *string    `gorm:"column:chat_attachment_thumbnail_key;type:text" json:"chat_attachment_thumbnail_key,omitempty"`
	ChatAttachmentMimeType     string     `gorm:"column:chat_attachment_mime_type;type:varchar(120);not null" json:"chat_attachment_mime_type"`
	ChatAttachmentSizeBytes    int64      `gorm:"column:chat_attachment_size_bytes;not null" json:"chat_attachment_size_bytes"`
	ChatAttachmentFileName     string     `gorm:"column:chat_attachment_file_name;type:varchar(255)" json:"chat_attachment_file_name"`
	ChatAttachmentMessageID    *uuid.UUID `gorm:"column:chat_attachment_message_id;type:uuid;index:idx_chat_attachments_message" json:"chat_attachment_message_id,omitempty"`
	ChatAttachmentCreatedAt    time.Time  `gorm:"column:chat_attachment_created_at;autoCreateTime;index:idx_chat_attachments_created_at" json:"chat_attachment_created_at"`
	ChatAttachmentLinkedAt     *time.Time `gorm:"column:chat_attachment_linked_at" json:"chat_attachment_linked_at,omitempty"`
}

func (AttachmentModel) TableName() string { return "chat_attachments" }

func (m *AttachmentModel) BeforeCreate(tx *gorm.DB) error {
	if m.ChatAttachmentID == uuid.Nil {
		m.ChatAttachmentID = uuid.New()
	}
	return nil
}

func (m *AttachmentModel) Linked() bool { return m.ChatAttachmentMessageID != nil }

// All returns every chat table model in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&RoomModel{},
		&ParticipantModel{},
		&AttachmentModel{},
		&MessageModel{},
	}
}
