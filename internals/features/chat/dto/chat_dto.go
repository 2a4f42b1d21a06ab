package dto

import (
	"time"

	"github.com/google/uuid"

	"sekolahchat_backend/internals/features/chat/model"
)

/* ===================== REQUEST ===================== */

type CreateDirectRoomRequest struct {
	PeerID string `json:"peer_id" validate:"required,uuid"`
}

type CreateGroupRoomRequest struct {
	Name           string   `json:"name" validate:"omitempty,max=120"`
	AvatarURL      *string  `json:"avatar_url" validate:"omitempty,url"`
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,max=500,dive,uuid"`
}

type SendMessageRequest struct {
	Content      *string `json:"content" validate:"omitempty,max=16000"`
	AttachmentID *string `json:"attachment_id" validate:"omitempty,uuid"`
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required,max=16000"`
}

type MarkReadRequest struct {
	UptoSeq int64 `json:"upto_seq" validate:"gte=0"`
}

type AddParticipantsRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=500,dive,uuid"`
}

/* ===================== RESPONSE ===================== */

type AttachmentResponse struct {
	AttachmentID uuid.UUID `json:"attachment_id"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	FileName     string    `json:"file_name,omitempty"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
}

// MessageResponse is the message shape shared by REST responses and
// realtime event bodies.
type MessageResponse struct {
	MessageID  uuid.UUID           `json:"message_id"`
	RoomID     uuid.UUID           `json:"room_id"`
	Seq        int64               `json:"seq"`
	SenderID   uuid.UUID           `json:"sender_id"`
	Type       model.MessageType   `json:"type"`
	Content    *string             `json:"content,omitempty"`
	Attachment *AttachmentResponse `json:"attachment,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	EditedAt   *time.Time          `json:"edited_at,omitempty"`
	Deleted    bool                `json:"deleted"`
}

// URLFunc maps an object key to its public URL.
type URLFunc func(objectKey string) string

func FromMessage(m *model.MessageModel, url URLFunc) MessageResponse {
	out := MessageResponse{
		MessageID: m.ChatMessageID,
		RoomID:    m.ChatMessageRoomID,
		Seq:       m.ChatMessageSeq,
		SenderID:  m.ChatMessageSenderID,
		Type:      m.ChatMessageType,
		Content:   m.ChatMessageContent,
		CreatedAt: m.ChatMessageCreatedAt,
		EditedAt:  m.ChatMessageEditedAt,
		Deleted:   m.IsDeleted(),
	}
	if out.Deleted {
		out.Content = nil
		return out
	}
	if a := m.Attachment; a != nil {
		ar := &AttachmentResponse{
			AttachmentID: a.ChatAttachmentID,
			MimeType:     a.ChatAttachmentMimeType,
			SizeBytes:    a.ChatAttachmentSizeBytes,
			FileName:     a.ChatAttachmentFileName,
		}
		if url != nil {
			ar.URL = url(a.ChatAttachmentObjectKey)
			if a.ChatAttachmentThumbnailKey != nil {
				ar.ThumbnailURL = url(*a.ChatAttachmentThumbnailKey)
			}
		}
		out.Attachment = ar
	}
	return out
}

func FromMessages(ms []model.MessageModel, url URLFunc) []MessageResponse {
	out := make([]MessageResponse, 0, len(ms))
	for i := range ms {
		out = append(out, FromMessage(&ms[i], url))
	}
	return out
}

// MessagePage carries a history page. NextBefore is 0 when there is nothing
// older to load.
type MessagePage struct {
	Messages   []MessageResponse `json:"messages"`
	HasMore    bool              `json:"has_more"`
	NextBefore int64             `json:"next_before,omitempty"`
}

type ParticipantResponse struct {
	UserID      uuid.UUID             `json:"user_id"`
	Role        model.ParticipantRole `json:"role"`
	LastReadSeq int64                 `json:"last_read_seq"`
	JoinedAt    time.Time             `json:"joined_at"`
	LeftAt      *time.Time            `json:"left_at,omitempty"`
}

func FromParticipants(ps []model.ParticipantModel) []ParticipantResponse {
	out := make([]ParticipantResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, ParticipantResponse{
			UserID:      p.ChatParticipantUserID,
			Role:        p.ChatParticipantRole,
			LastReadSeq: p.ChatParticipantLastReadSeq,
			JoinedAt:    p.ChatParticipantJoinedAt,
			LeftAt:      p.ChatParticipantLeftAt,
		})
	}
	return out
}

type RoomResponse struct {
	RoomID       uuid.UUID                 `json:"room_id"`
	Kind         model.RoomKind            `json:"kind"`
	Name         *string                   `json:"name,omitempty"`
	AvatarURL    *string                   `json:"avatar_url,omitempty"`
	CreatedBy    uuid.UUID                 `json:"created_by"`
	IsActive     bool                      `json:"is_active"`
	LastSeq      int64                     `json:"last_seq"`
	LastMessage  *model.LastMessagePreview `json:"last_message,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	Participants []ParticipantResponse     `json:"participants,omitempty"`
}

func FromRoom(r *model.RoomModel) RoomResponse {
	out := RoomResponse{
		RoomID:    r.ChatRoomID,
		Kind:      r.ChatRoomKind,
		Name:      r.ChatRoomName,
		AvatarURL: r.ChatRoomAvatarURL,
		CreatedBy: r.ChatRoomCreatedBy,
		IsActive:  r.ChatRoomIsActive,
		LastSeq:   r.ChatRoomLastSeq,
		CreatedAt: r.ChatRoomCreatedAt,
	}
	if r.HasPreview() {
		p := r.ChatRoomLastMessage.Data()
		out.LastMessage = &p
	}
	return out
}

// ReadCursorResponse is also the body of read.updated events.
type ReadCursorResponse struct {
	RoomID      uuid.UUID `json:"room_id"`
	LastReadSeq int64     `json:"last_read_seq"`
	Advanced    bool      `json:"advanced"`
	UnreadCount int64     `json:"unread_count"`
}

type UnreadCountResponse struct {
	RoomID      uuid.UUID `json:"room_id"`
	UnreadCount int64     `json:"unread_count"`
}
