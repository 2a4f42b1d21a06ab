package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/model"
)

const (
	DefaultPageSize = 30
	MaxPageSize     = 100
)

type AppendInput struct {
	RoomID       uuid.UUID
	SenderID     uuid.UUID
	Content      *string
	Type         model.MessageType // kosong: diturunkan dari attachment / text
	AttachmentID *uuid.UUID
}

func newPreview(p model.LastMessagePreview) datatypes.JSONType[model.LastMessagePreview] {
	return datatypes.NewJSONType(p)
}

// AppendMessage stores a new message and, in the same transaction, assigns
// the next room seq, links the attachment, refreshes the room preview and
// moves the sender's own read cursor to the new message.
func (s *Store) AppendMessage(ctx context.Context, in AppendInput) (*model.MessageModel, error) {
	content, err := normalizeContent(in.Content)
	if err != nil {
		return nil, err
	}
	if content == nil && in.AttachmentID == nil {
		return nil, chaterr.New(chaterr.KindEmptyMessage, "pesan kosong")
	}
	if in.Type != "" && !in.Type.Valid() {
		return nil, chaterr.Newf(chaterr.KindValidation, "tipe pesan tidak dikenal: %q", in.Type)
	}

	msg := &model.MessageModel{
		ChatMessageRoomID:       in.RoomID,
		ChatMessageSenderID:     in.SenderID,
		ChatMessageContent:      content,
		ChatMessageType:         in.Type,
		ChatMessageAttachmentID: in.AttachmentID,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// alokasi seq duluan: UPDATE mengunci baris room sampai commit
		res := tx.Model(&model.RoomModel{}).
			Where("chat_room_id = ?", in.RoomID).
			Update("chat_room_last_seq", gorm.Expr("chat_room_last_seq + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return chaterr.New(chaterr.KindNotFound, "room tidak ditemukan")
		}

		var room model.RoomModel
		if err := tx.Where("chat_room_id = ?", in.RoomID).Take(&room).Error; err != nil {
			return err
		}
		if _, err := requireActive(tx, in.RoomID, in.SenderID); err != nil {
			return err
		}
		if !room.ChatRoomIsActive {
			return chaterr.New(chaterr.KindForbidden, "room sudah dinonaktifkan")
		}

		if in.AttachmentID != nil {
			att, err := claimableAttachment(tx, *in.AttachmentID, in.RoomID, in.SenderID)
			if err != nil {
				return err
			}
			if msg.ChatMessageType == "" || msg.ChatMessageType == model.MessageTypeText {
				msg.ChatMessageType = model.MessageTypeFromMime(att.ChatAttachmentMimeType)
			}
			msg.Attachment = att
		}
		if msg.ChatMessageType == "" {
			msg.ChatMessageType = model.MessageTypeText
		}

		msg.ChatMessageSeq = room.ChatRoomLastSeq
		msg.ChatMessageCreatedAt = time.Now().UTC()
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		if msg.Attachment != nil {
			linkedAt := msg.ChatMessageCreatedAt
			res := tx.Model(&model.AttachmentModel{}).
				Where("chat_attachment_id = ? AND chat_attachment_message_id IS NULL", msg.Attachment.ChatAttachmentID).
				Updates(map[string]any{
					"chat_attachment_message_id": msg.ChatMessageID,
					"chat_attachment_linked_at":  linkedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return chaterr.New(chaterr.KindForbidden, "attachment sudah dipakai pesan lain")
			}
			msg.Attachment.ChatAttachmentMessageID = &msg.ChatMessageID
			msg.Attachment.ChatAttachmentLinkedAt = &linkedAt
		}

		if err := touchRoom(tx, msg); err != nil {
			return err
		}
		return tx.Model(&model.ParticipantModel{}).
			Where("chat_participant_room_id = ? AND chat_participant_user_id = ? AND chat_participant_last_read_seq < ?",
				in.RoomID, in.SenderID, msg.ChatMessageSeq).
			Update("chat_participant_last_read_seq", msg.ChatMessageSeq).Error
	})
	if err != nil {
		return nil, chaterr.Store(err, "append message")
	}
	return msg, nil
}

func claimableAttachment(tx *gorm.DB, id, roomID, senderID uuid.UUID) (*model.AttachmentModel, error) {
	var att model.AttachmentModel
	if err := tx.Where("chat_attachment_id = ?", id).Take(&att).Error; err != nil {
		return nil, notFoundOr(err, "attachment")
	}
	switch {
	case att.ChatAttachmentRoomID != roomID:
		return nil, chaterr.New(chaterr.KindForbidden, "attachment milik room lain")
	case att.ChatAttachmentUploaderID != senderID:
		return nil, chaterr.New(chaterr.KindForbidden, "attachment diunggah user lain")
	case att.Linked():
		return nil, chaterr.New(chaterr.KindForbidden, "attachment sudah dipakai pesan lain")
	}
	return &att, nil
}

type ListQuery struct {
	RoomID    uuid.UUID
	BeforeSeq int64 // >0: hanya seq < BeforeSeq (halaman lebih lama)
	AfterSeq  int64 // >0: hanya seq > AfterSeq (menyusul), mengabaikan BeforeSeq
	Limit     int
	Ascending bool
}

func (q ListQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultPageSize
	case q.Limit > MaxPageSize:
		return MaxPageSize
	}
	return q.Limit
}

type Page struct {
	Messages []model.MessageModel
	HasMore  bool
}

// NextBeforeSeq is the cursor for the next older page, 0 when exhausted.
func (p Page) NextBeforeSeq() int64 {
	if !p.HasMore || len(p.Messages) == 0 {
		return 0
	}
	lo := p.Messages[0].ChatMessageSeq
	for _, m := range p.Messages[1:] {
		lo = min(lo, m.ChatMessageSeq)
	}
	return lo
}

// ListMessages pages through a room's history by seq. Deleted messages are
// returned as tombstones so clients can keep their timelines aligned.
func (s *Store) ListMessages(ctx context.Context, q ListQuery) (Page, error) {
	limit := q.limit()
	db := s.DB.WithContext(ctx).Where("chat_message_room_id = ?", q.RoomID)

	forward := q.AfterSeq > 0
	switch {
	case forward:
		db = db.Where("chat_message_seq > ?", q.AfterSeq).Order("chat_message_seq ASC")
	case q.BeforeSeq > 0:
		db = db.Where("chat_message_seq < ?", q.BeforeSeq).Order("chat_message_seq DESC")
	default:
		db = db.Order("chat_message_seq DESC")
	}

	var rows []model.MessageModel
	if err := db.Limit(limit + 1).Find(&rows).Error; err != nil {
		return Page{}, chaterr.Store(err, "list messages")
	}
	page := Page{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}

	// rows sekarang urut ASC kalau forward, DESC kalau tidak
	if forward != q.Ascending {
		slices.Reverse(rows)
	}
	for i := range rows {
		redact(&rows[i])
	}
	if err := s.attachAttachments(ctx, rows); err != nil {
		return Page{}, err
	}
	page.Messages = rows
	return page, nil
}

// redact strips the body of a deleted message, leaving a tombstone.
func redact(m *model.MessageModel) {
	if !m.IsDeleted() {
		return
	}
	m.ChatMessageContent = nil
	m.ChatMessageAttachmentID = nil
	m.Attachment = nil
}

func (s *Store) attachAttachments(ctx context.Context, msgs []model.MessageModel) error {
	var ids []uuid.UUID
	for _, m := range msgs {
		if m.ChatMessageAttachmentID != nil {
			ids = append(ids, *m.ChatMessageAttachmentID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	var atts []model.AttachmentModel
	if err := s.DB.WithContext(ctx).Where("chat_attachment_id IN ?", ids).Find(&atts).Error; err != nil {
		return chaterr.Store(err, "load attachments")
	}
	byID := make(map[uuid.UUID]*model.AttachmentModel, len(atts))
	for i := range atts {
		byID[atts[i].ChatAttachmentID] = &atts[i]
	}
	for i := range msgs {
		if id := msgs[i].ChatMessageAttachmentID; id != nil {
			msgs[i].Attachment = byID[*id]
		}
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, messageID uuid.UUID) (*model.MessageModel, error) {
	var m model.MessageModel
	if err := s.DB.WithContext(ctx).Where("chat_message_id = ?", messageID).Take(&m).Error; err != nil {
		return nil, notFoundOr(err, "pesan")
	}
	redact(&m)
	one := []model.MessageModel{m}
	if err := s.attachAttachments(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

// SoftDeleteMessage tombstones a message. The sender and room owners may
// delete; deleting twice is a no-op. changed reports whether this call did
// the delete.
func (s *Store) SoftDeleteMessage(ctx context.Context, messageID, requesterID uuid.UUID) (msg *model.MessageModel, changed bool, err error) {
	var m model.MessageModel
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_message_id = ?", messageID).Take(&m).Error; err != nil {
			return notFoundOr(err, "pesan")
		}
		if m.ChatMessageSenderID != requesterID {
			p, err := requireActive(tx, m.ChatMessageRoomID, requesterID)
			if err != nil {
				return err
			}
			if !p.IsOwner() {
				return chaterr.New(chaterr.KindForbidden, "hanya pengirim atau owner yang boleh menghapus pesan")
			}
		}
		if m.IsDeleted() {
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Model(&model.MessageModel{}).
			Where("chat_message_id = ?", m.ChatMessageID).
			Updates(map[string]any{
				"chat_message_deleted_at": now,
				"chat_message_deleted_by": requesterID,
			}).Error; err != nil {
			return err
		}
		m.ChatMessageDeletedAt = &now
		m.ChatMessageDeletedBy = &requesterID
		changed = true
		return refreshPreview(tx, m.ChatMessageRoomID)
	})
	if err != nil {
		return nil, false, chaterr.Store(err, "delete message")
	}
	redact(&m)
	return &m, changed, nil
}

// EditMessage replaces the text of a message. Only the sender may edit and
// tombstones cannot be edited.
func (s *Store) EditMessage(ctx context.Context, messageID, editorID uuid.UUID, content string) (*model.MessageModel, error) {
	body, err := normalizeContent(&content)
	if err != nil {
		return nil, err
	}

	var m model.MessageModel
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_message_id = ?", messageID).Take(&m).Error; err != nil {
			return notFoundOr(err, "pesan")
		}
		if m.ChatMessageSenderID != editorID {
			return chaterr.New(chaterr.KindForbidden, "hanya pengirim yang boleh mengubah pesan")
		}
		if m.IsDeleted() {
			return chaterr.New(chaterr.KindForbidden, "pesan sudah dihapus")
		}
		if body == nil && m.ChatMessageAttachmentID == nil {
			return chaterr.New(chaterr.KindEmptyMessage, "pesan kosong")
		}
		if _, err := requireActive(tx, m.ChatMessageRoomID, editorID); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&model.MessageModel{}).
			Where("chat_message_id = ?", m.ChatMessageID).
			Updates(map[string]any{
				"chat_message_content":   body,
				"chat_message_edited_at": now,
			}).Error; err != nil {
			return err
		}
		m.ChatMessageContent = body
		m.ChatMessageEditedAt = &now
		return refreshPreview(tx, m.ChatMessageRoomID)
	})
	if err != nil {
		return nil, chaterr.Store(err, "edit message")
	}
	one := []model.MessageModel{m}
	if err := s.attachAttachments(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

// RefreshRoomPreview recomputes the denormalised preview from the latest
// live message of the room.
func (s *Store) RefreshRoomPreview(ctx context.Context, roomID uuid.UUID) (*model.RoomModel, error) {
	var room model.RoomModel
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := refreshPreview(tx, roomID); err != nil {
			return err
		}
		return tx.Where("chat_room_id = ?", roomID).Take(&room).Error
	})
	if err != nil {
		return nil, notFoundOr(err, "room")
	}
	return &room, nil
}

func refreshPreview(tx *gorm.DB, roomID uuid.UUID) error {
	var latest model.MessageModel
	err := tx.
		Where("chat_message_room_id = ? AND chat_message_deleted_at IS NULL", roomID).
		Order("chat_message_seq DESC").
		Take(&latest).Error

	preview := model.LastMessagePreview{}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// room tanpa pesan hidup: preview dikosongkan, last_message_at dibiarkan
	case err != nil:
		return err
	default:
		preview = latest.Preview()
	}
	return tx.Model(&model.RoomModel{}).
		Where("chat_room_id = ?", roomID).
		Update("chat_room_last_message", newPreview(preview)).Error
}

// LatestMessages returns the newest live message per room in one query.
func (s *Store) LatestMessages(ctx context.Context, roomIDs []uuid.UUID) (map[uuid.UUID]model.MessageModel, error) {
	out := make(map[uuid.UUID]model.MessageModel, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}
	var rows []model.MessageModel
	err := s.DB.WithContext(ctx).Raw(strings.TrimSpace(`
SELECT m.*
FROM chat_messages m
JOIN (
	SELECT chat_message_room_id, MAX(chat_message_seq) AS max_seq
	FROM chat_messages
	WHERE chat_message_room_id IN ? AND chat_message_deleted_at IS NULL
	GROUP BY chat_message_room_id
) x ON x.chat_message_room_id = m.chat_message_room_id AND x.max_seq = m.chat_message_seq`), roomIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, chaterr.Store(err, "latest messages")
	}
	for _, m := range rows {
		out[m.ChatMessageRoomID] = m
	}
	return out, nil
}
