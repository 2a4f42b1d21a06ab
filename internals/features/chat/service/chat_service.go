// Package service composes the chat components behind one API used by the
// HTTP controllers, the WebSocket gateway and in-process sessions.
package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sekolahchat_backend/internals/configs"
	"sekolahchat_backend/internals/features/chat/attachment"
	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/directory"
	"sekolahchat_backend/internals/features/chat/dto"
	"sekolahchat_backend/internals/features/chat/model"
	"sekolahchat_backend/internals/features/chat/readcursor"
	"sekolahchat_backend/internals/features/chat/realtime"
	"sekolahchat_backend/internals/features/chat/store"
	"sekolahchat_backend/internals/metrics"
)

type ChatService struct {
	Store       *store.Store
	Tracker     *readcursor.Tracker
	Directory   *directory.Directory
	Attachments *attachment.Pipeline
	Notifier    *realtime.Notifier
	Cfg         configs.ChatConfig
	Log         zerolog.Logger
}

func New(
	st *store.Store,
	tr *readcursor.Tracker,
	dir *directory.Directory,
	att *attachment.Pipeline,
	n *realtime.Notifier,
	cfg configs.ChatConfig,
	log zerolog.Logger,
) *ChatService {
	return &ChatService{Store: st, Tracker: tr, Directory: dir, Attachments: att, Notifier: n, Cfg: cfg, Log: log}
}

func (s *ChatService) messageDTO(m *model.MessageModel) dto.MessageResponse {
	return dto.FromMessage(m, s.Attachments.PublicURL)
}

/* ===================== realtime ===================== */

// publish never fails the caller: the write already committed and clients
// recover through refetch.
func (s *ChatService) publish(ctx context.Context, kind realtime.EventKind, roomID uuid.UUID, seq int64, actor uuid.UUID, body any, audience []uuid.UUID) {
	ev, err := realtime.NewEvent(kind, roomID, seq, actor, body)
	if err != nil {
		s.Log.Error().Err(err).Str("kind", string(kind)).Msg("chat: encode event gagal")
		return
	}
	if err := s.Notifier.Fanout(ctx, ev, audience); err != nil {
		s.Log.Warn().Err(err).Str("room_id", roomID.String()).Str("kind", string(kind)).Msg("chat: notifikasi realtime gagal")
	}
}

func (s *ChatService) audience(ctx context.Context, roomID uuid.UUID) []uuid.UUID {
	members, err := s.Store.ActiveMemberIDs(ctx, []uuid.UUID{roomID})
	if err != nil {
		s.Log.Warn().Err(err).Str("room_id", roomID.String()).Msg("chat: gagal memuat anggota untuk notifikasi")
		return nil
	}
	return members[roomID]
}

func (s *ChatService) publishRoom(ctx context.Context, room *model.RoomModel, actor uuid.UUID, extra ...uuid.UUID) {
	body := dto.FromRoom(room)
	audience := append(s.audience(ctx, room.ChatRoomID), extra...)
	s.publish(ctx, realtime.EventRoomUpdated, room.ChatRoomID, room.ChatRoomLastSeq, actor, body, audience)
}

/* ===================== rooms ===================== */

// CreateDirect returns the direct room between me and peer, creating it on
// first use.
func (s *ChatService) CreateDirect(ctx context.Context, me, peer uuid.UUID) (*model.RoomModel, bool, error) {
	room, created, err := s.Store.CreateRoom(ctx, store.CreateRoomInput{
		Kind:           model.RoomKindDirect,
		CreatorID:      me,
		ParticipantIDs: []uuid.UUID{me, peer},
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		metrics.RoomsCreated.WithLabelValues(string(model.RoomKindDirect)).Inc()
		s.publishRoom(ctx, room, me)
	}
	return room, created, nil
}

func (s *ChatService) CreateGroup(ctx context.Context, me uuid.UUID, name, avatarURL *string, participantIDs []uuid.UUID) (*model.RoomModel, error) {
	room, _, err := s.Store.CreateRoom(ctx, store.CreateRoomInput{
		Kind:           model.RoomKindGroup,
		CreatorID:      me,
		ParticipantIDs: participantIDs,
		Name:           name,
		AvatarURL:      avatarURL,
	})
	if err != nil {
		return nil, err
	}
	metrics.RoomsCreated.WithLabelValues(string(model.RoomKindGroup)).Inc()
	s.publishRoom(ctx, room, me)
	return room, nil
}

// GetRoom returns room detail with its active participants, visible to
// participants only.
func (s *ChatService) GetRoom(ctx context.Context, me, roomID uuid.UUID) (*dto.RoomResponse, error) {
	if _, err := s.Store.RequireParticipant(ctx, roomID, me); err != nil {
		return nil, err
	}
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	parts, err := s.Store.ListParticipants(ctx, roomID, false)
	if err != nil {
		return nil, err
	}
	out := dto.FromRoom(room)
	out.Participants = dto.FromParticipants(parts)
	return &out, nil
}

func (s *ChatService) ListRooms(ctx context.Context, me uuid.UUID, f directory.Filter) ([]directory.RoomSummary, error) {
	rooms, err := s.Directory.ListRoomsForUser(ctx, me)
	if err != nil {
		return nil, err
	}
	return f.Apply(rooms), nil
}

func (s *ChatService) DisableRoom(ctx context.Context, me, roomID uuid.UUID) (*model.RoomModel, error) {
	audience := s.audience(ctx, roomID)
	room, err := s.Store.DisableRoom(ctx, roomID, me)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.EventRoomUpdated, roomID, room.ChatRoomLastSeq, me, dto.FromRoom(room), audience)
	return room, nil
}

func (s *ChatService) AddParticipants(ctx context.Context, me, roomID uuid.UUID, userIDs []uuid.UUID) ([]model.ParticipantModel, error) {
	added, err := s.Store.AddParticipants(ctx, roomID, me, userIDs)
	if err != nil {
		return nil, err
	}
	if room, err := s.Store.GetRoom(ctx, roomID); err == nil {
		s.publishRoom(ctx, room, me)
	}
	return added, nil
}

// RemoveParticipant notifies the removed user too, so their list drops the
// room. participant.removed is published first on the room topic; live
// gateways of the removed user stop forwarding that topic when they see it.
func (s *ChatService) RemoveParticipant(ctx context.Context, me, roomID, userID uuid.UUID) error {
	if err := s.Store.RemoveParticipant(ctx, roomID, me, userID); err != nil {
		return err
	}
	s.publish(ctx, realtime.EventParticipantRemoved, roomID, 0, me,
		realtime.ParticipantChange{UserID: userID}, []uuid.UUID{userID})
	if room, err := s.Store.GetRoom(ctx, roomID); err == nil {
		s.publishRoom(ctx, room, me, userID)
	}
	return nil
}

/* ===================== messages ===================== */

type SendInput struct {
	RoomID       uuid.UUID
	SenderID     uuid.UUID
	Content      *string
	AttachmentID *uuid.UUID
}

// SendMessage appends a message and fans out message.created to the room
// and to every member's room list. Notification failures are logged only.
func (s *ChatService) SendMessage(ctx context.Context, in SendInput) (*dto.MessageResponse, error) {
	msg, err := s.Store.AppendMessage(ctx, store.AppendInput{
		RoomID:       in.RoomID,
		SenderID:     in.SenderID,
		Content:      in.Content,
		AttachmentID: in.AttachmentID,
	})
	if err != nil {
		if in.AttachmentID != nil {
			s.Attachments.LogOrphan(&attachment.Ref{AttachmentID: *in.AttachmentID, RoomID: in.RoomID}, err)
		}
		return nil, err
	}

	kind := model.RoomKindGroup
	if room, err := s.Store.GetRoom(ctx, in.RoomID); err == nil {
		kind = room.ChatRoomKind
	}
	metrics.MessagesSent.WithLabelValues(string(kind), string(msg.ChatMessageType)).Inc()

	out := s.messageDTO(msg)
	s.publish(ctx, realtime.EventMessageCreated, in.RoomID, msg.ChatMessageSeq, in.SenderID, out, s.audience(ctx, in.RoomID))
	return &out, nil
}

// SendDirect sends a text message to peer, creating the direct room on the
// first message.
func (s *ChatService) SendDirect(ctx context.Context, me, peer uuid.UUID, content *string) (*dto.MessageResponse, *model.RoomModel, error) {
	// room direct baru dibuat kalau pesan pertamanya valid
	if content == nil || strings.TrimSpace(*content) == "" {
		return nil, nil, chaterr.New(chaterr.KindEmptyMessage, "pesan kosong")
	}
	room, _, err := s.CreateDirect(ctx, me, peer)
	if err != nil {
		return nil, nil, err
	}
	msg, err := s.SendMessage(ctx, SendInput{RoomID: room.ChatRoomID, SenderID: me, Content: content})
	if err != nil {
		return nil, room, err
	}
	return msg, room, nil
}

func (s *ChatService) ListMessages(ctx context.Context, me uuid.UUID, q store.ListQuery) (*dto.MessagePage, error) {
	if _, err := s.Store.RequireParticipant(ctx, q.RoomID, me); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = s.Cfg.HistoryPageSize
	}
	if s.Cfg.HistoryMaxPage > 0 && q.Limit > s.Cfg.HistoryMaxPage {
		q.Limit = s.Cfg.HistoryMaxPage
	}
	page, err := s.Store.ListMessages(ctx, q)
	if err != nil {
		return nil, err
	}
	return &dto.MessagePage{
		Messages:   dto.FromMessages(page.Messages, s.Attachments.PublicURL),
		HasMore:    page.HasMore,
		NextBefore: page.NextBeforeSeq(),
	}, nil
}

func (s *ChatService) EditMessage(ctx context.Context, me, messageID uuid.UUID, content string) (*dto.MessageResponse, error) {
	msg, err := s.Store.EditMessage(ctx, messageID, me, content)
	if err != nil {
		return nil, err
	}
	if full, err := s.Store.GetMessage(ctx, messageID); err == nil {
		msg = full
	}
	out := s.messageDTO(msg)
	s.publish(ctx, realtime.EventMessageUpdated, msg.ChatMessageRoomID, msg.ChatMessageSeq, me, out, s.audience(ctx, msg.ChatMessageRoomID))
	return &out, nil
}

// DeleteMessage tombstones a message; repeating the call returns the
// tombstone without a second event.
func (s *ChatService) DeleteMessage(ctx context.Context, me, messageID uuid.UUID) (*dto.MessageResponse, error) {
	msg, changed, err := s.Store.SoftDeleteMessage(ctx, messageID, me)
	if err != nil {
		return nil, err
	}
	out := s.messageDTO(msg)
	if changed {
		s.publish(ctx, realtime.EventMessageDeleted, msg.ChatMessageRoomID, msg.ChatMessageSeq, me, out, s.audience(ctx, msg.ChatMessageRoomID))
	}
	return &out, nil
}

/* ===================== attachments ===================== */

// UploadAttachment checks size and type before anything else, then
// membership, then stores the blob.
func (s *ChatService) UploadAttachment(ctx context.Context, in attachment.Upload) (*attachment.Ref, error) {
	size := max(in.SizeBytes, int64(len(in.Data)))
	if err := s.Attachments.Validate(size, in.MimeType); err != nil {
		return nil, err
	}
	if _, err := s.Store.RequireParticipant(ctx, in.RoomID, in.UploaderID); err != nil {
		return nil, err
	}
	return s.Attachments.Upload(ctx, in)
}

/* ===================== read state ===================== */

// MarkRead advances the caller's cursor and tells the caller's other
// connections about the new badge.
func (s *ChatService) MarkRead(ctx context.Context, me, roomID uuid.UUID, uptoSeq int64) (*dto.ReadCursorResponse, error) {
	res, err := s.Tracker.MarkRead(ctx, roomID, me, uptoSeq)
	if err != nil {
		return nil, err
	}
	out := &dto.ReadCursorResponse{RoomID: roomID, LastReadSeq: res.Cursor, Advanced: res.Advanced}
	if n, err := s.Tracker.GetUnreadCount(ctx, roomID, me); err == nil {
		out.UnreadCount = n
	}
	if res.Advanced {
		metrics.ReadCursorAdvanced.Inc()
		ev, err := realtime.NewEvent(realtime.EventReadUpdated, roomID, res.Cursor, me, out)
		if err == nil {
			if err := s.Notifier.Publish(ctx, realtime.UserTopic(me), ev); err != nil {
				s.Log.Warn().Err(err).Str("room_id", roomID.String()).Msg("chat: notifikasi read gagal")
			}
		}
	}
	return out, nil
}

func (s *ChatService) UnreadCount(ctx context.Context, me, roomID uuid.UUID) (int64, error) {
	return s.Tracker.GetUnreadCount(ctx, roomID, me)
}

func (s *ChatService) UnreadCounts(ctx context.Context, me uuid.UUID) ([]dto.UnreadCountResponse, error) {
	counts, err := s.Tracker.GetUnreadCountsForUser(ctx, me)
	if err != nil {
		return nil, err
	}
	out := make([]dto.UnreadCountResponse, 0, len(counts))
	for id, n := range counts {
		out = append(out, dto.UnreadCountResponse{RoomID: id, UnreadCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID.String() < out[j].RoomID.String() })
	return out, nil
}

/* ===================== topic access ===================== */

// AuthorizeTopic decides whether me may subscribe to topic: room topics need
// active membership, user topics must be the caller's own.
func (s *ChatService) AuthorizeTopic(ctx context.Context, me uuid.UUID, topic string) error {
	kind, id := realtime.ParseTopic(topic)
	switch kind {
	case realtime.TopicRoom:
		_, err := s.Store.RequireParticipant(ctx, id, me)
		return err
	case realtime.TopicUser:
		if id != me {
			return chaterr.New(chaterr.KindForbidden, "tidak boleh berlangganan topic user lain")
		}
		return nil
	}
	return chaterr.Newf(chaterr.KindValidation, "topic tidak dikenal: %q", topic)
}

// IsClientError reports errors caused by the request rather than the
// infrastructure.
func IsClientError(err error) bool {
	var ce *chaterr.Error
	return errors.As(err, &ce) && !chaterr.IsTransient(err)
}
