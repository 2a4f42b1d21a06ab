// Package readcursor keeps the per (user, room) read pointer and derives
// unread counts from it.
package readcursor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/model"
)

type Tracker struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Tracker {
	return &Tracker{DB: db}
}

// Result of a MarkRead call. Cursor is the stored value after the call.
type Result struct {
	RoomID   uuid.UUID `json:"room_id"`
	Cursor   int64     `json:"last_read_seq"`
	Advanced bool      `json:"advanced"`
}

func participant(db *gorm.DB, roomID, userID uuid.UUID) (*model.ParticipantModel, error) {
	var p model.ParticipantModel
	err := db.
		Where("chat_participant_room_id = ? AND chat_participant_user_id = ? AND chat_participant_left_at IS NULL", roomID, userID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, chaterr.New(chaterr.KindNotAParticipant, "kamu bukan peserta room ini")
	}
	if err != nil {
		return nil, chaterr.Store(err, "load participant")
	}
	return &p, nil
}

// MarkRead moves the cursor to max(current, uptoSeq). uptoSeq is clamped to
// the room's latest seq. The write is a compare-and-set, so concurrent calls
// from several devices converge without locks.
func (t *Tracker) MarkRead(ctx context.Context, roomID, userID uuid.UUID, uptoSeq int64) (Result, error) {
	if uptoSeq < 0 {
		return Result{}, chaterr.New(chaterr.KindValidation, "last_read_seq tidak boleh negatif")
	}
	db := t.DB.WithContext(ctx)

	p, err := participant(db, roomID, userID)
	if err != nil {
		return Result{}, err
	}

	var lastSeq []int64
	if err := db.Model(&model.RoomModel{}).
		Where("chat_room_id = ?", roomID).
		Pluck("chat_room_last_seq", &lastSeq).Error; err != nil {
		return Result{}, chaterr.Store(err, "load room seq")
	}
	if len(lastSeq) == 1 && uptoSeq > lastSeq[0] {
		uptoSeq = lastSeq[0]
	}

	res := db.Model(&model.ParticipantModel{}).
		Where("chat_participant_id = ? AND chat_participant_last_read_seq < ?", p.ChatParticipantID, uptoSeq).
		Update("chat_participant_last_read_seq", uptoSeq)
	if res.Error != nil {
		return Result{}, chaterr.Store(res.Error, "advance read cursor")
	}
	if res.RowsAffected > 0 {
		return Result{RoomID: roomID, Cursor: uptoSeq, Advanced: true}, nil
	}

	// tidak maju: kembalikan nilai yang tersimpan (mungkin sudah dinaikkan tab lain)
	var cur []int64
	if err := db.Model(&model.ParticipantModel{}).
		Where("chat_participant_id = ?", p.ChatParticipantID).
		Pluck("chat_participant_last_read_seq", &cur).Error; err != nil {
		return Result{}, chaterr.Store(err, "load read cursor")
	}
	out := Result{RoomID: roomID, Cursor: p.ChatParticipantLastReadSeq}
	if len(cur) == 1 {
		out.Cursor = cur[0]
	}
	return out, nil
}

// Cursor returns the stored read pointer of userID in roomID.
func (t *Tracker) Cursor(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	p, err := participant(t.DB.WithContext(ctx), roomID, userID)
	if err != nil {
		return 0, err
	}
	return p.ChatParticipantLastReadSeq, nil
}

// GetUnreadCount counts messages after the cursor sent by someone else.
// Tombstones still count: they keep their seq and stay in the timeline.
func (t *Tracker) GetUnreadCount(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	db := t.DB.WithContext(ctx)
	p, err := participant(db, roomID, userID)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.Model(&model.MessageModel{}).
		Where("chat_message_room_id = ? AND chat_message_seq > ? AND chat_message_sender_id <> ?",
			roomID, p.ChatParticipantLastReadSeq, userID).
		Count(&n).Error; err != nil {
		return 0, chaterr.Store(err, "count unread")
	}
	return n, nil
}

const unreadForUserSQL = `
SELECT p.chat_participant_room_id AS room_id, COUNT(m.chat_message_id) AS unread
FROM chat_participants p
JOIN chat_rooms r
  ON r.chat_room_id = p.chat_participant_room_id AND r.chat_room_is_active = ?
LEFT JOIN chat_messages m
  ON m.chat_message_room_id = p.chat_participant_room_id
 AND m.chat_message_seq > p.chat_participant_last_read_seq
 AND m.chat_message_sender_id <> p.chat_participant_user_id
WHERE p.chat_participant_user_id = ? AND p.chat_participant_left_at IS NULL
GROUP BY p.chat_participant_room_id`

type unreadRow struct {
	RoomID uuid.UUID `gorm:"column:room_id"`
	Unread int64     `gorm:"column:unread"`
}

// GetUnreadCountsForUser returns room id -> unread for every active room of
// the user, zeros included, in one aggregate query.
func (t *Tracker) GetUnreadCountsForUser(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int64, error) {
	var rows []unreadRow
	if err := t.DB.WithContext(ctx).Raw(unreadForUserSQL, true, userID).Scan(&rows).Error; err != nil {
		return nil, chaterr.Store(err, "count unread per room")
	}
	out := make(map[uuid.UUID]int64, len(rows))
	for _, r := range rows {
		out[r.RoomID] = r.Unread
	}
	return out, nil
}
