package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/chattest"
	"sekolahchat_backend/internals/features/chat/model"
	"sekolahchat_backend/internals/features/chat/store"
)

type fixture struct {
	db      *gorm.DB
	st      *store.Store
	a, b, c uuid.UUID
}

func newFixture(t *testing.T) fixture {
	db := chattest.OpenDB(t)
	return fixture{
		db: db,
		st: store.New(db),
		a:  chattest.User(t, db, "Ani Guru", "teacher"),
		b:  chattest.User(t, db, "Budi Orangtua", "parent"),
		c:  chattest.User(t, db, "Citra Siswa", "student"),
	}
}

func (f fixture) direct(t *testing.T) *model.RoomModel {
	t.Helper()
	room, _, err := f.st.CreateRoom(context.Background(), store.CreateRoomInput{
		Kind: model.RoomKindDirect, CreatorID: f.a, ParticipantIDs: []uuid.UUID{f.a, f.b},
	})
	require.NoError(t, err)
	return room
}

func (f fixture) group(t *testing.T) *model.RoomModel {
	t.Helper()
	room, _, err := f.st.CreateRoom(context.Background(), store.CreateRoomInput{
		Kind: model.RoomKindGroup, CreatorID: f.a, ParticipantIDs: []uuid.UUID{f.b, f.c},
		Name: chattest.Str("Kelas 5A"),
	})
	require.NoError(t, err)
	return room
}

func (f fixture) send(t *testing.T, roomID, sender uuid.UUID, text string) *model.MessageModel {
	t.Helper()
	msg, err := f.st.AppendMessage(context.Background(), store.AppendInput{
		RoomID: roomID, SenderID: sender, Content: &text,
	})
	require.NoError(t, err)
	return msg
}

/* ===================== rooms ===================== */

func TestCreateDirectRoomIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.st.CreateRoom(ctx, store.CreateRoomInput{
		Kind: model.RoomKindDirect, CreatorID: f.a, ParticipantIDs: []uuid.UUID{f.a, f.b},
	})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := f.st.CreateRoom(ctx, store.CreateRoomInput{
		Kind: model.RoomKindDirect, CreatorID: f.b, ParticipantIDs: []uuid.UUID{f.b, f.a},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ChatRoomID, again.ChatRoomID)

	parts, err := f.st.ListParticipants(ctx, first.ChatRoomID, false)
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestCreateDirectRoomRejectsBadPairs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string][]uuid.UUID{
		"self only":   {f.a, f.a},
		"one member":  {f.a},
		"three users": {f.a, f.b, f.c},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.st.CreateRoom(ctx, store.CreateRoomInput{
				Kind: model.RoomKindDirect, CreatorID: f.a, ParticipantIDs: ids,
			})
			assert.ErrorIs(t, err, chaterr.ErrInvalidParticipants)
		})
	}

	_, _, err := f.st.CreateRoom(ctx, store.CreateRoomInput{
		Kind: model.RoomKindDirect, CreatorID: f.c, ParticipantIDs: []uuid.UUID{f.a, f.b},
	})
	assert.ErrorIs(t, err, chaterr.ErrInvalidParticipants)
}

func TestCreateGroupMakesCreatorOwner(t *testing.T) {
	f := newFixture(t)
	room := f.group(t)

	assert.Equal(t, "Kelas 5A", *room.ChatRoomName)
	parts, err := f.st.ListParticipants(context.Background(), room.ChatRoomID, false)
	require.NoError(t, err)
	require.Len(t, parts, 3)

	owners := 0
	for _, p := range parts {
		if p.IsOwner() {
			owners++
			assert.Equal(t, f.a, p.ChatParticipantUserID)
		}
	}
	assert.Equal(t, 1, owners)
}

/* ===================== append ===================== */

func TestAppendAssignsIncreasingSeqAndUpdatesPreview(t *testing.T) {
	f := newFixture(t)
	room := f.direct(t)

	m1 := f.send(t, room.ChatRoomID, f.a, "halo")
	m2 := f.send(t, room.ChatRoomID, f.b, "  halo juga  ")

	assert.Equal(t, int64(1), m1.ChatMessageSeq)
	assert.Equal(t, int64(2), m2.ChatMessageSeq)
	assert.Equal(t, "halo juga", *m2.ChatMessageContent)
	assert.Equal(t, model.MessageTypeText, m2.ChatMessageType)

	got, err := f.st.GetRoom(context.Background(), room.ChatRoomID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ChatRoomLastSeq)
	require.NotNil(t, got.ChatRoomLastMsgAt)
	assert.Equal(t, m2.ChatMessageID, got.ChatRoomLastMessage.Data().MessageID)
	assert.Equal(t, "halo juga", got.ChatRoomLastMessage.Data().Preview)
}

func TestAppendAdvancesSenderCursor(t *testing.T) {
	f := newFixture(t)
	room := f.direct(t)
	f.send(t, room.ChatRoomID, f.a, "satu")
	f.send(t, room.ChatRoomID, f.a, "dua")

	pa, err := f.st.RequireParticipant(context.Background(), room.ChatRoomID, f.a)
	require.NoError(t, err)
	pb, err := f.st.RequireParticipant(context.Background(), room.ChatRoomID, f.b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pa.ChatParticipantLastReadSeq)
	assert.Equal(t, int64(0), pb.ChatParticipantLastReadSeq)
}

func TestAppendRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.direct(t)

	_, err := f.st.AppendMessage(ctx, store.AppendInput{RoomID: room.ChatRoomID, SenderID: f.a, Content: chattest.Str("   ")})
	assert.ErrorIs(t, err, chaterr.ErrEmptyMessage)

	_, err = f.st.AppendMessage(ctx, store.AppendInput{RoomID: room.ChatRoomID, SenderID: f.c, Content: chattest.Str("nyusup")})
	assert.ErrorIs(t, err, chaterr.ErrNotAParticipant)

	_, err = f.st.AppendMessage(ctx, store.AppendInput{RoomID: uuid.New(), SenderID: f.a, Content: chattest.Str("x")})
	assert.ErrorIs(t, err, chaterr.ErrNotFound)

	// penolakan tidak boleh memakan seq
	got, err := f.st.GetRoom(ctx, room.ChatRoomID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.ChatRoomLastSeq)
}

func TestAppendToDisabledRoomIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.group(t)

	_, err := f.st.DisableRoom(ctx, room.ChatRoomID, f.b)
	assert.ErrorIs(t, err, chaterr.ErrForbidden)

	_, err = f.st.DisableRoom(ctx, room.ChatRoomID, f.a)
	require.NoError(t, err)

	_, err = f.st.AppendMessage(ctx, store.AppendInput{RoomID: room.ChatRoomID, SenderID: f.b, Content: chattest.Str("halo")})
	assert.ErrorIs(t, err, chaterr.ErrForbidden)
}

func TestConcurrentAppendsGetDistinctSeqs(t *testing.T) {
	f := newFixture(t)
	room := f.direct(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := f.a
			if i%2 == 1 {
				sender = f.b
			}
			_, err := f.st.AppendMessage(context.Background(), store.AppendInput{
				RoomID: room.ChatRoomID, SenderID: sender, Content: chattest.Str("pesan"),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	page, err := f.st.ListMessages(context.Background(), store.ListQuery{RoomID: room.ChatRoomID, Limit: 50, Ascending: true})
	require.NoError(t, err)
	require.Len(t, page.Messages, 20)
	for i, m := range page.Messages {
		assert.Equal(t, int64(i+1), m.ChatMessageSeq)
	}
}

/* ===================== attachments ===================== */

func TestAppendLinksAttachmentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.direct(t)

	att := model.AttachmentModel{
		ChatAttachmentRoomID:     room.ChatRoomID,
		ChatAttachmentUploaderID: f.a,
		ChatAttachmentObjectKey:  "chat/rooms/x/foto.webp",
		ChatAttachmentMimeType:   "image/png",
		ChatAttachmentSizeBytes:  123,
	}
	require.NoError(t, f.db.Create(&att).Error)

	msg, err := f.st.AppendMessage(ctx, store.AppendInput{RoomID: room.ChatRoomID, SenderID: f.a, AttachmentID: &att.ChatAttachmentID})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeImage, msg.ChatMessageType)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, msg.ChatMessageID, *msg.Attachment.ChatAttachmentMessageID)

	got, err := f.st.GetRoom(ctx, room.ChatRoomID)
	require.NoError(t, err)
	assert.Equal(t, "[image]", got.ChatRoomLastMessage.Data().Preview)

	_, err = f.st.AppendMessage(ctx, store.AppendInput{RoomID: room.ChatRoomID, SenderID: f.a, AttachmentID: &att.ChatAttachmentID})
	assert.ErrorIs(t, err, chaterr.ErrForbidden)

	_, err = f.st.AppendMessage(ctx, store.AppendInput{RoomID: room.ChatRoomID, SenderID: f.b, AttachmentID: chattest.UUIDPtr(uuid.New())})
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}

/* ===================== history ===================== */

func TestListMessagesPagesBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.direct(t)
	for i := 0; i < 5; i++ {
		f.send(t, room.ChatRoomID, f.a, "m")
	}

	page, err := f.st.ListMessages(ctx, store.ListQuery{RoomID: room.ChatRoomID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(5), page.Messages[0].ChatMessageSeq)
	assert.Equal(t, int64(4), page.NextBeforeSeq())

	page, err = f.st.ListMessages(ctx, store.ListQuery{RoomID: room.ChatRoomID, Limit: 2, BeforeSeq: 4, Ascending: true})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, int64(2), page.Messages[0].ChatMessageSeq)
	assert.Equal(t, int64(3), page.Messages[1].ChatMessageSeq)

	page, err = f.st.ListMessages(ctx, store.ListQuery{RoomID: room.ChatRoomID, Limit: 10, BeforeSeq: 2})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.False(t, page.HasMore)
	assert.Zero(t, page.NextBeforeSeq())

	page, err = f.st.ListMessages(ctx, store.ListQuery{RoomID: room.ChatRoomID, AfterSeq: 3, Ascending: true})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, int64(4), page.Messages[0].ChatMessageSeq)
}

/* ===================== delete / edit ===================== */

func TestSoftDeleteKeepsTombstoneAndRefreshesPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.group(t)
	f.send(t, room.ChatRoomID, f.b, "pertama")
	last := f.send(t, room.ChatRoomID, f.b, "rahasia")

	_, _, err := f.st.SoftDeleteMessage(ctx, last.ChatMessageID, f.c)
	assert.ErrorIs(t, err, chaterr.ErrForbidden)

	del, changed, err := f.st.SoftDeleteMessage(ctx, last.ChatMessageID, f.a) // owner
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, del.IsDeleted())
	assert.Nil(t, del.ChatMessageContent)

	_, changed, err = f.st.SoftDeleteMessage(ctx, last.ChatMessageID, f.b)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := f.st.GetRoom(ctx, room.ChatRoomID)
	require.NoError(t, err)
	assert.Equal(t, "pertama", got.ChatRoomLastMessage.Data().Preview)

	page, err := f.st.ListMessages(ctx, store.ListQuery{RoomID: room.ChatRoomID, Ascending: true})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.True(t, page.Messages[1].IsDeleted())
	assert.Nil(t, page.Messages[1].ChatMessageContent)
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.direct(t)
	msg := f.send(t, room.ChatRoomID, f.a, "typo")

	_, err := f.st.EditMessage(ctx, msg.ChatMessageID, f.b, "bukan punyaku")
	assert.ErrorIs(t, err, chaterr.ErrForbidden)

	_, err = f.st.EditMessage(ctx, msg.ChatMessageID, f.a, "  ")
	assert.ErrorIs(t, err, chaterr.ErrEmptyMessage)

	edited, err := f.st.EditMessage(ctx, msg.ChatMessageID, f.a, "benar")
	require.NoError(t, err)
	assert.Equal(t, "benar", *edited.ChatMessageContent)
	assert.NotNil(t, edited.ChatMessageEditedAt)

	got, err := f.st.GetRoom(ctx, room.ChatRoomID)
	require.NoError(t, err)
	assert.Equal(t, "benar", got.ChatRoomLastMessage.Data().Preview)
}

/* ===================== membership ===================== */

func TestAddAndRemoveParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := chattest.User(t, f.db, "Dewi Guru", "teacher")
	room := f.group(t)
	f.send(t, room.ChatRoomID, f.a, "sebelum Dewi")

	_, err := f.st.AddParticipants(ctx, room.ChatRoomID, f.b, []uuid.UUID{d})
	assert.ErrorIs(t, err, chaterr.ErrForbidden)

	added, err := f.st.AddParticipants(ctx, room.ChatRoomID, f.a, []uuid.UUID{d, f.b})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, int64(1), added[0].ChatParticipantLastReadSeq)

	require.NoError(t, f.st.RemoveParticipant(ctx, room.ChatRoomID, f.c, f.c))
	_, err = f.st.RequireParticipant(ctx, room.ChatRoomID, f.c)
	assert.ErrorIs(t, err, chaterr.ErrNotAParticipant)

	// owner keluar: peserta paling lama jadi owner
	require.NoError(t, f.st.RemoveParticipant(ctx, room.ChatRoomID, f.a, f.a))
	parts, err := f.st.ListParticipants(ctx, room.ChatRoomID, false)
	require.NoError(t, err)
	owners := 0
	for _, p := range parts {
		if p.IsOwner() {
			owners++
		}
	}
	assert.Equal(t, 1, owners)

	direct := f.direct(t)
	_, err = f.st.AddParticipants(ctx, direct.ChatRoomID, f.a, []uuid.UUID{f.c})
	assert.ErrorIs(t, err, chaterr.ErrInvalidParticipants)
}

func TestLastMemberLeavingDisablesGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.group(t)

	require.NoError(t, f.st.RemoveParticipant(ctx, room.ChatRoomID, f.a, f.b))
	require.NoError(t, f.st.RemoveParticipant(ctx, room.ChatRoomID, f.c, f.c))
	got, err := f.st.GetRoom(ctx, room.ChatRoomID)
	require.NoError(t, err)
	assert.True(t, got.ChatRoomIsActive)

	require.NoError(t, f.st.RemoveParticipant(ctx, room.ChatRoomID, f.a, f.a))
	got, err = f.st.GetRoom(ctx, room.ChatRoomID)
	require.NoError(t, err)
	assert.False(t, got.ChatRoomIsActive)

	parts, err := f.st.ListParticipants(ctx, room.ChatRoomID, false)
	require.NoError(t, err)
	assert.Empty(t, parts)

	_, err = f.st.AddParticipants(ctx, room.ChatRoomID, f.a, []uuid.UUID{f.b})
	assert.Error(t, err)
}

func TestRoomsForUserAndLatestMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	direct := f.direct(t)
	group := f.group(t)
	f.send(t, direct.ChatRoomID, f.a, "d1")
	f.send(t, group.ChatRoomID, f.b, "g1")
	g2 := f.send(t, group.ChatRoomID, f.c, "g2")

	rooms, err := f.st.RoomsForUser(ctx, f.b)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	rooms, err = f.st.RoomsForUser(ctx, f.c)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, group.ChatRoomID, rooms[0].Room.ChatRoomID)

	latest, err := f.st.LatestMessages(ctx, []uuid.UUID{direct.ChatRoomID, group.ChatRoomID})
	require.NoError(t, err)
	assert.Equal(t, g2.ChatMessageID, latest[group.ChatRoomID].ChatMessageID)
	assert.Equal(t, "d1", *latest[direct.ChatRoomID].ChatMessageContent)
}
