package readcursor_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/chattest"
	"sekolahchat_backend/internals/features/chat/model"
	"sekolahchat_backend/internals/features/chat/readcursor"
	"sekolahchat_backend/internals/features/chat/store"
)

type env struct {
	st      *store.Store
	tr      *readcursor.Tracker
	a, b, c uuid.UUID
}

func setup(t *testing.T) env {
	db := chattest.OpenDB(t)
	return env{
		st: store.New(db),
		tr: readcursor.New(db),
		a:  chattest.User(t, db, "Ani", "teacher"),
		b:  chattest.User(t, db, "Budi", "parent"),
		c:  chattest.User(t, db, "Citra", "student"),
	}
}

func (e env) room(t *testing.T, kind model.RoomKind, ids ...uuid.UUID) uuid.UUID {
	t.Helper()
	r, _, err := e.st.CreateRoom(context.Background(), store.CreateRoomInput{
		Kind: kind, CreatorID: ids[0], ParticipantIDs: ids,
	})
	require.NoError(t, err)
	return r.ChatRoomID
}

func (e env) send(t *testing.T, roomID, sender uuid.UUID) int64 {
	t.Helper()
	m, err := e.st.AppendMessage(context.Background(), store.AppendInput{
		RoomID: roomID, SenderID: sender, Content: chattest.Str("pesan"),
	})
	require.NoError(t, err)
	return m.ChatMessageSeq
}

func TestMarkReadIsMonotonic(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	room := e.room(t, model.RoomKindDirect, e.a, e.b)
	for i := 0; i < 5; i++ {
		e.send(t, room, e.a)
	}

	res, err := e.tr.MarkRead(ctx, room, e.b, 4)
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.Equal(t, int64(4), res.Cursor)

	res, err = e.tr.MarkRead(ctx, room, e.b, 2)
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.Equal(t, int64(4), res.Cursor)

	cur, err := e.tr.Cursor(ctx, room, e.b)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cur)
}

func TestMarkReadClampsAndValidates(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	room := e.room(t, model.RoomKindDirect, e.a, e.b)
	e.send(t, room, e.a)
	e.send(t, room, e.a)

	res, err := e.tr.MarkRead(ctx, room, e.b, 999)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Cursor)

	_, err = e.tr.MarkRead(ctx, room, e.b, -1)
	assert.ErrorIs(t, err, chaterr.ErrValidation)

	_, err = e.tr.MarkRead(ctx, room, e.c, 1)
	assert.ErrorIs(t, err, chaterr.ErrNotAParticipant)
}

func TestUnreadExcludesOwnButCountsTombstones(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	room := e.room(t, model.RoomKindDirect, e.a, e.b)
	e.send(t, room, e.a)
	e.send(t, room, e.b)
	e.send(t, room, e.a)

	n, err := e.tr.GetUnreadCount(ctx, room, e.b)
	require.NoError(t, err)
	// b mengirim seq 2, cursor b ikut maju ke 2; tersisa seq 3
	assert.Equal(t, int64(1), n)

	page, err := e.st.ListMessages(ctx, store.ListQuery{RoomID: room})
	require.NoError(t, err)
	_, _, err = e.st.SoftDeleteMessage(ctx, page.Messages[0].ChatMessageID, e.a)
	require.NoError(t, err)

	// tombstone tetap punya seq, jadi tetap dihitung
	n, err = e.tr.GetUnreadCount(ctx, room, e.b)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	counts, err := e.tr.GetUnreadCountsForUser(ctx, e.b)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[room])

	n, err = e.tr.GetUnreadCount(ctx, room, e.a)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGroupUnreadIsPerParticipant(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	room := e.room(t, model.RoomKindGroup, e.a, e.b, e.c)
	seq := e.send(t, room, e.a)

	for _, u := range []uuid.UUID{e.b, e.c} {
		n, err := e.tr.GetUnreadCount(ctx, room, u)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}

	_, err := e.tr.MarkRead(ctx, room, e.b, seq)
	require.NoError(t, err)

	nb, err := e.tr.GetUnreadCount(ctx, room, e.b)
	require.NoError(t, err)
	nc, err := e.tr.GetUnreadCount(ctx, room, e.c)
	require.NoError(t, err)
	assert.Zero(t, nb)
	assert.Equal(t, int64(1), nc)
}

func TestUnreadCountsForUserBatchesAllRooms(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	direct := e.room(t, model.RoomKindDirect, e.a, e.b)
	group := e.room(t, model.RoomKindGroup, e.c, e.b)
	quiet := e.room(t, model.RoomKindGroup, e.b, e.a)
	e.send(t, direct, e.a)
	e.send(t, direct, e.a)
	e.send(t, group, e.c)

	counts, err := e.tr.GetUnreadCountsForUser(ctx, e.b)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int64{direct: 2, group: 1, quiet: 0}, counts)

	counts, err = e.tr.GetUnreadCountsForUser(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

// Unread must match a direct recount after any interleaving of sends and reads.
func TestUnreadMatchesRecountUnderInterleaving(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	room := e.room(t, model.RoomKindGroup, e.a, e.b, e.c)
	users := []uuid.UUID{e.a, e.b, e.c}

	rng := rand.New(rand.NewSource(42))
	type sent struct {
		seq    int64
		sender uuid.UUID
	}
	var log []sent
	cursor := map[uuid.UUID]int64{}

	for step := 0; step < 60; step++ {
		u := users[rng.Intn(len(users))]
		if rng.Intn(3) > 0 {
			seq := e.send(t, room, u)
			log = append(log, sent{seq, u})
			cursor[u] = max(cursor[u], seq)
			continue
		}
		upto := int64(rng.Intn(len(log) + 1))
		_, err := e.tr.MarkRead(ctx, room, u, upto)
		require.NoError(t, err)
		cursor[u] = max(cursor[u], upto)
	}

	for _, u := range users {
		want := int64(0)
		for _, m := range log {
			if m.seq > cursor[u] && m.sender != u {
				want++
			}
		}
		got, err := e.tr.GetUnreadCount(ctx, room, u)
		require.NoError(t, err)
		assert.Equal(t, want, got, "user %s", u)
	}
}
