package directory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/chat/chattest"
	"sekolahchat_backend/internals/features/chat/directory"
	"sekolahchat_backend/internals/features/chat/model"
	"sekolahchat_backend/internals/features/chat/readcursor"
	"sekolahchat_backend/internals/features/chat/store"
	userModel "sekolahchat_backend/internals/features/users/user/model"
)

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, []uuid.UUID) (map[uuid.UUID]directory.Identity, error) {
	return nil, errors.New("identity service down")
}

type env struct {
	db      *gorm.DB
	st      *store.Store
	dir     *directory.Directory
	a, b, c uuid.UUID
}

func setup(t *testing.T) env {
	db := chattest.OpenDB(t)
	st := store.New(db)
	return env{
		db:  db,
		st:  st,
		dir: directory.New(st, readcursor.New(db), directory.NewUserTableResolver(db), zerolog.Nop()),
		a:   chattest.User(t, db, "Ani Guru", "teacher"),
		b:   chattest.User(t, db, "José Orangtua", "parent"),
		c:   chattest.User(t, db, "Citra Siswa", "student"),
	}
}

func (e env) room(t *testing.T, in store.CreateRoomInput) uuid.UUID {
	t.Helper()
	r, _, err := e.st.CreateRoom(context.Background(), in)
	require.NoError(t, err)
	return r.ChatRoomID
}

func (e env) send(t *testing.T, roomID, sender uuid.UUID, text string) {
	t.Helper()
	_, err := e.st.AppendMessage(context.Background(), store.AppendInput{RoomID: roomID, SenderID: sender, Content: &text})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond) // urutan last_message_at harus tegas
}

func TestListRoomsOrdersByRecencyAndResolvesNames(t *testing.T) {
	e := setup(t)
	direct := e.room(t, store.CreateRoomInput{Kind: model.RoomKindDirect, CreatorID: e.a, ParticipantIDs: []uuid.UUID{e.a, e.b}})
	group := e.room(t, store.CreateRoomInput{Kind: model.RoomKindGroup, CreatorID: e.a, ParticipantIDs: []uuid.UUID{e.b, e.c}, Name: chattest.Str("Kelas 5A")})
	unnamed := e.room(t, store.CreateRoomInput{Kind: model.RoomKindGroup, CreatorID: e.c, ParticipantIDs: []uuid.UUID{e.a, e.b}})

	e.send(t, group, e.a, "pengumuman")
	e.send(t, direct, e.a, "halo pak")
	e.send(t, unnamed, e.c, "rapat")

	list, err := e.dir.ListRoomsForUser(context.Background(), e.b)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, unnamed, list[0].RoomID)
	assert.Equal(t, direct, list[1].RoomID)
	assert.Equal(t, group, list[2].RoomID)

	assert.Equal(t, "Ani Guru", list[1].DisplayName)
	assert.Equal(t, "teacher", list[1].PeerRole)
	require.NotNil(t, list[1].PeerID)
	assert.Equal(t, e.a, *list[1].PeerID)
	assert.Equal(t, "halo pak", list[1].LastMessage.Preview)
	assert.Equal(t, int64(1), list[1].UnreadCount)

	assert.Equal(t, "Kelas 5A", list[2].DisplayName)
	assert.Contains(t, list[0].DisplayName, "Citra Siswa")
	assert.Contains(t, list[0].DisplayName, "Ani Guru")
	assert.Equal(t, 3, list[0].MemberCount)
}

func TestListRoomsEmptyState(t *testing.T) {
	e := setup(t)
	list, err := e.dir.ListRoomsForUser(context.Background(), e.a)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestUnresolvablePeerFallsBackToSentinel(t *testing.T) {
	e := setup(t)
	ghost := chattest.User(t, e.db, "Hantu", "student")
	room := e.room(t, store.CreateRoomInput{Kind: model.RoomKindDirect, CreatorID: e.a, ParticipantIDs: []uuid.UUID{e.a, ghost}})
	require.NoError(t, e.db.Where("id = ?", ghost).Delete(&userModel.UserModel{}).Error)

	list, err := e.dir.ListRoomsForUser(context.Background(), e.a)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, room, list[0].RoomID)
	assert.Equal(t, directory.UnknownUserLabel, list[0].DisplayName)
}

func TestResolverFailureNeverFailsTheList(t *testing.T) {
	e := setup(t)
	e.room(t, store.CreateRoomInput{Kind: model.RoomKindDirect, CreatorID: e.a, ParticipantIDs: []uuid.UUID{e.a, e.b}})
	e.room(t, store.CreateRoomInput{Kind: model.RoomKindGroup, CreatorID: e.a, ParticipantIDs: []uuid.UUID{e.c}})

	e.dir.Resolver = failingResolver{}
	list, err := e.dir.ListRoomsForUser(context.Background(), e.a)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, s := range list {
		if s.Kind == model.RoomKindDirect {
			assert.Equal(t, directory.UnknownUserLabel, s.DisplayName)
		} else {
			assert.Equal(t, directory.UnnamedGroup, s.DisplayName)
		}
	}
}

func TestStalePreviewFallsBackToLatestMessage(t *testing.T) {
	e := setup(t)
	room := e.room(t, store.CreateRoomInput{Kind: model.RoomKindDirect, CreatorID: e.a, ParticipantIDs: []uuid.UUID{e.a, e.b}})
	e.send(t, room, e.a, "tugas besok")

	require.NoError(t, e.db.Model(&model.RoomModel{}).
		Where("chat_room_id = ?", room).
		Update("chat_room_last_message", datatypes.NewJSONType(model.LastMessagePreview{})).Error)

	list, err := e.dir.ListRoomsForUser(context.Background(), e.b)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "tugas besok", list[0].LastMessage.Preview)
}

func TestFilterIsPure(t *testing.T) {
	list := []directory.RoomSummary{
		{RoomID: uuid.New(), DisplayName: "José Orangtua", UnreadCount: 2},
		{RoomID: uuid.New(), DisplayName: "Kelas 5A", UnreadCount: 0},
		{RoomID: uuid.New(), DisplayName: "Ani Guru", UnreadCount: 1},
	}

	cases := []struct {
		name   string
		filter directory.Filter
		want   []string
	}{
		{"no filter", directory.Filter{}, []string{"José Orangtua", "Kelas 5A", "Ani Guru"}},
		{"diacritics folded", directory.Filter{Query: "jose"}, []string{"José Orangtua"}},
		{"case insensitive", directory.Filter{Query: "KELAS"}, []string{"Kelas 5A"}},
		{"unread only", directory.Filter{UnreadOnly: true}, []string{"José Orangtua", "Ani Guru"}},
		{"both", directory.Filter{Query: "guru", UnreadOnly: true}, []string{"Ani Guru"}},
		{"no match", directory.Filter{Query: "zzz"}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.filter.Apply(list)
			names := make([]string, 0, len(got))
			for _, s := range got {
				names = append(names, s.DisplayName)
			}
			assert.Equal(t, tc.want, names)
		})
	}
	assert.Len(t, list, 3)
}
