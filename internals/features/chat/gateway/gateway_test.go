package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/realtime"
)

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), out: make(chan []byte, 32), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-f.in:
		if !ok {
			return 0, nil, errors.New("eof")
		}
		return 1, b, nil
	case <-f.closed:
		return 0, nil, errors.New("closed")
	}
}

func (f *fakeConn) WriteMessage(_ int, b []byte) error {
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	f.out <- b
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) send(t *testing.T, m ClientMessage) {
	b, err := sonic.Marshal(m)
	require.NoError(t, err)
	f.in <- b
}

func (f *fakeConn) next(t *testing.T) []byte {
	select {
	case b := <-f.out:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("frame tidak datang")
		return nil
	}
}

func (f *fakeConn) nextControl(t *testing.T) ServerMessage {
	var m ServerMessage
	require.NoError(t, sonic.Unmarshal(f.next(t), &m))
	return m
}

type allowRooms struct {
	me      uuid.UUID
	allowed map[uuid.UUID]bool
}

func (a allowRooms) AuthorizeTopic(_ context.Context, me uuid.UUID, topic string) error {
	kind, id := realtime.ParseTopic(topic)
	switch kind {
	case realtime.TopicUser:
		if id == me {
			return nil
		}
		return chaterr.ErrForbidden
	case realtime.TopicRoom:
		if a.allowed[id] {
			return nil
		}
		return chaterr.New(chaterr.KindNotAParticipant, "bukan peserta")
	}
	return chaterr.ErrValidation
}

func TestGateway_SubscribeForwardAndCleanup(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()

	me := uuid.New()
	room := uuid.New()
	other := uuid.New()
	gw := New(broker, allowRooms{me: me, allowed: map[uuid.UUID]bool{room: true}}, zerolog.Nop())

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		gw.Serve(context.Background(), me, conn)
		close(done)
	}()

	ack := conn.nextControl(t)
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, realtime.UserTopic(me), ack.Topic)

	conn.send(t, ClientMessage{Action: ActionSubscribe, Topic: realtime.RoomTopic(room)})
	ack = conn.nextControl(t)
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, realtime.RoomTopic(room), ack.Topic)

	payload := []byte(`{"kind":"message.created","seq":1}`)
	require.NoError(t, broker.Publish(context.Background(), realtime.RoomTopic(room), payload))
	assert.JSONEq(t, string(payload), string(conn.next(t)))

	conn.send(t, ClientMessage{Action: ActionSubscribe, Topic: realtime.RoomTopic(other)})
	denied := conn.nextControl(t)
	assert.Equal(t, "error", denied.Type)
	assert.Equal(t, string(chaterr.KindNotAParticipant), denied.ErrorCode)

	conn.send(t, ClientMessage{Action: ActionSubscribe, Topic: realtime.UserTopic(other)})
	denied = conn.nextControl(t)
	assert.Equal(t, string(chaterr.KindForbidden), denied.ErrorCode)

	conn.send(t, ClientMessage{Action: ActionPing})
	assert.Equal(t, "pong", conn.nextControl(t).Type)

	close(conn.in)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve tidak selesai")
	}
	assert.Equal(t, 0, broker.Subscribers(realtime.RoomTopic(room)))
	assert.Equal(t, 0, broker.Subscribers(realtime.UserTopic(me)))
}

func TestGateway_UnsubscribeStopsDelivery(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()

	me := uuid.New()
	room := uuid.New()
	gw := New(broker, allowRooms{me: me, allowed: map[uuid.UUID]bool{room: true}}, zerolog.Nop())

	conn := newFakeConn()
	go gw.Serve(context.Background(), me, conn)
	defer conn.Close()

	conn.nextControl(t)
	conn.send(t, ClientMessage{Action: ActionSubscribe, Topic: realtime.RoomTopic(room)})
	conn.nextControl(t)
	require.Equal(t, 1, broker.Subscribers(realtime.RoomTopic(room)))

	conn.send(t, ClientMessage{Action: ActionUnsubscribe, Topic: realtime.RoomTopic(room)})
	ack := conn.nextControl(t)
	assert.Equal(t, ActionUnsubscribe, ack.Action)
	assert.Equal(t, 0, broker.Subscribers(realtime.RoomTopic(room)))
}

func TestGateway_BadFrame(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()

	me := uuid.New()
	gw := New(broker, allowRooms{me: me}, zerolog.Nop())
	conn := newFakeConn()
	go gw.Serve(context.Background(), me, conn)
	defer conn.Close()

	conn.nextControl(t)
	conn.in <- []byte("bukan json")
	m := conn.nextControl(t)
	assert.Equal(t, "error", m.Type)
	assert.Equal(t, string(chaterr.KindValidation), m.ErrorCode)

	conn.send(t, ClientMessage{Action: "dance"})
	m = conn.nextControl(t)
	assert.Equal(t, "dance", m.Action)
	assert.Equal(t, string(chaterr.KindValidation), m.ErrorCode)
}

func TestGateway_RemovedMemberStopsReceivingRoom(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()
	notifier := realtime.NewNotifier(broker, zerolog.Nop())

	me := uuid.New()
	owner := uuid.New()
	room := uuid.New()
	gw := New(broker, allowRooms{me: me, allowed: map[uuid.UUID]bool{room: true}}, zerolog.Nop())

	conn := newFakeConn()
	go gw.Serve(context.Background(), me, conn)
	defer conn.Close()

	conn.nextControl(t)
	conn.send(t, ClientMessage{Action: ActionSubscribe, Topic: realtime.RoomTopic(room)})
	conn.nextControl(t)

	publish := func(kind realtime.EventKind, body any) {
		ev, err := realtime.NewEvent(kind, room, 0, owner, body)
		require.NoError(t, err)
		require.NoError(t, notifier.Publish(context.Background(), realtime.RoomTopic(room), ev))
	}
	decode := func(b []byte) realtime.Event {
		var ev realtime.Event
		require.NoError(t, sonic.Unmarshal(b, &ev))
		return ev
	}

	// anggota lain dikeluarkan: aku tetap menerima
	publish(realtime.EventParticipantRemoved, realtime.ParticipantChange{UserID: uuid.New()})
	assert.Equal(t, realtime.EventParticipantRemoved, decode(conn.next(t)).Kind)
	publish(realtime.EventMessageCreated, map[string]any{"content": "masih boleh"})
	assert.Equal(t, realtime.EventMessageCreated, decode(conn.next(t)).Kind)

	publish(realtime.EventParticipantRemoved, realtime.ParticipantChange{UserID: me})
	publish(realtime.EventMessageCreated, map[string]any{"content": "rahasia setelah dikeluarkan"})

	removed := decode(conn.next(t))
	uid, ok := removed.RemovedUser()
	require.True(t, ok)
	assert.Equal(t, me, uid)

	assert.Eventually(t, func() bool {
		return broker.Subscribers(realtime.RoomTopic(room)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case b := <-conn.out:
		t.Fatalf("frame setelah dikeluarkan: %s", b)
	case <-time.After(100 * time.Millisecond):
	}
}
