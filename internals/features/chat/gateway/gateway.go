// Package gateway bridges realtime topics to WebSocket clients.
package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/realtime"
	"sekolahchat_backend/internals/metrics"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"

	defaultSendBuffer = 64

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Conn is the part of *websocket.Conn the gateway needs.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// keepaliver is implemented by *websocket.Conn. Without it (tests) the
// gateway skips ping frames and read deadlines.
type keepaliver interface {
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

type Authorizer interface {
	AuthorizeTopic(ctx context.Context, me uuid.UUID, topic string) error
}

type ClientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// ServerMessage is a control frame; event frames are realtime.Event JSON.
type ServerMessage struct {
	Type      string `json:"type"` // ack | error | pong
	Action    string `json:"action,omitempty"`
	Topic     string `json:"topic,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

type Gateway struct {
	Broker     realtime.Broker
	Auth       Authorizer
	Log        zerolog.Logger
	SendBuffer int
}

func New(b realtime.Broker, auth Authorizer, log zerolog.Logger) *Gateway {
	return &Gateway{Broker: b, Auth: auth, Log: log, SendBuffer: defaultSendBuffer}
}

// Handler upgrades GET /ws. AuthJWT must run before it so user_id is in
// Locals.
func (g *Gateway) Handler() fiber.Handler {
	upgrade := websocket.New(func(c *websocket.Conn) {
		me, _ := c.Locals("user_id").(uuid.UUID)
		g.Serve(context.Background(), me, c)
	})
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if me, ok := c.Locals("user_id").(uuid.UUID); !ok || me == uuid.Nil {
			return fiber.ErrUnauthorized
		}
		return upgrade(c)
	}
}

type client struct {
	g    *Gateway
	me   uuid.UUID
	conn Conn
	log  zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	keepalive bool

	mu   sync.Mutex
	subs map[string]realtime.Subscription
}

// Serve runs one connection until the client disconnects. The caller's own
// room-list topic is subscribed automatically.
func (g *Gateway) Serve(ctx context.Context, me uuid.UUID, conn Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	size := g.SendBuffer
	if size <= 0 {
		size = defaultSendBuffer
	}
	cl := &client{
		g:    g,
		me:   me,
		conn: conn,
		log:  g.Log.With().Str("user_id", me.String()).Logger(),
		send: make(chan []byte, size),
		done: make(chan struct{}),
		subs: map[string]realtime.Subscription{},
	}
	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	if ka, ok := conn.(keepaliver); ok {
		_ = ka.SetReadDeadline(time.Now().Add(pongWait))
		ka.SetPongHandler(func(string) error {
			return ka.SetReadDeadline(time.Now().Add(pongWait))
		})
		cl.keepalive = true
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cl.writePump()
	}()

	cl.subscribe(ctx, realtime.UserTopic(me))
	cl.readPump(ctx)

	cl.unsubscribeAll()
	cl.shutdown()
	wg.Wait()
	_ = conn.Close()
}

func (cl *client) readPump(ctx context.Context) {
	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case <-cl.done:
			return
		default:
		}
		var msg ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			cl.reply(ServerMessage{Type: "error", ErrorCode: string(chaterr.KindValidation), Message: "pesan tidak valid"})
			continue
		}
		switch msg.Action {
		case ActionSubscribe:
			cl.subscribe(ctx, msg.Topic)
		case ActionUnsubscribe:
			cl.unsubscribe(msg.Topic)
		case ActionPing:
			cl.reply(ServerMessage{Type: "pong"})
		default:
			cl.reply(ServerMessage{Type: "error", Action: msg.Action, ErrorCode: string(chaterr.KindValidation), Message: "action tidak dikenal"})
		}
	}
}

func (cl *client) writePump() {
	var tick <-chan time.Time
	if cl.keepalive {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		tick = t.C
	}
	for {
		var err error
		select {
		case data := <-cl.send:
			err = cl.conn.WriteMessage(websocket.TextMessage, data)
		case <-tick:
			err = cl.conn.WriteMessage(websocket.PingMessage, nil)
		case <-cl.done:
			return
		}
		if err != nil {
			cl.shutdown()
			_ = cl.conn.Close()
			return
		}
	}
}

// enqueue drops the connection when the client cannot keep up; on
// reconnect it refetches.
func (cl *client) enqueue(data []byte) {
	select {
	case <-cl.done:
		return
	default:
	}
	select {
	case cl.send <- data:
	case <-cl.done:
	default:
		cl.log.Warn().Msg("chat ws: buffer penuh, koneksi ditutup")
		cl.shutdown()
		_ = cl.conn.Close()
	}
}

func (cl *client) shutdown() {
	cl.closeOnce.Do(func() { close(cl.done) })
}

func (cl *client) reply(m ServerMessage) {
	data, err := sonic.Marshal(m)
	if err != nil {
		return
	}
	cl.enqueue(data)
}

func (cl *client) subscribe(ctx context.Context, topic string) {
	cl.mu.Lock()
	_, already := cl.subs[topic]
	cl.mu.Unlock()
	if already {
		cl.reply(ServerMessage{Type: "ack", Action: ActionSubscribe, Topic: topic})
		return
	}

	if err := cl.g.Auth.AuthorizeTopic(ctx, cl.me, topic); err != nil {
		cl.reply(ServerMessage{Type: "error", Action: ActionSubscribe, Topic: topic, ErrorCode: string(chaterr.KindOf(err)), Message: err.Error()})
		return
	}
	handler := cl.enqueue
	if kind, _ := realtime.ParseTopic(topic); kind == realtime.TopicRoom {
		handler = cl.roomForwarder(topic)
	}
	sub, err := cl.g.Broker.Subscribe(ctx, topic, handler)
	if err != nil {
		cl.log.Warn().Err(err).Str("topic", topic).Msg("chat ws: subscribe gagal")
		cl.reply(ServerMessage{Type: "error", Action: ActionSubscribe, Topic: topic, ErrorCode: string(chaterr.KindNotifierUnavailable), Message: "realtime tidak tersedia"})
		return
	}

	cl.mu.Lock()
	if _, ok := cl.subs[topic]; ok {
		cl.mu.Unlock()
		sub.Unsubscribe()
	} else {
		cl.subs[topic] = sub
		cl.mu.Unlock()
	}
	cl.reply(ServerMessage{Type: "ack", Action: ActionSubscribe, Topic: topic})
}

// roomForwarder relays room frames until the room announces this user's
// removal. Per-topic ordering guarantees nothing published after the
// removal reaches the client.
func (cl *client) roomForwarder(topic string) func([]byte) {
	var revoked atomic.Bool
	return func(p []byte) {
		if revoked.Load() {
			return
		}
		ev := realtime.DecodeEvent(topic, p)
		if uid, ok := ev.RemovedUser(); ok && uid == cl.me {
			revoked.Store(true)
			cl.enqueue(p)
			cl.drop(topic)
			return
		}
		cl.enqueue(p)
	}
}

// drop ends a subscription without an ack frame.
func (cl *client) drop(topic string) {
	cl.mu.Lock()
	sub, ok := cl.subs[topic]
	delete(cl.subs, topic)
	cl.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

func (cl *client) unsubscribe(topic string) {
	cl.drop(topic)
	cl.reply(ServerMessage{Type: "ack", Action: ActionUnsubscribe, Topic: topic})
}

func (cl *client) unsubscribeAll() {
	cl.mu.Lock()
	subs := cl.subs
	cl.subs = map[string]realtime.Subscription{}
	cl.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}
