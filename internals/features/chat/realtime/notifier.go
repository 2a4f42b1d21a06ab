package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/metrics"
)

type EventKind string

const (
	EventMessageCreated EventKind = "message.created"
	EventMessageUpdated EventKind = "message.updated"
	EventMessageDeleted EventKind = "message.deleted"
	EventRoomUpdated    EventKind = "room.updated"
	EventReadUpdated    EventKind = "read.updated"

	// EventParticipantRemoved goes to the room topic and to the removed
	// user's room list. Data is a ParticipantChange.
	EventParticipantRemoved EventKind = "participant.removed"

	// EventMalformed is synthesised locally for payloads that fail to decode;
	// receivers should refetch.
	EventMalformed EventKind = "malformed"
)

// Event is the wire envelope of every realtime notification. Data holds the
// kind specific body (message, room summary, cursor).
type Event struct {
	Kind    EventKind       `json:"kind"`
	Topic   string          `json:"topic,omitempty"`
	RoomID  uuid.UUID       `json:"room_id"`
	Seq     int64           `json:"seq,omitempty"`
	ActorID uuid.UUID       `json:"actor_id"`
	Data    json.RawMessage `json:"data,omitempty"`
	At      time.Time       `json:"at"`
}

type ParticipantChange struct {
	UserID uuid.UUID `json:"user_id"`
}

// RemovedUser returns the departed user of a participant.removed event.
func (e Event) RemovedUser() (uuid.UUID, bool) {
	if e.Kind != EventParticipantRemoved {
		return uuid.Nil, false
	}
	var pc ParticipantChange
	if err := e.DecodeData(&pc); err != nil || pc.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	return pc.UserID, true
}

// NewEvent encodes data with sonic into the envelope.
func NewEvent(kind EventKind, roomID uuid.UUID, seq int64, actorID uuid.UUID, data any) (Event, error) {
	ev := Event{Kind: kind, RoomID: roomID, Seq: seq, ActorID: actorID, At: time.Now().UTC()}
	if data != nil {
		raw, err := sonic.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		ev.Data = raw
	}
	return ev, nil
}

// DecodeData unmarshals the event body into v.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return errors.New("realtime: event has no data")
	}
	return sonic.Unmarshal(e.Data, v)
}

func DecodeEvent(topic string, payload []byte) Event {
	var ev Event
	if err := sonic.Unmarshal(payload, &ev); err != nil || ev.Kind == "" {
		return Event{Kind: EventMalformed, Topic: topic, At: time.Now().UTC()}
	}
	ev.Topic = topic
	return ev
}

type Notifier struct {
	Broker Broker
	Log    zerolog.Logger
}

func NewNotifier(b Broker, log zerolog.Logger) *Notifier {
	return &Notifier{Broker: b, Log: log}
}

// Publish sends ev on topic. Failures are logged, counted and returned as
// NotifierUnavailable; callers treat them as non-fatal.
func (n *Notifier) Publish(ctx context.Context, topic string, ev Event) error {
	ev.Topic = topic
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return chaterr.Wrap(chaterr.KindNotifierUnavailable, err, "encode event")
	}
	if err := n.Broker.Publish(ctx, topic, payload); err != nil {
		metrics.RealtimeFailures.Inc()
		n.Log.Warn().Err(err).Str("topic", topic).Str("kind", string(ev.Kind)).Msg("realtime: publish gagal")
		return chaterr.Notifier(err, "publish "+topic)
	}
	metrics.RealtimePublished.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

// Fanout publishes ev on the room topic and on the room-list topic of every
// given user. All topics are attempted; the joined error reports failures.
func (n *Notifier) Fanout(ctx context.Context, ev Event, userIDs []uuid.UUID) error {
	errs := []error{n.Publish(ctx, RoomTopic(ev.RoomID), ev)}
	for _, uid := range userIDs {
		errs = append(errs, n.Publish(ctx, UserTopic(uid), ev))
	}
	if err := errors.Join(errs...); err != nil {
		return chaterr.Notifier(err, "fanout")
	}
	return nil
}

// Subscribe decodes payloads before calling handler. Undecodable payloads
// arrive as EventMalformed.
func (n *Notifier) Subscribe(ctx context.Context, topic string, handler func(Event)) (Subscription, error) {
	sub, err := n.Broker.Subscribe(ctx, topic, func(p []byte) { handler(DecodeEvent(topic, p)) })
	if err != nil {
		return nil, chaterr.Notifier(err, "subscribe "+topic)
	}
	return sub, nil
}
