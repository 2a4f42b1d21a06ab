// Package realtime fans chat mutations out to topic subscribers.
package realtime

import (
	"strings"

	"github.com/google/uuid"
)

const (
	roomTopicPrefix = "room:"
	userTopicPrefix = "user:"
	userTopicSuffix = ":rooms"
)

func RoomTopic(roomID uuid.UUID) string { return roomTopicPrefix + roomID.String() }

func UserTopic(userID uuid.UUID) string { return userTopicPrefix + userID.String() + userTopicSuffix }

type TopicKind int

const (
	TopicInvalid TopicKind = iota
	TopicRoom
	TopicUser
)

// ParseTopic recognises room:{uuid} and user:{uuid}:rooms.
func ParseTopic(topic string) (TopicKind, uuid.UUID) {
	switch {
	case strings.HasPrefix(topic, roomTopicPrefix):
		if id, err := uuid.Parse(strings.TrimPrefix(topic, roomTopicPrefix)); err == nil {
			return TopicRoom, id
		}
	case strings.HasPrefix(topic, userTopicPrefix) && strings.HasSuffix(topic, userTopicSuffix):
		raw := strings.TrimSuffix(strings.TrimPrefix(topic, userTopicPrefix), userTopicSuffix)
		if id, err := uuid.Parse(raw); err == nil {
			return TopicUser, id
		}
	}
	return TopicInvalid, uuid.Nil
}
