// Package directory builds the conversation list of a user: display names,
// previews, unread badges, most recent first.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sekolahchat_backend/internals/features/chat/model"
	"sekolahchat_backend/internals/features/chat/readcursor"
	"sekolahchat_backend/internals/features/chat/store"
)

const (
	UnknownUserLabel = "Unknown user"
	SelfChatLabel    = "Note to self"
	UnnamedGroup     = "Grup tanpa nama"

	groupLabelMembers = 3
)

type RoomSummary struct {
	RoomID        uuid.UUID                 `json:"room_id"`
	Kind          model.RoomKind            `json:"kind"`
	DisplayName   string                    `json:"display_name"`
	AvatarURL     *string                   `json:"avatar_url,omitempty"`
	PeerID        *uuid.UUID                `json:"peer_id,omitempty"`
	PeerRole      string                    `json:"peer_role,omitempty"`
	LastMessage   *model.LastMessagePreview `json:"last_message,omitempty"`
	LastMessageAt *time.Time                `json:"last_message_at,omitempty"`
	UnreadCount   int64                     `json:"unread_count"`
	LastReadSeq   int64                     `json:"last_read_seq"`
	MemberCount   int                       `json:"member_count"`
	IsOwner       bool                      `json:"is_owner"`

	sortKey time.Time
}

type Directory struct {
	Store    *store.Store
	Tracker  *readcursor.Tracker
	Resolver IdentityResolver
	Log      zerolog.Logger
}

func New(st *store.Store, tr *readcursor.Tracker, res IdentityResolver, log zerolog.Logger) *Directory {
	return &Directory{Store: st, Tracker: tr, Resolver: res, Log: log}
}

// ListRoomsForUser returns the user's rooms ordered by last activity. The
// query count is constant in the number of rooms. Identity or preview
// lookups that fail degrade to sentinels instead of failing the list.
func (d *Directory) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]RoomSummary, error) {
	memberships, err := d.Store.RoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return []RoomSummary{}, nil
	}

	roomIDs := make([]uuid.UUID, 0, len(memberships))
	for _, m := range memberships {
		roomIDs = append(roomIDs, m.Room.ChatRoomID)
	}

	unread, err := d.Tracker.GetUnreadCountsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	members, err := d.Store.ActiveMemberIDs(ctx, roomIDs)
	if err != nil {
		return nil, err
	}

	latest := d.previewFallback(ctx, memberships)
	idents := d.resolve(ctx, userID, memberships, members)

	out := make([]RoomSummary, 0, len(memberships))
	for _, m := range memberships {
		room := m.Room
		others := without(members[room.ChatRoomID], userID)
		s := RoomSummary{
			RoomID:        room.ChatRoomID,
			Kind:          room.ChatRoomKind,
			LastMessageAt: room.ChatRoomLastMsgAt,
			UnreadCount:   unread[room.ChatRoomID],
			LastReadSeq:   m.Participant.ChatParticipantLastReadSeq,
			MemberCount:   len(members[room.ChatRoomID]),
			IsOwner:       m.Participant.IsOwner(),
			sortKey:       room.SortTime(),
		}

		if room.HasPreview() {
			p := room.ChatRoomLastMessage.Data()
			s.LastMessage = &p
		} else if msg, ok := latest[room.ChatRoomID]; ok {
			p := msg.Preview()
			s.LastMessage = &p
			if s.LastMessageAt == nil {
				s.LastMessageAt = &p.SentAt
				s.sortKey = p.SentAt
			}
		}

		switch room.ChatRoomKind {
		case model.RoomKindDirect:
			labelDirect(&s, others, idents)
		default:
			labelGroup(&s, room, others, idents)
		}
		out = append(out, s)
	}

	SortByRecency(out)
	return out, nil
}

// SortByRecency orders summaries by last activity, newest first.
func SortByRecency(s []RoomSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].sortKey.Equal(s[j].sortKey) {
			return s[i].sortKey.After(s[j].sortKey)
		}
		return s[i].RoomID.String() < s[j].RoomID.String()
	})
}

// previewFallback fetches the latest live message for rooms whose cached
// preview is missing.
func (d *Directory) previewFallback(ctx context.Context, ms []store.Membership) map[uuid.UUID]model.MessageModel {
	var stale []uuid.UUID
	for _, m := range ms {
		if !m.Room.HasPreview() && m.Room.ChatRoomLastSeq > 0 {
			stale = append(stale, m.Room.ChatRoomID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	latest, err := d.Store.LatestMessages(ctx, stale)
	if err != nil {
		d.Log.Warn().Err(err).Int("rooms", len(stale)).Msg("chat directory: preview fallback gagal")
		return nil
	}
	return latest
}

func (d *Directory) resolve(ctx context.Context, me uuid.UUID, ms []store.Membership, members map[uuid.UUID][]uuid.UUID) map[uuid.UUID]Identity {
	seen := map[uuid.UUID]struct{}{}
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, m := range ms {
		others := without(members[m.Room.ChatRoomID], me)
		switch {
		case m.Room.ChatRoomKind == model.RoomKindDirect:
			for _, id := range others {
				add(id)
			}
		case m.Room.ChatRoomName == nil:
			for i, id := range others {
				if i == groupLabelMembers {
					break
				}
				add(id)
			}
		}
	}
	if len(ids) == 0 || d.Resolver == nil {
		return map[uuid.UUID]Identity{}
	}
	idents, err := d.Resolver.Resolve(ctx, ids)
	if err != nil {
		d.Log.Warn().Err(err).Int("users", len(ids)).Msg("chat directory: resolve identitas gagal, pakai sentinel")
		return map[uuid.UUID]Identity{}
	}
	return idents
}

func labelDirect(s *RoomSummary, others []uuid.UUID, idents map[uuid.UUID]Identity) {
	if len(others) == 0 {
		s.DisplayName = SelfChatLabel
		return
	}
	peer := others[0]
	s.PeerID = &peer
	id, ok := idents[peer]
	if !ok || strings.TrimSpace(id.DisplayName) == "" {
		s.DisplayName = UnknownUserLabel
		return
	}
	s.DisplayName = id.DisplayName
	s.AvatarURL = id.AvatarURL
	s.PeerRole = id.Role
}

func labelGroup(s *RoomSummary, room model.RoomModel, others []uuid.UUID, idents map[uuid.UUID]Identity) {
	s.AvatarURL = room.ChatRoomAvatarURL
	if room.ChatRoomName != nil && strings.TrimSpace(*room.ChatRoomName) != "" {
		s.DisplayName = *room.ChatRoomName
		return
	}
	var names []string
	for i, id := range others {
		if i == groupLabelMembers {
			break
		}
		if ident, ok := idents[id]; ok && ident.DisplayName != "" {
			names = append(names, ident.DisplayName)
		}
	}
	if len(names) == 0 {
		s.DisplayName = UnnamedGroup
		return
	}
	label := strings.Join(names, ", ")
	if rest := len(others) - len(names); rest > 0 {
		label += fmt.Sprintf(" +%d", rest)
	}
	s.DisplayName = label
}

func without(ids []uuid.UUID, me uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != me {
			out = append(out, id)
		}
	}
	return out
}
