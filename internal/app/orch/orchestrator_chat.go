package orch

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dkeye/Jam/internal/app"
	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/dkeye/Jam/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) SendChat(s app.Session, m *protocol.Chat) {
	if s.State != app.StateInRoom {
		return
	}
	text := strings.TrimSpace(m.Text)
	if text == "" || utf8.RuneCountInString(text) > o.Chat.MaxLength {
		o.Metrics.Rejected.WithLabelValues("chat_length").Inc()
		return
	}
	if !o.Limiter.Allow(s.User.ID) {
		o.Metrics.Rejected.WithLabelValues("chat_rate").Inc()
		log.Debug().Str("module", "orch").Str("user", string(s.User.ID)).Msg("chat rate limited")
		return
	}
	room, ok := o.Rooms.Get(s.Room)
	if !ok {
		return
	}
	me, ok := room.Presence(s.SID)
	if !ok {
		return
	}
	env := domain.ChatEnvelope{
		RoomID:     s.Room,
		SenderID:   me.UserID,
		SenderName: me.DisplayName,
		Text:       text,
		Timestamp:  time.Now().UTC(),
		Scope:      m.Scope,
	}

	switch m.Scope {
	case domain.ChatGlobal:
		o.applyPolicy(room, room.Broadcast("", o.frame(&protocol.ChatMessage{ChatEnvelope: env})))
	case domain.ChatNearby:
		env.Recipients = o.nearbyRecipients(room, s.SID, me.UserID, m.Recipients)
		f := o.frame(&protocol.ChatMessage{ChatEnvelope: env})
		var res core.PublishResult
		for _, uid := range env.Recipients {
			member, err := room.SendToUser(uid, f)
			switch {
			case err == nil:
				res.SendTo++
			case errors.Is(err, core.ErrNotInRoom):
			default:
				res.Dropped = append(res.Dropped, member)
			}
		}
		o.send(s.Conn, &protocol.ChatMessage{ChatEnvelope: env.WithScope(domain.ChatSelf)})
		o.applyPolicy(room, res)
	default:
		return
	}
	o.Events.Publish(app.Event{Kind: app.EventChat, RoomID: s.Room, UserID: me.UserID, DisplayName: me.DisplayName, Chat: &env})
}

// nearbyRecipients resolves who a nearby message goes to, according to how
// far the client's own proximity hint is trusted. The sender is never listed.
func (o *Orchestrator) nearbyRecipients(room core.RoomService, sid core.SessionID, self domain.UserID, hint []domain.UserID) []domain.UserID {
	var candidates []domain.UserID
	switch o.Chat.NearbyMode {
	case NearbyServer:
		return room.Nearby(sid, o.Chat.NearbyRadius)
	case NearbyVerify:
		near := make(map[domain.UserID]struct{})
		for _, uid := range room.Nearby(sid, o.Chat.NearbyRadius) {
			near[uid] = struct{}{}
		}
		for _, uid := range hint {
			if _, ok := near[uid]; ok {
				candidates = append(candidates, uid)
			}
		}
	default:
		members := make(map[domain.UserID]struct{})
		for _, p := range room.Members() {
			members[p.UserID] = struct{}{}
		}
		for _, uid := range hint {
			if _, ok := members[uid]; ok {
				candidates = append(candidates, uid)
			}
		}
	}

	seen := make(map[domain.UserID]struct{}, len(candidates))
	out := make([]domain.UserID, 0, len(candidates))
	for _, uid := range candidates {
		if uid == self {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out
}
