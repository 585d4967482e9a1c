package orch

import (
	"errors"

	"github.com/dkeye/Jam/internal/app"
	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/dkeye/Jam/internal/protocol"
	"github.com/rs/zerolog/log"
)

// joinAttempts bounds retries against a room reaped between lookup and join.
const joinAttempts = 3

func (o *Orchestrator) Join(s app.Session, m *protocol.Join) {
	if s.State == app.StateInRoom {
		if _, ok := o.Registry.ExitRoom(s.SID); !ok {
			return
		}
		o.leaveRoom(s, s.Room)
		log.Info().Str("module", "orch").Str("sid", string(s.SID)).Str("from_room", string(s.Room)).Msg("kicked from room")
	} else if s.State != app.StateConnected {
		return
	}

	user := *s.User
	if m.DisplayName != "" {
		if err := domain.ValidateDisplayName(m.DisplayName); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("sid", string(s.SID)).Msg("join: display name rejected")
			return
		}
		user.DisplayName = m.DisplayName
	}
	if m.Avatar != "" {
		user.Avatar = m.Avatar
	}

	p := domain.NewPresence(string(s.SID), m.RoomID, &user, m.Position, m.Rotation)
	announce := o.frame(&protocol.MemberJoined{Member: *p})
	greet := func(snapshot []domain.Presence) core.Frame {
		return o.frame(&protocol.CurrentMembers{RoomID: m.RoomID, Members: snapshot})
	}

	o.Directory.Register(user.ID, s.SID, s.Conn)

	var (
		room core.RoomService
		res  core.JoinResult
		err  error
	)
	for i := 0; i < joinAttempts; i++ {
		room = o.Rooms.GetOrCreate(m.RoomID)
		res, err = room.Join(s.SID, p, s.Conn, announce, greet)
		if !errors.Is(err, core.ErrRoomClosed) {
			break
		}
	}
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(s.SID)).Str("room", string(m.RoomID)).Msg("join failed")
		return
	}
	if res.Replaced != "" {
		// the older connection no longer holds a presence here, so its
		// disconnect must not announce this user as gone
		o.Registry.ExitRoom(res.Replaced)
		log.Info().Str("module", "orch").Str("sid", string(s.SID)).Str("replaced", string(res.Replaced)).Str("room", string(m.RoomID)).Msg("rejoin replaced older connection")
	}
	if !o.Registry.EnterRoom(s.SID, m.RoomID) {
		// disconnected while joining
		o.leaveRoom(s, m.RoomID)
		return
	}

	res.Announced.Merge(room.Broadcast("", o.frame(&protocol.SystemNotice{
		Notice:      protocol.NoticeJoined,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	})))
	o.applyPolicy(room, res.Announced)
	o.Metrics.Rooms.Set(float64(len(o.Rooms.List())))
	o.Events.Publish(app.Event{Kind: app.EventMemberJoined, RoomID: m.RoomID, UserID: user.ID, DisplayName: user.DisplayName})

	log.Info().Str("module", "orch").Str("sid", string(s.SID)).Str("user", string(user.ID)).Str("room", string(m.RoomID)).
		Int("members", len(res.Snapshot)+1).Msg("joined")
}

func (o *Orchestrator) Move(s app.Session, m *protocol.Move) {
	if s.State != app.StateInRoom {
		return
	}
	room, ok := o.Rooms.Get(s.Room)
	if !ok {
		return
	}
	p, ok := room.Move(s.SID, m.Position, m.Rotation)
	if !ok {
		return
	}
	res := room.Broadcast(s.SID, o.frame(&protocol.MemberMoved{
		UserID:   p.UserID,
		Position: p.Position,
		Rotation: p.Rotation,
	}))
	o.applyPolicy(room, res)
}

func (o *Orchestrator) Leave(s app.Session, m *protocol.Leave) {
	if s.State != app.StateInRoom {
		return
	}
	if m.RoomID != "" && m.RoomID != s.Room {
		log.Debug().Str("module", "orch").Str("sid", string(s.SID)).Str("room", string(m.RoomID)).Msg("leave: not in that room")
		return
	}
	if _, ok := o.Registry.ExitRoom(s.SID); !ok {
		return
	}
	o.leaveRoom(s, s.Room)
}

// leaveRoom removes the presence and tells whoever remains.
func (o *Orchestrator) leaveRoom(s app.Session, id domain.RoomID) {
	room, ok := o.Rooms.Get(id)
	if !ok {
		return
	}
	p, ok := room.Leave(s.SID)
	if !ok {
		return
	}
	res := room.Broadcast("", o.frame(&protocol.MemberLeft{UserID: p.UserID}))
	res.Merge(room.Broadcast("", o.frame(&protocol.SystemNotice{
		Notice:      protocol.NoticeLeft,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
	})))
	o.applyPolicy(room, res)
	o.Rooms.ReapIfEmpty(id)
	o.Metrics.Rooms.Set(float64(len(o.Rooms.List())))
	o.Events.Publish(app.Event{Kind: app.EventMemberLeft, RoomID: id, UserID: p.UserID, DisplayName: p.DisplayName})

	log.Info().Str("module", "orch").Str("sid", string(s.SID)).Str("user", string(p.UserID)).Str("room", string(id)).Msg("left")
}
