package orch

import (
	"errors"

	"github.com/dkeye/Jam/internal/app"
	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/dkeye/Jam/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Relay forwards an offer, answer or ICE candidate to its target without
// looking inside the payload. The sender hears back only when the target is
// not connected; a target with a full queue is left to the backpressure
// policy.
func (o *Orchestrator) Relay(s app.Session, m *protocol.Signal) {
	if s.State != app.StateConnected && s.State != app.StateInRoom {
		return
	}
	env := domain.SignalEnvelope{Type: m.Signal, SenderID: s.User.ID, TargetID: m.TargetID, Payload: m.Payload}
	err := o.Directory.SendTo(env.TargetID, o.frame(&protocol.SignalRelay{
		Signal:   env.Type,
		SenderID: env.SenderID,
		Payload:  env.Payload,
	}))
	switch {
	case err == nil:
		o.Metrics.SignalsRelayed.WithLabelValues(string(env.Type)).Inc()
	case errors.Is(err, core.ErrBackpressure):
		log.Warn().Str("module", "orch").Str("user", string(env.SenderID)).Str("target", string(env.TargetID)).
			Str("signal", string(env.Type)).Msg("signal target is slow")
		if sid, _, ok := o.Directory.Lookup(env.TargetID); ok {
			o.slowTarget(sid)
		}
	default:
		o.Metrics.TargetUnavailable.Inc()
		log.Debug().Err(err).Str("module", "orch").Str("user", string(env.SenderID)).Str("target", string(env.TargetID)).
			Str("signal", string(env.Type)).Msg("signal target unavailable")
		o.send(s.Conn, &protocol.TargetUnavailable{TargetID: env.TargetID})
	}
}

// slowTarget runs the backpressure policy for a directly addressed
// connection, in the context of its room when it has one.
func (o *Orchestrator) slowTarget(sid core.SessionID) {
	target, ok := o.Registry.Get(sid)
	if !ok {
		return
	}
	member := directMember{sid: sid, conn: target.Conn}
	var room core.RoomService
	if target.State == app.StateInRoom {
		if r, ok := o.Rooms.Get(target.Room); ok {
			room = r
			member.presence, _ = r.Presence(sid)
		}
	}
	o.onSlow(room, member)
}

// directMember is a MemberSession for a connection reached through the
// directory rather than a room broadcast.
type directMember struct {
	sid      core.SessionID
	presence domain.Presence
	conn     core.SignalConnection
}

func (m directMember) SID() core.SessionID           { return m.sid }
func (m directMember) Presence() domain.Presence     { return m.presence }
func (m directMember) Signal() core.SignalConnection { return m.conn }
