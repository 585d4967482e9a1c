package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Jam/internal/app"
	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/dkeye/Jam/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// ErrUnauthenticated is returned for any message on a connection that never
// got an identity; the transport closes it.
var ErrUnauthenticated = errors.New("unauthenticated connection")

type NearbyMode string

const (
	NearbyHint   NearbyMode = "hint"
	NearbyVerify NearbyMode = "verify"
	NearbyServer NearbyMode = "server"
)

type ChatOptions struct {
	NearbyMode   NearbyMode
	NearbyRadius float64
	MaxLength    int
}

// Orchestrator is the session coordinator: it owns the per-connection state
// machine and routes every inbound message to the room or the directory.
type Orchestrator struct {
	Registry  *app.Registry
	Directory *app.Directory
	Rooms     core.RoomManager
	Policy    app.Policy
	Events    app.EventPublisher
	Metrics   *app.Metrics
	Limiter   *app.RateLimiter
	Chat      ChatOptions

	// ICEServers lists what a user should configure its peer connections with.
	ICEServers func(domain.UserID) []protocol.ICEServer
}

// New fills every collaborator left nil with a working default.
func New(o Orchestrator) *Orchestrator {
	if o.Registry == nil {
		o.Registry = app.NewRegistry()
	}
	if o.Directory == nil {
		o.Directory = app.NewDirectory()
	}
	if o.Rooms == nil {
		o.Rooms = core.NewRoomManager()
	}
	if o.Policy == nil {
		o.Policy = app.SimplePolicy{Action: app.KickMember}
	}
	if o.Events == nil {
		o.Events = app.NopPublisher{}
	}
	if o.Metrics == nil {
		o.Metrics = app.NewMetrics(prometheus.NewRegistry())
	}
	if o.Limiter == nil {
		o.Limiter = app.NewRateLimiter(10, 10*time.Second)
	}
	if o.Chat.NearbyMode == "" {
		o.Chat.NearbyMode = NearbyHint
	}
	if o.Chat.NearbyRadius <= 0 {
		o.Chat.NearbyRadius = 5
	}
	if o.Chat.MaxLength <= 0 {
		o.Chat.MaxLength = 1000
	}
	return &o
}

// Connect registers a freshly upgraded connection and makes an identified
// user reachable for signaling right away. user is nil when the HTTP layer
// could not bind an identity.
func (o *Orchestrator) Connect(sid core.SessionID, user *domain.User, conn core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.Bind(sid, user, conn, cancel)
	o.Metrics.Connections.Inc()
	if user == nil {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("connection without identity")
		return
	}
	o.Directory.Register(user.ID, sid, conn)
	w := &protocol.Welcome{User: *user}
	if o.ICEServers != nil {
		w.ICEServers = o.ICEServers(user.ID)
	}
	o.send(conn, w)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("connected")
}

// OnMessage decodes one inbound frame and dispatches it. Protocol errors
// are returned for logging only; the connection stays open unless the error
// is ErrUnauthenticated.
func (o *Orchestrator) OnMessage(sid core.SessionID, data []byte) error {
	s, ok := o.Registry.Get(sid)
	if !ok {
		return fmt.Errorf("session %s: %w", sid, app.ErrNotFound)
	}
	if s.State == app.StateUnauthenticated {
		o.Metrics.Rejected.WithLabelValues("unauthenticated").Inc()
		return ErrUnauthenticated
	}
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		o.Metrics.Rejected.WithLabelValues("protocol").Inc()
		return err
	}
	o.Metrics.Messages.WithLabelValues(string(msg.Kind())).Inc()

	switch m := msg.(type) {
	case *protocol.Join:
		o.Join(s, m)
	case *protocol.Move:
		o.Move(s, m)
	case *protocol.Leave:
		o.Leave(s, m)
	case *protocol.Chat:
		o.SendChat(s, m)
	case *protocol.Signal:
		o.Relay(s, m)
	case *protocol.Ping:
		o.send(s.Conn, &protocol.Pong{})
	}
	return nil
}

// Disconnect tears a connection down: the rest of its room hears it leave,
// and the directory forgets it unless a newer connection took over.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	last, ok := o.Registry.Unbind(sid)
	if !ok {
		return
	}
	o.Metrics.Connections.Dec()
	if last.State == app.StateInRoom {
		o.leaveRoom(last, last.Room)
	}
	if last.User != nil && o.Directory.Unregister(last.User.ID, sid) {
		o.Limiter.Forget(last.User.ID)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("disconnected")
}

// Shutdown asks every live connection to close.
func (o *Orchestrator) Shutdown() {
	n := o.Registry.CancelAll()
	log.Info().Str("module", "orch").Int("sessions", n).Msg("shutdown")
}

func (o *Orchestrator) frame(m protocol.Outbound) core.Frame {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return nil
	}
	return b
}

func (o *Orchestrator) send(conn core.SignalConnection, m protocol.Outbound) {
	f := o.frame(m)
	if f == nil || conn == nil {
		return
	}
	if err := conn.TrySend(f); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("type", string(m.Kind())).Msg("private send failed")
	}
}

// applyPolicy decides the fate of members that could not take a frame.
func (o *Orchestrator) applyPolicy(room core.RoomService, res core.PublishResult) {
	for _, slow := range res.Dropped {
		o.onSlow(room, slow)
	}
}

// onSlow applies the policy to one member that missed a frame. room is nil
// for a connection that is not in any room.
func (o *Orchestrator) onSlow(room core.RoomService, slow core.MemberSession) {
	o.Metrics.Dropped.Inc()
	switch o.Policy.OnBackPressure(room, slow) {
	case app.KickMember:
		if o.Registry.Cancel(slow.SID()) {
			o.Metrics.Kicked.Inc()
			ev := log.Warn().Str("module", "orch").Str("sid", string(slow.SID()))
			if room != nil {
				ev = ev.Str("room", string(room.ID()))
			}
			ev.Msg("slow member kicked")
		}
	case app.DropFrame, app.NoAction:
	}
}
