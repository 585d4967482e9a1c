package app

import (
	"context"
	"sync"

	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/rs/zerolog/log"
)

// ConnState is where a connection is in its lifecycle.
type ConnState int

const (
	StateUnauthenticated ConnState = iota
	StateConnected
	StateInRoom
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateConnected:
		return "connected"
	case StateInRoom:
		return "in-room"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is a point-in-time copy of a registry entry.
type Session struct {
	SID   core.SessionID
	User  *domain.User
	Room  domain.RoomID
	State ConnState
	Conn  core.SignalConnection
}

type sessionEntry struct {
	user   *domain.User
	room   domain.RoomID
	state  ConnState
	conn   core.SignalConnection
	cancel context.CancelFunc
}

func (e *sessionEntry) snapshot(sid core.SessionID) Session {
	return Session{SID: sid, User: e.user, Room: e.room, State: e.state, Conn: e.conn}
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
}

// Bind registers a freshly upgraded connection. A nil user leaves it
// Unauthenticated.
func (r *Registry) Bind(sid core.SessionID, user *domain.User, conn core.SignalConnection, cancel context.CancelFunc) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &sessionEntry{user: user, state: StateConnected, conn: conn, cancel: cancel}
	if user == nil {
		e.state = StateUnauthenticated
	}
	r.sessions[sid] = e
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Stringer("state", e.state).Msg("bound session")
	return e.snapshot(sid)
}

func (r *Registry) Get(sid core.SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return Session{}, false
	}
	return e.snapshot(sid), true
}

// EnterRoom moves a Connected session into room.
func (r *Registry) EnterRoom(sid core.SessionID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.state != StateConnected {
		return false
	}
	e.room = room
	e.state = StateInRoom
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("entered room")
	return true
}

// ExitRoom moves an InRoom session back to Connected and reports the room it left.
func (r *Registry) ExitRoom(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.state != StateInRoom {
		return "", false
	}
	room := e.room
	e.room = ""
	e.state = StateConnected
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("removed room association")
	return room, true
}

// Unbind drops the session and returns its last state, so the caller can
// clean up whatever room it was in.
func (r *Registry) Unbind(sid core.SessionID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, sid)
	last := e.snapshot(sid)
	e.state = StateDisconnected
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Stringer("from", last.State).Msg("unbind session")
	return last, true
}

// Cancel stops the session's pumps; the transport then disconnects it.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

// Count returns the number of live sessions per state.
func (r *Registry) Count() map[ConnState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ConnState]int, 3)
	for _, e := range r.sessions {
		out[e.state]++
	}
	return out
}

// CancelAll stops every live session, used on shutdown.
func (r *Registry) CancelAll() int {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
	}
	r.mu.RUnlock()
	for _, c := range cancels {
		c()
	}
	return len(cancels)
}
