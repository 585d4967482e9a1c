package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Jam/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	bySID  map[SessionID]*memberSession
	byUser map[domain.UserID]SessionID
	closed bool
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:   room,
		bySID:  make(map[SessionID]*memberSession),
		byUser: make(map[domain.UserID]SessionID),
	}
}

func (r *roomImpl) ID() domain.RoomID { return r.room.ID }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) Join(sid SessionID, p *domain.Presence, conn SignalConnection, announce Frame, greet Greeter) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return JoinResult{}, fmt.Errorf("join %s: %w", r.room.ID, ErrRoomClosed)
	}

	res := JoinResult{}
	// one presence per user: a rejoin over a new connection replaces the old one
	if prev, ok := r.byUser[p.UserID]; ok && prev != sid {
		delete(r.bySID, prev)
		delete(r.byUser, p.UserID)
		res.Replaced = prev
	}
	res.Snapshot = r.snapshotLocked(sid)
	if greet != nil {
		if f := greet(res.Snapshot); f != nil {
			res.GreetErr = conn.TrySend(f)
		}
	}
	if announce != nil {
		res.Announced = r.broadcastLocked(sid, announce)
	}

	p.SID = string(sid)
	p.RoomID = r.room.ID
	p.UpdatedAt = time.Now()
	r.bySID[sid] = newMemberSession(sid, p, conn)
	r.byUser[p.UserID] = sid
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Str("user", string(p.UserID)).Msg("member joined")
	return res, nil
}

func (r *roomImpl) Leave(sid SessionID) (domain.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.bySID[sid]
	if !ok {
		return domain.Presence{}, false
	}
	delete(r.bySID, sid)
	// a newer connection of the same user keeps its index entry
	if r.byUser[m.presence.UserID] == sid {
		delete(r.byUser, m.presence.UserID)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member left")
	return *m.presence, true
}

func (r *roomImpl) Move(sid SessionID, pos, rot domain.Vec3) (domain.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.bySID[sid]
	if !ok {
		return domain.Presence{}, false
	}
	m.presence.Position = pos
	m.presence.Rotation = rot
	m.presence.UpdatedAt = time.Now()
	return *m.presence, true
}

func (r *roomImpl) Presence(sid SessionID) (domain.Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.bySID[sid]
	if !ok {
		return domain.Presence{}, false
	}
	return *m.presence, true
}

func (r *roomImpl) Broadcast(exclude SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := r.broadcastLocked(exclude, data)
	log.Debug().Str("module", "core.room").Str("room", string(r.room.ID)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) broadcastLocked(exclude SessionID, data Frame) PublishResult {
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == exclude {
			continue
		}
		if err := m.conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m.frozen())
			continue
		}
		res.SendTo++
	}
	return res
}

func (r *roomImpl) SendToUser(uid domain.UserID, data Frame) (MemberSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[uid]
	if !ok {
		return nil, ErrNotInRoom
	}
	m := r.bySID[sid]
	if err := m.conn.TrySend(data); err != nil {
		return m.frozen(), err
	}
	return m.frozen(), nil
}

// Nearby lists the other members within radius of sid, ordered by user id.
func (r *roomImpl) Nearby(sid SessionID, radius float64) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	self, ok := r.bySID[sid]
	if !ok {
		return nil
	}
	var out []domain.UserID
	for other, m := range r.bySID {
		if other == sid {
			continue
		}
		if self.presence.Position.Distance(m.presence.Position) <= radius {
			out = append(out, m.presence.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *roomImpl) Members() []domain.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked("")
}

func (r *roomImpl) snapshotLocked(exclude SessionID) []domain.Presence {
	out := make([]domain.Presence, 0, len(r.bySID))
	for sid, m := range r.bySID {
		if sid == exclude {
			continue
		}
		out = append(out, *m.presence)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// closeIfEmpty marks an empty room as closed so no late joiner lands in it.
func (r *roomImpl) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.bySID) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *roomImpl) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
