package core

import (
	"sort"
	"sync"

	"github.com/dkeye/Jam/internal/domain"
	"github.com/rs/zerolog/log"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomImpl
}

func NewRoomManager() RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.RoomID]*roomImpl)}
}

func (f *RoomManagerImpl) GetOrCreate(id domain.RoomID) RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = NewRoomService(&domain.Room{ID: id}).(*roomImpl)
	f.rooms[id] = room
	log.Info().Str("module", "core.rooms").Str("room", string(id)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, false
	}
	return room, true
}

func (f *RoomManagerImpl) List() []RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *RoomManagerImpl) StopRoom(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[id]; ok {
		room.close()
		delete(f.rooms, id)
	}
}

func (f *RoomManagerImpl) ReapIfEmpty(id domain.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok || !room.closeIfEmpty() {
		return false
	}
	delete(f.rooms, id)
	log.Info().Str("module", "core.rooms").Str("room", string(id)).Msg("empty room reaped")
	return true
}
