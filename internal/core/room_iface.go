package core

import (
	"github.com/dkeye/Jam/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// Merge folds another delivery into r.
func (r *PublishResult) Merge(o PublishResult) {
	r.SendTo += o.SendTo
	r.Dropped = append(r.Dropped, o.Dropped...)
}

// JoinResult is what a joiner gets back: everyone who was there before it.
// GreetErr is set when the greeting could not be queued to the joiner.
// Replaced names the older connection of the same user that the join evicted.
type JoinResult struct {
	Snapshot  []domain.Presence
	Announced PublishResult
	GreetErr  error
	Replaced  SessionID
}

// Greeter renders the joiner's private view of the room from the snapshot.
type Greeter func(snapshot []domain.Presence) Frame

// RoomService is the core-facing API of a room.
// It owns the presence set but never touches transport resources.
type RoomService interface {
	ID() domain.RoomID
	MemberCount() int
	Members() []domain.Presence
	Presence(sid SessionID) (domain.Presence, bool)

	// Join inserts p and fans announce out to the members already present,
	// atomically with taking the snapshot. The greet frame, if any, is queued
	// to the joiner before any later room traffic.
	Join(sid SessionID, p *domain.Presence, conn SignalConnection, announce Frame, greet Greeter) (JoinResult, error)
	Leave(sid SessionID) (domain.Presence, bool)
	Move(sid SessionID, pos, rot domain.Vec3) (domain.Presence, bool)

	// Broadcast delivers to every member except exclude (empty excludes nobody).
	Broadcast(exclude SessionID, data Frame) PublishResult
	SendToUser(uid domain.UserID, data Frame) (MemberSession, error)
	Nearby(sid SessionID, radius float64) []domain.UserID
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
	// ReapIfEmpty drops the room when nobody is left in it.
	ReapIfEmpty(id domain.RoomID) bool
}
