package core

import (
	"errors"

	"github.com/dkeye/Jam/internal/domain"
)

// Frame is a raw encoded payload (one wire message).
type Frame []byte

// SessionID is the connection handle: one per live transport session.
type SessionID string

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
	ErrNotInRoom    = errors.New("not in room")
	ErrRoomClosed   = errors.New("room closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a presence and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	SID() SessionID
	Presence() domain.Presence
	Signal() SignalConnection
}
