package domain

import (
	"math"
	"time"
)

// Vec3 is a position or a set of Euler angles.
type Vec3 [3]float64

// Distance returns the Euclidean distance between two points.
func (v Vec3) Distance(o Vec3) float64 {
	dx, dy, dz := v[0]-o[0], v[1]-o[1], v[2]-o[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Presence is a connection's current state within a room.
// No transport or lifecycle logic here.
type Presence struct {
	SID         string    `json:"-"`
	RoomID      RoomID    `json:"roomId"`
	UserID      UserID    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar,omitempty"`
	Position    Vec3      `json:"position"`
	Rotation    Vec3      `json:"rotation"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewPresence avoids raw literals in adapters and keeps construction obvious.
func NewPresence(sid string, room RoomID, user *User, pos, rot Vec3) *Presence {
	return &Presence{
		SID:         sid,
		RoomID:      room,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Avatar:      user.Avatar,
		Position:    pos,
		Rotation:    rot,
		UpdatedAt:   time.Now(),
	}
}
