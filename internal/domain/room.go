package domain

type RoomID string

const MaxRoomIDLen = 64

type Room struct {
	ID RoomID
}
