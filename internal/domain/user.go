// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
	MaxAvatarLen   = 512
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrAvatarTooLong   = errors.New("avatar reference too long")
)

type UserID string

// User is the verified identity bound to a connection by the auth layer.
// It never changes for the lifetime of that connection.
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// NewUser validates an identity handed over by the auth collaborator.
func NewUser(id UserID, displayName, avatar string) (*User, error) {
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	if len(avatar) > MaxAvatarLen {
		return nil, ErrAvatarTooLong
	}
	return &User{ID: id, DisplayName: displayName, Avatar: avatar}, nil
}

// NewGuest is a tiny helper for anonymous sessions.
func NewGuest() *User {
	id := uuid.NewString()
	return &User{ID: UserID(id), DisplayName: "guest-" + id[:8]}
}

func ValidateDisplayName(name string) error {
	if name == "" {
		return ErrUsernameEmpty
	}
	if utf8.RuneCountInString(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
