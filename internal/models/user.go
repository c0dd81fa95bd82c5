package models

import (
	"time"

	"github.com/google/uuid"
)

type NotifyLevel string

const (
	NotifyOff    NotifyLevel = "off"
	NotifyLow    NotifyLevel = "low"
	NotifyMedium NotifyLevel = "medium"
	NotifyHigh   NotifyLevel = "high"
)

// ValidLevel reports whether l is one of the four notification tolerances.
func ValidLevel(l NotifyLevel) bool {
	switch l {
	case NotifyOff, NotifyLow, NotifyMedium, NotifyHigh:
		return true
	}
	return false
}

type User struct {
	ID           uuid.UUID   `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"`
	PushToken    string      `json:"-"`
	NotifyLevel  NotifyLevel `json:"notify_level"`
	TracksAdded  int         `json:"tracks_added"`
	CreatedAt    time.Time   `json:"created_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type NotifyPrefsRequest struct {
	NotifyLevel NotifyLevel `json:"notify_level"`
	PushToken   string      `json:"push_token,omitempty"`
}
