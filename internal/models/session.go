package models

import (
	"time"

	"github.com/google/uuid"
)

type RoomMode string

const (
	ModeCampfire  RoomMode = "campfire"
	ModeOpenFloor RoomMode = "open_floor"
	ModeSpotlight RoomMode = "spotlight"
)

// ValidMode reports whether m is one of the three room modes.
func ValidMode(m RoomMode) bool {
	switch m {
	case ModeCampfire, ModeOpenFloor, ModeSpotlight:
		return true
	}
	return false
}

type Session struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	HostID    uuid.UUID `json:"host_id"`
	Mode      RoomMode  `json:"mode"`
	IsPublic  bool      `json:"is_public"`
	IsLive    bool      `json:"is_live"`
	JoinCode  string    `json:"join_code"`
	CreatedAt time.Time `json:"created_at"`
}

type TrackStatus string

const (
	TrackPending  TrackStatus = "pending"
	TrackApproved TrackStatus = "approved"
)

// QueueTrack is one entry in a session's queue. Position records insertion
// order within the session and is never reused; display order is computed
// per room mode by the queue package.
type QueueTrack struct {
	ID          uuid.UUID      `json:"id"`
	SessionID   uuid.UUID      `json:"session_id"`
	Title       string         `json:"title"`
	Artist      string         `json:"artist"`
	Album       string         `json:"album,omitempty"`
	ArtworkURL  string         `json:"artwork_url,omitempty"`
	PreviewURL  string         `json:"preview_url,omitempty"`
	DurationMS  int            `json:"duration_ms"`
	Provider    string         `json:"provider"`
	ProviderID  string         `json:"provider_id"`
	AddedBy     uuid.UUID      `json:"added_by"`
	AddedByName string         `json:"added_by_name"`
	Voters      map[string]int `json:"voters"`
	Status      TrackStatus    `json:"status"`
	Position    int            `json:"position"`
	IsCurrent   bool           `json:"is_current"`
	CreatedAt   time.Time      `json:"created_at"`
}

// VoteTotal is always derived from the voter map so the total can never
// drift from the individual votes.
func (t *QueueTrack) VoteTotal() int {
	total := 0
	for _, dir := range t.Voters {
		total += dir
	}
	return total
}

// TrackInput is the client-supplied track metadata on add-to-queue.
type TrackInput struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	ArtworkURL string `json:"artwork_url,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
	DurationMS int    `json:"duration_ms"`
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"`
}

type ChatMessage struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type Member struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

type CreateSessionRequest struct {
	Name     string   `json:"name"`
	Mode     RoomMode `json:"mode"`
	IsPublic bool     `json:"is_public"`
}
