package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Client -> server events.
const (
	EventJoinSession   EventType = "join-session"
	EventLeaveSession  EventType = "leave-session"
	EventQuitSession   EventType = "quit-session"
	EventAddToQueue    EventType = "add-to-queue"
	EventVoteTrack     EventType = "vote-track"
	EventSkipTrack     EventType = "skip-track"
	EventTrackEnded    EventType = "track-ended"
	EventApproveTrack  EventType = "approve-track"
	EventRejectTrack   EventType = "reject-track"
	EventChangeMode    EventType = "change-mode"
	EventReaction      EventType = "reaction"
	EventChatMessage   EventType = "chat-message"
	EventPlaybackState EventType = "playback:state"
	EventPlaybackSeek  EventType = "playback:seek"
	EventSyncPing      EventType = "sync:ping"
)

// Server -> client notices.
const (
	EventRoomState       EventType = "room-state"
	EventParticipantIn   EventType = "participant-joined"
	EventParticipantOut  EventType = "participant-left"
	EventQueueUpdated    EventType = "queue-updated"
	EventTrackPending    EventType = "track-pending"
	EventTrackApproved   EventType = "track-approved"
	EventTrackRejected   EventType = "track-rejected"
	EventTrackChanged    EventType = "track-changed"
	EventModeChanged     EventType = "mode-changed"
	EventReactionOut     EventType = "reaction-received"
	EventPlaybackUpdate  EventType = "playback:stateChange"
	EventPlaybackSeeked  EventType = "playback:seeked"
	EventSyncPong        EventType = "sync:pong"
	EventError           EventType = "error"
)

// ClientEvent is the envelope every inbound frame must parse into. The
// payload is decoded per event type by the router; unknown types are
// rejected at the boundary.
type ClientEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerEvent is the outbound envelope.
type ServerEvent struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Inbound payload variants, one per client event type.

type SessionRef struct {
	SessionID uuid.UUID `json:"sessionId"`
}

type AddToQueuePayload struct {
	SessionID uuid.UUID  `json:"sessionId"`
	Track     TrackInput `json:"track"`
}

type VoteTrackPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	TrackID   uuid.UUID `json:"trackId"`
	Direction int       `json:"direction"`
}

type TrackRef struct {
	SessionID uuid.UUID `json:"sessionId"`
	TrackID   uuid.UUID `json:"trackId"`
}

type ChangeModePayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	RoomMode  RoomMode  `json:"roomMode"`
}

type ReactionPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	TrackID   uuid.UUID `json:"trackId"`
	Kind      string    `json:"type"`
}

type ChatPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	Text      string    `json:"text"`
}

type PlaybackPayload struct {
	SessionID uuid.UUID      `json:"sessionId"`
	State     *PlaybackState `json:"state,omitempty"`
	Position  *float64       `json:"position,omitempty"`
}

type SyncPingPayload struct {
	ClientTime int64 `json:"clientTime"`
}

// Outbound payload variants.

type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackStopped PlaybackState = "stopped"
)

// PlaybackSnapshot is the playback clock as broadcast to clients. The
// server never ticks; clients extrapolate from Position and At while
// State is "playing".
type PlaybackSnapshot struct {
	State    PlaybackState `json:"state"`
	Position float64       `json:"position"`
	At       time.Time     `json:"at"`
	TrackID  *uuid.UUID    `json:"trackId,omitempty"`
}

type RoomStatePayload struct {
	Session      *Session          `json:"session"`
	Members      []*Member         `json:"members"`
	CurrentTrack *QueueTrack       `json:"currentTrack"`
	Queue        []*QueueTrack     `json:"queue"`
	Pending      []*QueueTrack     `json:"pending"`
	Chat         []*ChatMessage    `json:"chat"`
	Playback     *PlaybackSnapshot `json:"playback"`
}

type ParticipantPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username"`
	// Permanent marks a quit (membership revoked) rather than a view change.
	Permanent bool `json:"permanent,omitempty"`
}

type QueueUpdatedPayload struct {
	SessionID uuid.UUID     `json:"sessionId"`
	Queue     []*QueueTrack `json:"queue"`
}

type TrackNoticePayload struct {
	SessionID uuid.UUID   `json:"sessionId"`
	Track     *QueueTrack `json:"track"`
}

type TrackRejectedPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	TrackID   uuid.UUID `json:"trackId"`
}

type ModeChangedPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	RoomMode  RoomMode  `json:"roomMode"`
}

type ReactionOutPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	TrackID   uuid.UUID `json:"trackId"`
	Kind      string    `json:"type"`
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username"`
}

type PlaybackNoticePayload struct {
	SessionID uuid.UUID        `json:"sessionId"`
	Playback  PlaybackSnapshot `json:"playback"`
}

type SyncPongPayload struct {
	ClientTime int64 `json:"clientTime"`
	ServerTime int64 `json:"serverTime"`
}

type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMS int64  `json:"retryAfterMs,omitempty"`
}
