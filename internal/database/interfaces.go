package database

import (
	"context"
	"errors"

	"jamroom/internal/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record no longer exists. Event handlers
// treat it as a defensive no-op, not a fault.
var ErrNotFound = errors.New("record not found")

type UserRepository interface {
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	IncrementTracksAdded(ctx context.Context, id uuid.UUID) error
	UpdateNotifyPrefs(ctx context.Context, id uuid.UUID, level models.NotifyLevel, pushToken string) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, req *models.CreateSessionRequest, hostID uuid.UUID, joinCode string) (*models.Session, error)
	GetSessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetSessionByJoinCode(ctx context.Context, code string) (*models.Session, error)
	ListPublicSessions(ctx context.Context, search string) ([]*models.Session, error)
	UpdateSessionMode(ctx context.Context, id uuid.UUID, mode models.RoomMode) error
	EndSession(ctx context.Context, id uuid.UUID) error
}

type QueueRepository interface {
	AddTrack(ctx context.Context, track *models.QueueTrack) (*models.QueueTrack, error)
	GetTrack(ctx context.Context, id uuid.UUID) (*models.QueueTrack, error)
	ListSessionTracks(ctx context.Context, sessionID uuid.UUID) ([]*models.QueueTrack, error)
	GetCurrentTrack(ctx context.Context, sessionID uuid.UUID) (*models.QueueTrack, error)
	SetCurrentTrack(ctx context.Context, sessionID, trackID uuid.UUID) error
	UpdateTrackVotes(ctx context.Context, trackID uuid.UUID, voters map[string]int, total int) error
	ApproveTrack(ctx context.Context, trackID uuid.UUID) error
	DeleteTrack(ctx context.Context, trackID uuid.UUID) error
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
	LoadRecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error)
}

type MembershipRepository interface {
	AddMembership(ctx context.Context, sessionID, userID uuid.UUID) error
	RemoveMembership(ctx context.Context, sessionID, userID uuid.UUID) error
	IsMember(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	GetSessionMembers(ctx context.Context, sessionID uuid.UUID) ([]*models.Member, error)
	GetMemberUsers(ctx context.Context, sessionID uuid.UUID) ([]*models.User, error)
}

type Database interface {
	UserRepository
	SessionRepository
	QueueRepository
	MessageRepository
	MembershipRepository
	Close() error
}
