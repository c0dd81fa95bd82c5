package services

import (
	"context"
	"fmt"

	"jamroom/internal/database"
	"jamroom/internal/models"

	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"
)

// Join codes are short human-enterable handles, matched
// case-insensitively. The alphabet omits easily confused characters.
const (
	joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	joinCodeLength   = 6
)

type SessionService struct {
	db       database.Database
	joinCode func() string
}

func NewSessionService(db database.Database) (*SessionService, error) {
	gen, err := nanoid.CustomASCII(joinCodeAlphabet, joinCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to build join code generator: %w", err)
	}
	return &SessionService{db: db, joinCode: gen}, nil
}

func (s *SessionService) CreateSession(ctx context.Context, req *models.CreateSessionRequest, hostID uuid.UUID) (*models.Session, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if req.Mode == "" {
		req.Mode = models.ModeOpenFloor
	}
	if !models.ValidMode(req.Mode) {
		return nil, fmt.Errorf("invalid room mode %q", req.Mode)
	}

	// The join code column is unique; retry on the rare collision.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		session, err := s.db.CreateSession(ctx, req, hostID, s.joinCode())
		if err == nil {
			return session, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to create session: %w", lastErr)
}

func (s *SessionService) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.db.GetSessionByID(ctx, id)
}

// ResolveJoinCode looks up a live session by its code and enrolls the
// caller as a member, so invite-only sessions admit them on the
// subsequent join.
func (s *SessionService) ResolveJoinCode(ctx context.Context, code string, actorID uuid.UUID) (*models.Session, error) {
	if len(code) != joinCodeLength {
		return nil, database.ErrNotFound
	}
	session, err := s.db.GetSessionByJoinCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.db.AddMembership(ctx, session.ID, actorID); err != nil {
		return nil, fmt.Errorf("failed to enroll member: %w", err)
	}
	return session, nil
}

func (s *SessionService) ListPublicSessions(ctx context.Context, search string) ([]*models.Session, error) {
	return s.db.ListPublicSessions(ctx, search)
}

// EndSession marks a session not-live. Host only.
func (s *SessionService) EndSession(ctx context.Context, id, actorID uuid.UUID) error {
	session, err := s.db.GetSessionByID(ctx, id)
	if err != nil {
		return fmt.Errorf("session not found")
	}
	if session.HostID != actorID {
		return fmt.Errorf("forbidden - not the session host")
	}
	return s.db.EndSession(ctx, id)
}
