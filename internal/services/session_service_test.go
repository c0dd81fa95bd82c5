package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"jamroom/internal/database"
	"jamroom/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionStore stubs the handful of Database methods the service
// touches; anything else panics via the embedded nil interface.
type sessionStore struct {
	database.Database
	byCode  map[string]*models.Session
	byID    map[uuid.UUID]*models.Session
	members map[uuid.UUID][]uuid.UUID
	ended   []uuid.UUID
	fail    int
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		byCode:  make(map[string]*models.Session),
		byID:    make(map[uuid.UUID]*models.Session),
		members: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *sessionStore) CreateSession(_ context.Context, req *models.CreateSessionRequest, hostID uuid.UUID, joinCode string) (*models.Session, error) {
	if s.fail > 0 {
		s.fail--
		return nil, fmt.Errorf("duplicate join code")
	}
	session := &models.Session{
		ID: uuid.New(), Name: req.Name, HostID: hostID,
		Mode: req.Mode, IsPublic: req.IsPublic, IsLive: true, JoinCode: joinCode,
	}
	s.byCode[joinCode] = session
	s.byID[session.ID] = session
	return session, nil
}

func (s *sessionStore) GetSessionByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	if session, ok := s.byID[id]; ok {
		return session, nil
	}
	return nil, database.ErrNotFound
}

func (s *sessionStore) GetSessionByJoinCode(_ context.Context, code string) (*models.Session, error) {
	if session, ok := s.byCode[code]; ok {
		return session, nil
	}
	return nil, database.ErrNotFound
}

func (s *sessionStore) AddMembership(_ context.Context, sessionID, userID uuid.UUID) error {
	s.members[sessionID] = append(s.members[sessionID], userID)
	return nil
}

func (s *sessionStore) EndSession(_ context.Context, id uuid.UUID) error {
	s.ended = append(s.ended, id)
	return nil
}

func TestCreateSessionGeneratesJoinCode(t *testing.T) {
	store := newSessionStore()
	svc, err := NewSessionService(store)
	require.NoError(t, err)

	session, err := svc.CreateSession(context.Background(), &models.CreateSessionRequest{Name: "room"}, uuid.New())
	require.NoError(t, err)

	assert.Len(t, session.JoinCode, joinCodeLength)
	for _, r := range session.JoinCode {
		assert.True(t, strings.ContainsRune(joinCodeAlphabet, r), "unexpected character %q", r)
	}
	// Empty mode defaults to open floor.
	assert.Equal(t, models.ModeOpenFloor, session.Mode)
}

func TestCreateSessionRejectsInvalidInput(t *testing.T) {
	store := newSessionStore()
	svc, err := NewSessionService(store)
	require.NoError(t, err)

	_, err = svc.CreateSession(context.Background(), &models.CreateSessionRequest{Name: ""}, uuid.New())
	assert.Error(t, err)

	_, err = svc.CreateSession(context.Background(), &models.CreateSessionRequest{Name: "room", Mode: "mosh_pit"}, uuid.New())
	assert.Error(t, err)
}

func TestCreateSessionRetriesCodeCollisions(t *testing.T) {
	store := newSessionStore()
	svc, err := NewSessionService(store)
	require.NoError(t, err)

	store.fail = 2
	_, err = svc.CreateSession(context.Background(), &models.CreateSessionRequest{Name: "room"}, uuid.New())
	assert.NoError(t, err)

	store.fail = 3
	_, err = svc.CreateSession(context.Background(), &models.CreateSessionRequest{Name: "room"}, uuid.New())
	assert.Error(t, err)
}

func TestResolveJoinCodeEnrollsCaller(t *testing.T) {
	store := newSessionStore()
	svc, err := NewSessionService(store)
	require.NoError(t, err)

	host := uuid.New()
	created, err := svc.CreateSession(context.Background(), &models.CreateSessionRequest{Name: "room", IsPublic: false}, host)
	require.NoError(t, err)

	actor := uuid.New()
	resolved, err := svc.ResolveJoinCode(context.Background(), created.JoinCode, actor)
	require.NoError(t, err)
	assert.Equal(t, created.ID, resolved.ID)

	// Redemption enrolls, so an invite-only session admits the caller.
	assert.Contains(t, store.members[created.ID], actor)
}

func TestResolveJoinCodeRejectsBadLength(t *testing.T) {
	store := newSessionStore()
	svc, err := NewSessionService(store)
	require.NoError(t, err)

	_, err = svc.ResolveJoinCode(context.Background(), "TOOLONGCODE", uuid.New())
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Empty(t, store.members)
}

func TestEndSessionIsHostGated(t *testing.T) {
	store := newSessionStore()
	svc, err := NewSessionService(store)
	require.NoError(t, err)

	host := uuid.New()
	session, err := svc.CreateSession(context.Background(), &models.CreateSessionRequest{Name: "room"}, host)
	require.NoError(t, err)

	err = svc.EndSession(context.Background(), session.ID, uuid.New())
	assert.Error(t, err)
	assert.Empty(t, store.ended)

	require.NoError(t, svc.EndSession(context.Background(), session.ID, host))
	assert.Equal(t, []uuid.UUID{session.ID}, store.ended)
}
