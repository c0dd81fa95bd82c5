package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"jamroom/internal/database"
	"jamroom/internal/models"
	"jamroom/internal/notify"
	"jamroom/internal/playback"
	"jamroom/internal/ratelimit"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeDB is an in-memory stand-in for the Postgres store, honoring the
// same invariants: monotone positions, at most one current track.
type fakeDB struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*models.User
	sessions map[uuid.UUID]*models.Session
	tracks   map[uuid.UUID]*models.QueueTrack
	messages []*models.ChatMessage
	members  map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:    make(map[uuid.UUID]*models.User),
		sessions: make(map[uuid.UUID]*models.Session),
		tracks:   make(map[uuid.UUID]*models.QueueTrack),
		members:  make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (f *fakeDB) Close() error { return nil }

func (f *fakeDB) CreateUser(_ context.Context, req *models.RegisterRequest) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := &models.User{
		ID:          uuid.New(),
		Username:    req.Username,
		Email:       req.Email,
		NotifyLevel: models.NotifyMedium,
		CreatedAt:   time.Now(),
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeDB) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeDB) IncrementTracksAdded(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.TracksAdded++
	}
	return nil
}

func (f *fakeDB) UpdateNotifyPrefs(_ context.Context, id uuid.UUID, level models.NotifyLevel, pushToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.NotifyLevel = level
		u.PushToken = pushToken
	}
	return nil
}

func (f *fakeDB) CreateSession(_ context.Context, req *models.CreateSessionRequest, hostID uuid.UUID, joinCode string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := &models.Session{
		ID:        uuid.New(),
		Name:      req.Name,
		HostID:    hostID,
		Mode:      req.Mode,
		IsPublic:  req.IsPublic,
		IsLive:    true,
		JoinCode:  joinCode,
		CreatedAt: time.Now(),
	}
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeDB) GetSessionByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeDB) GetSessionByJoinCode(_ context.Context, code string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.JoinCode == code && s.IsLive {
			copied := *s
			return &copied, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeDB) ListPublicSessions(_ context.Context, _ string) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Session
	for _, s := range f.sessions {
		if s.IsPublic && s.IsLive {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateSessionMode(_ context.Context, id uuid.UUID, mode models.RoomMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return database.ErrNotFound
	}
	s.Mode = mode
	return nil
}

func (f *fakeDB) EndSession(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.IsLive = false
	}
	return nil
}

func (f *fakeDB) AddTrack(_ context.Context, track *models.QueueTrack) (*models.QueueTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	position := 0
	for _, t := range f.tracks {
		if t.SessionID == track.SessionID && t.Position >= position {
			position = t.Position + 1
		}
	}
	copied := *track
	copied.Position = position
	copied.Voters = map[string]int{}
	copied.CreatedAt = time.Now()
	f.tracks[copied.ID] = &copied
	result := copied
	return &result, nil
}

func (f *fakeDB) GetTrack(_ context.Context, id uuid.UUID) (*models.QueueTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tracks[id]; ok {
		copied := *t
		copied.Voters = copyVoters(t.Voters)
		return &copied, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeDB) ListSessionTracks(_ context.Context, sessionID uuid.UUID) ([]*models.QueueTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.QueueTrack
	for _, t := range f.tracks {
		if t.SessionID == sessionID {
			copied := *t
			copied.Voters = copyVoters(t.Voters)
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeDB) GetCurrentTrack(_ context.Context, sessionID uuid.UUID) (*models.QueueTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tracks {
		if t.SessionID == sessionID && t.IsCurrent {
			copied := *t
			copied.Voters = copyVoters(t.Voters)
			return &copied, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeDB) SetCurrentTrack(_ context.Context, sessionID, trackID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.tracks[trackID]
	if !ok || target.SessionID != sessionID {
		return database.ErrNotFound
	}
	for _, t := range f.tracks {
		if t.SessionID == sessionID {
			t.IsCurrent = false
		}
	}
	target.IsCurrent = true
	return nil
}

func (f *fakeDB) UpdateTrackVotes(_ context.Context, trackID uuid.UUID, voters map[string]int, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tracks[trackID]
	if !ok {
		return database.ErrNotFound
	}
	t.Voters = copyVoters(voters)
	return nil
}

func (f *fakeDB) ApproveTrack(_ context.Context, trackID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tracks[trackID]
	if !ok {
		return database.ErrNotFound
	}
	t.Status = models.TrackApproved
	return nil
}

func (f *fakeDB) DeleteTrack(_ context.Context, trackID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tracks, trackID)
	return nil
}

func (f *fakeDB) SaveMessage(_ context.Context, msg *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *msg
	f.messages = append(f.messages, &copied)
	return nil
}

func (f *fakeDB) LoadRecentMessages(_ context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ChatMessage
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeDB) AddMembership(_ context.Context, sessionID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[sessionID] == nil {
		f.members[sessionID] = make(map[uuid.UUID]bool)
	}
	f.members[sessionID][userID] = true
	return nil
}

func (f *fakeDB) RemoveMembership(_ context.Context, sessionID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[sessionID], userID)
	return nil
}

func (f *fakeDB) IsMember(_ context.Context, sessionID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[sessionID][userID], nil
}

func (f *fakeDB) GetSessionMembers(_ context.Context, sessionID uuid.UUID) ([]*models.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Member
	for userID := range f.members[sessionID] {
		if u, ok := f.users[userID]; ok {
			out = append(out, &models.Member{ID: u.ID, Username: u.Username})
		}
	}
	return out, nil
}

func (f *fakeDB) GetMemberUsers(_ context.Context, sessionID uuid.UUID) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.User
	for userID := range f.members[sessionID] {
		if u, ok := f.users[userID]; ok {
			copied := *u
			out = append(out, &copied)
		}
	}
	return out, nil
}

func copyVoters(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Test fixture wiring one session, its host and one guest.

type fixture struct {
	db      *fakeDB
	router  *Router
	clocks  *playback.Table
	hub     *Hub
	session *models.Session
	host    *models.User
	guest   *models.User
}

func newFixture(t *testing.T, mode models.RoomMode) *fixture {
	t.Helper()

	db := newFakeDB()
	ctx := context.Background()

	host, err := db.CreateUser(ctx, &models.RegisterRequest{Username: "host", Email: "host@example.com"})
	require.NoError(t, err)
	guest, err := db.CreateUser(ctx, &models.RegisterRequest{Username: "guest", Email: "guest@example.com"})
	require.NoError(t, err)

	session, err := db.CreateSession(ctx, &models.CreateSessionRequest{Name: "test room", Mode: mode, IsPublic: true}, host.ID, "ABC234")
	require.NoError(t, err)
	require.NoError(t, db.AddMembership(ctx, session.ID, host.ID))
	require.NoError(t, db.AddMembership(ctx, session.ID, guest.ID))

	clocks := playback.NewTable()
	// Cooldowns stay empty so tests can fire events back to back.
	router := NewRouter(db, clocks, ratelimit.NewCooldownTable(map[models.EventType]time.Duration{}), notify.NewDispatcher(notify.NopTransport{}, 10))
	hub := newHub(session.ID, router)

	return &fixture{
		db:      db,
		router:  router,
		clocks:  clocks,
		hub:     hub,
		session: session,
		host:    host,
		guest:   guest,
	}
}

// connect registers a client with presence in the fixture hub, without
// running the pumps.
func (fx *fixture) connect(user *models.User) *Client {
	c := NewClient(nil, user, nil, fx.router)
	fx.hub.join(c)
	c.setJoined(fx.hub)
	return c
}

func (fx *fixture) dispatch(c *Client, eventType models.EventType, payload interface{}) {
	data, _ := json.Marshal(payload)
	fx.router.Dispatch(fx.hub, c, models.ClientEvent{Type: eventType, Payload: data})
}

func (fx *fixture) addTrack(t *testing.T, adder *models.User, title string, status models.TrackStatus) *models.QueueTrack {
	t.Helper()
	track, err := fx.db.AddTrack(context.Background(), &models.QueueTrack{
		ID:          uuid.New(),
		SessionID:   fx.session.ID,
		Title:       title,
		Artist:      "artist",
		Provider:    "spotify",
		ProviderID:  "sp-" + title,
		AddedBy:     adder.ID,
		AddedByName: adder.Username,
		Status:      status,
	})
	require.NoError(t, err)
	return track
}

type receivedEvent struct {
	Type    models.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// drain empties a client's send buffer into decoded envelopes.
func drain(t *testing.T, c *Client) []receivedEvent {
	t.Helper()
	var events []receivedEvent
	for {
		select {
		case data := <-c.send:
			var ev receivedEvent
			require.NoError(t, json.Unmarshal(data, &ev))
			events = append(events, ev)
		default:
			return events
		}
	}
}

func findEvent(events []receivedEvent, eventType models.EventType) (receivedEvent, bool) {
	for _, ev := range events {
		if ev.Type == eventType {
			return ev, true
		}
	}
	return receivedEvent{}, false
}

func decodePayload(t *testing.T, ev receivedEvent, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ev.Payload, into))
}
