package playback

import (
	"sync"
	"time"

	"jamroom/internal/models"

	"github.com/google/uuid"
)

// Table holds the ephemeral playback clock for each live session. Entries
// are created lazily on first playback control or track activation and
// deleted when a session's queue runs dry. Nothing here survives a
// restart; position is advisory, not authoritative.
type Table struct {
	mu     sync.Mutex
	clocks map[uuid.UUID]*models.PlaybackSnapshot
}

func NewTable() *Table {
	return &Table{clocks: make(map[uuid.UUID]*models.PlaybackSnapshot)}
}

// Get returns the session's clock, or a stopped zero-position snapshot if
// none has been recorded.
func (t *Table) Get(sessionID uuid.UUID) models.PlaybackSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clocks[sessionID]; ok {
		return *c
	}
	return models.PlaybackSnapshot{State: models.PlaybackStopped, At: time.Now()}
}

// SetState records a state transition, stamping the current instant. The
// server never ticks a timer; clients extrapolate from the stamp.
func (t *Table) SetState(sessionID uuid.UUID, state models.PlaybackState) models.PlaybackSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.ensure(sessionID)
	c.State = state
	c.At = time.Now()
	return *c
}

// Seek records a new position without changing state.
func (t *Table) Seek(sessionID uuid.UUID, position float64) models.PlaybackSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.ensure(sessionID)
	c.Position = position
	c.At = time.Now()
	return *c
}

// StartTrack resets the clock to playing at position zero for a newly
// promoted current track.
func (t *Table) StartTrack(sessionID, trackID uuid.UUID) models.PlaybackSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := trackID
	c := t.ensure(sessionID)
	c.State = models.PlaybackPlaying
	c.Position = 0
	c.At = time.Now()
	c.TrackID = &id
	return *c
}

// Drop discards a session's clock. Called when the queue empties or the
// session ends.
func (t *Table) Drop(sessionID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clocks, sessionID)
}

func (t *Table) ensure(sessionID uuid.UUID) *models.PlaybackSnapshot {
	c, ok := t.clocks[sessionID]
	if !ok {
		c = &models.PlaybackSnapshot{State: models.PlaybackStopped, At: time.Now()}
		t.clocks[sessionID] = c
	}
	return c
}
