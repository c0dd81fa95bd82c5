package playback

import (
	"testing"

	"jamroom/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultsToStopped(t *testing.T) {
	table := NewTable()

	snap := table.Get(uuid.New())
	assert.Equal(t, models.PlaybackStopped, snap.State)
	assert.Zero(t, snap.Position)
	assert.Nil(t, snap.TrackID)
}

func TestStartTrackResetsClock(t *testing.T) {
	table := NewTable()
	sessionID := uuid.New()
	trackID := uuid.New()

	table.Seek(sessionID, 42.5)
	snap := table.StartTrack(sessionID, trackID)

	assert.Equal(t, models.PlaybackPlaying, snap.State)
	assert.Zero(t, snap.Position)
	require.NotNil(t, snap.TrackID)
	assert.Equal(t, trackID, *snap.TrackID)
	assert.False(t, snap.At.IsZero())
}

func TestStateTransitionsKeepPosition(t *testing.T) {
	table := NewTable()
	sessionID := uuid.New()

	table.StartTrack(sessionID, uuid.New())
	table.Seek(sessionID, 90)
	snap := table.SetState(sessionID, models.PlaybackPaused)

	assert.Equal(t, models.PlaybackPaused, snap.State)
	assert.Equal(t, 90.0, snap.Position)

	snap = table.SetState(sessionID, models.PlaybackPlaying)
	assert.Equal(t, models.PlaybackPlaying, snap.State)
	assert.Equal(t, 90.0, snap.Position)
}

func TestDropDiscardsClock(t *testing.T) {
	table := NewTable()
	sessionID := uuid.New()

	table.StartTrack(sessionID, uuid.New())
	table.Drop(sessionID)

	snap := table.Get(sessionID)
	assert.Equal(t, models.PlaybackStopped, snap.State)
	assert.Nil(t, snap.TrackID)
}
