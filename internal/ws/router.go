package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"jamroom/internal/database"
	"jamroom/internal/models"
	"jamroom/internal/notify"
	"jamroom/internal/playback"
	"jamroom/internal/queue"
	"jamroom/internal/ratelimit"
	"jamroom/pkg/logger"

	"github.com/google/uuid"
)

const (
	chatHistoryWindow = 50
	maxChatLength     = 1000
)

// Router executes one inbound event against session state and emits the
// resulting broadcasts. Dispatch is only ever called from the owning
// hub's goroutine, so all mutations for one session run sequentially.
type Router struct {
	db         database.Database
	clocks     *playback.Table
	cooldowns  *ratelimit.CooldownTable
	dispatcher *notify.Dispatcher
}

func NewRouter(db database.Database, clocks *playback.Table, cooldowns *ratelimit.CooldownTable, dispatcher *notify.Dispatcher) *Router {
	return &Router{
		db:         db,
		clocks:     clocks,
		cooldowns:  cooldowns,
		dispatcher: dispatcher,
	}
}

// Dispatch validates, throttles and runs one event. A handler failure is
// converted into a caller-scoped error notice; nothing here may tear down
// the connection or the process.
func (r *Router) Dispatch(h *Hub, c *Client, event models.ClientEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Panic handling %s for %s: %v", event.Type, c.user.Username, rec)
			c.SendError("internal", "something went wrong handling that event", 0)
		}
	}()

	if ok, wait := r.cooldowns.Allow(c.user.ID.String(), event.Type); !ok {
		c.SendError("rate_limited", fmt.Sprintf("slow down: %s allowed again shortly", event.Type), wait)
		return
	}

	// Shared state moves only for actors present in the room. Join
	// establishes presence; leave and quit are self-scoped no matter what.
	switch event.Type {
	case models.EventJoinSession, models.EventLeaveSession, models.EventQuitSession:
	default:
		if !h.clients[c] {
			c.SendError("not_joined", "join the session before acting on it", 0)
			return
		}
	}

	ctx := context.Background()

	switch event.Type {
	case models.EventJoinSession:
		r.handleJoin(ctx, h, c)
	case models.EventLeaveSession:
		r.handleLeave(h, c)
	case models.EventQuitSession:
		r.handleQuit(ctx, h, c)
	case models.EventAddToQueue:
		r.handleAddToQueue(ctx, h, c, event.Payload)
	case models.EventVoteTrack:
		r.handleVote(ctx, h, c, event.Payload)
	case models.EventSkipTrack:
		r.handleAdvance(ctx, h, c, true)
	case models.EventTrackEnded:
		r.handleAdvance(ctx, h, c, false)
	case models.EventApproveTrack:
		r.handleApprove(ctx, h, c, event.Payload)
	case models.EventRejectTrack:
		r.handleReject(ctx, h, c, event.Payload)
	case models.EventChangeMode:
		r.handleChangeMode(ctx, h, c, event.Payload)
	case models.EventReaction:
		r.handleReaction(h, c, event.Payload)
	case models.EventChatMessage:
		r.handleChat(ctx, h, c, event.Payload)
	case models.EventPlaybackState:
		r.handlePlayback(ctx, h, c, event.Payload, false)
	case models.EventPlaybackSeek:
		r.handlePlayback(ctx, h, c, event.Payload, true)
	default:
		c.SendError("unknown_event", fmt.Sprintf("unknown event type %q", event.Type), 0)
	}
}

// HandleSyncPing is a pure request/reply: the caller's clock value echoed
// next to the server's, for client-side latency and offset estimation.
// No session, no broadcast, no state.
func (r *Router) HandleSyncPing(c *Client, event models.ClientEvent) {
	var p models.SyncPingPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		c.SendError("malformed", "invalid sync:ping payload", 0)
		return
	}
	c.SendEvent(models.ServerEvent{
		Type: models.EventSyncPong,
		Payload: models.SyncPongPayload{
			ClientTime: p.ClientTime,
			ServerTime: time.Now().UnixMilli(),
		},
	})
}

// Disconnected releases per-identity cooldown bookkeeping when a
// connection goes away. Presence release happens via the hub.
func (r *Router) Disconnected(c *Client) {
	r.cooldowns.Forget(c.user.ID.String())
}

func (r *Router) handleJoin(ctx context.Context, h *Hub, c *Client) {
	session, err := r.db.GetSessionByID(ctx, h.sessionID)
	if err != nil || !session.IsLive {
		c.SendError("not_found", "session does not exist or has ended", 0)
		return
	}

	// Invite-only sessions admit the host and enrolled members; join-code
	// redemption enrolls.
	if !session.IsPublic && c.user.ID != session.HostID {
		member, err := r.db.IsMember(ctx, h.sessionID, c.user.ID)
		if err != nil || !member {
			c.SendError("forbidden", "this session is invite-only", 0)
			return
		}
	}

	// A connection views one room at a time.
	if old := c.joinedHub(); old != nil && old != h {
		old.unregister <- c
	}
	h.join(c)
	c.setJoined(h)

	if err := r.db.AddMembership(ctx, h.sessionID, c.user.ID); err != nil {
		logger.Error("Error upserting membership for %s: %v", c.user.Username, err)
	}

	h.broadcastExcept(c, models.ServerEvent{
		Type: models.EventParticipantIn,
		Payload: models.ParticipantPayload{
			SessionID: h.sessionID,
			UserID:    c.user.ID,
			Username:  c.user.Username,
		},
	})

	// Full snapshot goes to the joining actor alone.
	members, err := r.db.GetSessionMembers(ctx, h.sessionID)
	if err != nil {
		logger.Error("Error loading members for %s: %v", h.sessionID, err)
	}
	tracks, err := r.db.ListSessionTracks(ctx, h.sessionID)
	if err != nil {
		logger.Error("Error loading tracks for %s: %v", h.sessionID, err)
	}
	chat, err := r.db.LoadRecentMessages(ctx, h.sessionID, chatHistoryWindow)
	if err != nil {
		logger.Error("Error loading chat for %s: %v", h.sessionID, err)
	}

	var current *models.QueueTrack
	for _, t := range tracks {
		if t.IsCurrent {
			current = t
			break
		}
	}

	clock := r.clocks.Get(h.sessionID)
	c.SendEvent(models.ServerEvent{
		Type: models.EventRoomState,
		Payload: models.RoomStatePayload{
			Session:      session,
			Members:      members,
			CurrentTrack: current,
			Queue:        queue.Order(session.Mode, tracks),
			Pending:      queue.Pending(tracks),
			Chat:         chat,
			Playback:     &clock,
		},
	})
}

func (r *Router) handleLeave(h *Hub, c *Client) {
	h.drop(c, false)
	c.setJoined(nil)
}

func (r *Router) handleQuit(ctx context.Context, h *Hub, c *Client) {
	if err := r.db.RemoveMembership(ctx, h.sessionID, c.user.ID); err != nil {
		logger.Error("Error removing membership for %s: %v", c.user.Username, err)
	}
	h.drop(c, true)
	c.setJoined(nil)
}

func (r *Router) handleAddToQueue(ctx context.Context, h *Hub, c *Client, payload json.RawMessage) {
	var p models.AddToQueuePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.SendError("malformed", "invalid add-to-queue payload", 0)
		return
	}
	if strings.TrimSpace(p.Track.Title) == "" || strings.TrimSpace(p.Track.Provider) == "" {
		c.SendError("malformed", "track title and provider are required", 0)
		return
	}

	session, ok := r.session(ctx, h, c)
	if !ok {
		return
	}

	status := models.TrackApproved
	if session.Mode == models.ModeSpotlight && c.user.ID != session.HostID {
		status = models.TrackPending
	}

	track := &models.QueueTrack{
		ID:          uuid.New(),
		SessionID:   h.sessionID,
		Title:       p.Track.Title,
		Artist:      p.Track.Artist,
		Album:       p.Track.Album,
		ArtworkURL:  p.Track.ArtworkURL,
		PreviewURL:  p.Track.PreviewURL,
		DurationMS:  p.Track.DurationMS,
		Provider:    p.Track.Provider,
		ProviderID:  p.Track.ProviderID,
		AddedBy:     c.user.ID,
		AddedByName: c.user.Username,
		Status:      status,
	}

	inserted, err := r.db.AddTrack(ctx, track)
	if err != nil {
		logger.Error("Error adding track to %s: %v", h.sessionID, err)
		c.SendError("internal", "could not add track", 0)
		return
	}

	if status == models.TrackPending {
		h.broadcast(models.ServerEvent{
			Type:    models.EventTrackPending,
			Payload: models.TrackNoticePayload{SessionID: h.sessionID, Track: inserted},
		})
		r.notifyHost(ctx, session, notify.Notice{
			Title:    "Track awaiting approval",
			Body:     fmt.Sprintf("%s suggested %q for %s", c.user.Username, inserted.Title, session.Name),
			Priority: notify.PriorityNormal,
		})
		r.broadcastQueue(ctx, h, session)
		return
	}

	if err := r.db.IncrementTracksAdded(ctx, c.user.ID); err != nil {
		logger.Error("Error bumping tracks_added for %s: %v", c.user.Username, err)
	}

	// An idle session promotes the fresh add straight to current.
	if _, err := r.db.GetCurrentTrack(ctx, h.sessionID); errors.Is(err, database.ErrNotFound) {
		if err := r.db.SetCurrentTrack(ctx, h.sessionID, inserted.ID); err == nil {
			r.clocks.StartTrack(h.sessionID, inserted.ID)
			inserted.IsCurrent = true
			h.broadcast(models.ServerEvent{
				Type:    models.EventTrackChanged,
				Payload: models.TrackNoticePayload{SessionID: h.sessionID, Track: inserted},
			})
		}
	}

	r.broadcastQueue(ctx, h, session)
}

func (r *Router) handleVote(ctx context.Context, h *Hub, c *Client, payload json.RawMessage) {
	var p models.VoteTrackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.SendError("malformed", "invalid vote-track payload", 0)
		return
	}

	session, ok := r.session(ctx, h, c)
	if !ok {
		return
	}

	track, err := r.db.GetTrack(ctx, p.TrackID)
	if err != nil || track.SessionID != h.sessionID {
		// Voting on a track that no longer exists is a no-op.
		return
	}

	direction := 1
	if p.Direction < 0 {
		direction = -1
	}

	// Toggle semantics: same direction removes the vote, anything else
	// sets it. The total is always recomputed from the map.
	voter := c.user.ID.String()
	if track.Voters == nil {
		track.Voters = make(map[string]int)
	}
	if track.Voters[voter] == direction {
		delete(track.Voters, voter)
	} else {
		track.Voters[voter] = direction
	}

	if err := r.db.UpdateTrackVotes(ctx, track.ID, track.Voters, track.VoteTotal()); err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logger.Error("Error updating votes on %s: %v", track.ID, err)
			c.SendError("internal", "could not record vote", 0)
		}
		return
	}

	r.broadcastQueue(ctx, h, session)
}

// handleAdvance moves the session to its next track, either on a skip or
// on client-reported playback completion. The finished current track is
// deleted outright; it does not persist as played.
func (r *Router) handleAdvance(ctx context.Context, h *Hub, c *Client, isSkip bool) {
	session, ok := r.session(ctx, h, c)
	if !ok {
		return
	}

	// Spotlight skips are the host's call; track-ended is system-driven
	// and stays open to any member.
	if isSkip && session.Mode == models.ModeSpotlight && c.user.ID != session.HostID {
		c.SendError("forbidden", "only the host can skip in spotlight mode", 0)
		return
	}

	if current, err := r.db.GetCurrentTrack(ctx, h.sessionID); err == nil {
		if err := r.db.DeleteTrack(ctx, current.ID); err != nil {
			logger.Error("Error deleting finished track %s: %v", current.ID, err)
		}
	}

	tracks, err := r.db.ListSessionTracks(ctx, h.sessionID)
	if err != nil {
		logger.Error("Error loading tracks for %s: %v", h.sessionID, err)
		c.SendError("internal", "could not advance the queue", 0)
		return
	}

	ordered := queue.Order(session.Mode, tracks)
	if len(ordered) == 0 {
		// Queue ran dry: the room goes idle and the clock is discarded.
		r.clocks.Drop(h.sessionID)
		h.broadcast(models.ServerEvent{
			Type:    models.EventTrackChanged,
			Payload: models.TrackNoticePayload{SessionID: h.sessionID, Track: nil},
		})
		h.broadcast(models.ServerEvent{
			Type:    models.EventQueueUpdated,
			Payload: models.QueueUpdatedPayload{SessionID: h.sessionID, Queue: []*models.QueueTrack{}},
		})
		return
	}

	next := ordered[0]
	if err := r.db.SetCurrentTrack(ctx, h.sessionID, next.ID); err != nil {
		logger.Error("Error promoting track %s: %v", next.ID, err)
		c.SendError("internal", "could not advance the queue", 0)
		return
	}
	r.clocks.StartTrack(h.sessionID, next.ID)
	next.IsCurrent = true

	h.broadcast(models.ServerEvent{
		Type:    models.EventTrackChanged,
		Payload: models.TrackNoticePayload{SessionID: h.sessionID, Track: next},
	})
	h.broadcast(models.ServerEvent{
		Type:    models.EventQueueUpdated,
		Payload: models.QueueUpdatedPayload{SessionID: h.sessionID, Queue: ordered[1:]},
	})

	r.notifyMembers(ctx, session, notify.Notice{
		Title:    "Now playing",
		Body:     fmt.Sprintf("%s — %s in %s", next.Artist, next.Title, session.Name),
		Priority: notify.PriorityLow,
	})
}

func (r *Router) handleApprove(ctx context.Context, h *Hub, c *Client, payload json.RawMessage) {
	p, session, ok := r.moderation(ctx, h, c, payload)
	if !ok {
		return
	}

	if err := r.db.ApproveTrack(ctx, p.TrackID); err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logger.Error("Error approving track %s: %v", p.TrackID, err)
		}
		return
	}

	track, err := r.db.GetTrack(ctx, p.TrackID)
	if err != nil {
		return
	}

	h.broadcast(models.ServerEvent{
		Type:    models.EventTrackApproved,
		Payload: models.TrackNoticePayload{SessionID: h.sessionID, Track: track},
	})
	r.broadcastQueue(ctx, h, session)
}

func (r *Router) handleReject(ctx context.Context, h *Hub, c *Client, payload json.RawMessage) {
	p, _, ok := r.moderation(ctx, h, c, payload)
	if !ok {
		return
	}

	if err := r.db.DeleteTrack(ctx, p.TrackID); err != nil {
		logger.Error("Error rejecting track %s: %v", p.TrackID, err)
		return
	}

	h.broadcast(models.ServerEvent{
		Type:    models.EventTrackRejected,
		Payload: models.TrackRejectedPayload{SessionID: h.sessionID, TrackID: p.TrackID},
	})
}

// moderation decodes a track moderation payload and gates it to the host.
func (r *Router) moderation(ctx context.Context, h *Hub, c *Client, payload json.RawMessage) (models.TrackRef, *models.Session, bool) {
	var p models.TrackRef
	if err := json.Unmarshal(payload, &p); err != nil {
		c.SendError("malformed", "invalid moderation payload", 0)
		return p, nil, false
	}

	session, ok := r.session(ctx, h, c)
	if !ok {
		return p, nil, false
	}
	if c.user.ID != session.HostID {
		c.SendError("forbidden", "only the host can moderate tracks", 0)
		return p, nil, false
	}
	return p, session, true
}

func (r *Router) handleChangeMode(ctx context.Context, h *Hub, c *Client, payload json.RawMessage) {
	var p models.ChangeModePayload
	if err := json.Unmarshal(payload, &p); err != nil || !models.ValidMode(p.RoomMode) {
		c.SendError("malformed", "invalid change-mode payload", 0)
		return
	}

	session, ok := r.session(ctx, h, c)
	if !ok {
		return
	}
	if c.user.ID != session.HostID {
		c.SendError("forbidden", "only the host can change the room mode", 0)
		return
	}

	if err := r.db.UpdateSessionMode(ctx, h.sessionID, p.RoomMode); err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logger.Error("Error changing mode for %s: %v", h.sessionID, err)
			c.SendError("internal", "could not change room mode", 0)
		}
		return
	}

	// The new mode is broadcast verbatim; the next ordering computation
	// reflects it.
	h.broadcast(models.ServerEvent{
		Type:    models.EventModeChanged,
		Payload: models.ModeChangedPayload{SessionID: h.sessionID, RoomMode: p.RoomMode},
	})
}

func (r *Router) handleReaction(h *Hub, c *Client, payload json.RawMessage) {
	var p models.ReactionPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Kind == "" {
		c.SendError("malformed", "invalid reaction payload", 0)
		return
	}

	// Reactions are pure fan-out, nothing is persisted.
	h.broadcast(models.ServerEvent{
		Type: models.EventReactionOut,
		Payload: models.ReactionOutPayload{
			SessionID: h.sessionID,
			TrackID:   p.TrackID,
			Kind:      p.Kind,
			UserID:    c.user.ID,
			Username:  c.user.Username,
		},
	})
}

func (r *Router) handleChat(ctx context.Context, h *Hub, c *Client, payload json.RawMessage) {
	var p models.ChatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.SendError("malformed", "invalid chat-message payload", 0)
		return
	}
	text := strings.TrimSpace(p.Text)
	if text == "" || len(text) > maxChatLength {
		c.SendError("malformed", "chat message must be 1-1000 characters", 0)
		return
	}

	msg := &models.ChatMessage{
		ID:         uuid.New(),
		SessionID:  h.sessionID,
		SenderID:   c.user.ID,
		SenderName: c.user.Username,
		Body:       text,
		CreatedAt:  time.Now(),
	}
	if err := r.db.SaveMessage(ctx, msg); err != nil {
		logger.Error("Error saving chat message in %s: %v", h.sessionID, err)
		c.SendError("internal", "could not send message", 0)
		return
	}

	h.broadcast(models.ServerEvent{Type: models.EventChatMessage, Payload: msg})
}

// handlePlayback records a host playback control on the ephemeral clock
// and broadcasts to everyone except the sender, who already reflects the
// change locally.
func (r *Router) handlePlayback(ctx context.Context, h *Hub, c *Client, payload json.RawMessage, isSeek bool) {
	var p models.PlaybackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.SendError("malformed", "invalid playback payload", 0)
		return
	}

	session, ok := r.session(ctx, h, c)
	if !ok {
		return
	}
	if c.user.ID != session.HostID {
		c.SendError("forbidden", "only the host controls playback", 0)
		return
	}

	var snap models.PlaybackSnapshot
	noticeType := models.EventPlaybackUpdate
	if isSeek {
		if p.Position == nil {
			c.SendError("malformed", "playback:seek requires a position", 0)
			return
		}
		snap = r.clocks.Seek(h.sessionID, *p.Position)
		noticeType = models.EventPlaybackSeeked
	} else {
		if p.State == nil || !validPlaybackState(*p.State) {
			c.SendError("malformed", "playback:state accepts playing or paused", 0)
			return
		}
		if p.Position != nil {
			r.clocks.Seek(h.sessionID, *p.Position)
		}
		snap = r.clocks.SetState(h.sessionID, *p.State)
	}

	h.broadcastExcept(c, models.ServerEvent{
		Type:    noticeType,
		Payload: models.PlaybackNoticePayload{SessionID: h.sessionID, Playback: snap},
	})
}

// validPlaybackState admits the states a host can set directly. Stopped
// is reached only by the queue running dry, never by host input.
func validPlaybackState(s models.PlaybackState) bool {
	switch s {
	case models.PlaybackPlaying, models.PlaybackPaused:
		return true
	}
	return false
}

// session loads the hub's session record, answering the caller with a
// scoped notice when it is gone.
func (r *Router) session(ctx context.Context, h *Hub, c *Client) (*models.Session, bool) {
	session, err := r.db.GetSessionByID(ctx, h.sessionID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logger.Error("Error loading session %s: %v", h.sessionID, err)
		}
		c.SendError("not_found", "session does not exist or has ended", 0)
		return nil, false
	}
	return session, true
}

// broadcastQueue recomputes the mode ordering and fans it out.
func (r *Router) broadcastQueue(ctx context.Context, h *Hub, session *models.Session) {
	tracks, err := r.db.ListSessionTracks(ctx, h.sessionID)
	if err != nil {
		logger.Error("Error loading tracks for %s: %v", h.sessionID, err)
		return
	}
	h.broadcast(models.ServerEvent{
		Type: models.EventQueueUpdated,
		Payload: models.QueueUpdatedPayload{
			SessionID: h.sessionID,
			Queue:     queue.Order(session.Mode, tracks),
		},
	})
}

func (r *Router) notifyHost(ctx context.Context, session *models.Session, notice notify.Notice) {
	host, err := r.db.GetUserByID(ctx, session.HostID)
	if err != nil {
		return
	}
	r.dispatcher.Send([]*models.User{host}, notice)
}

func (r *Router) notifyMembers(ctx context.Context, session *models.Session, notice notify.Notice) {
	members, err := r.db.GetMemberUsers(ctx, session.ID)
	if err != nil {
		logger.Error("Error loading member users for %s: %v", session.ID, err)
		return
	}
	r.dispatcher.Send(members, notice)
}
