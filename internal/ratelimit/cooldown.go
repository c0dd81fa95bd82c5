package ratelimit

import (
	"context"
	"sync"
	"time"

	"jamroom/internal/models"
	"jamroom/pkg/logger"
)

// DefaultCooldowns is the per-event-type cooldown table for real-time
// events. Queue-mutating and moderation actions cool down harder than
// low-stakes traffic; event types absent from the table are always
// allowed.
func DefaultCooldowns() map[models.EventType]time.Duration {
	return map[models.EventType]time.Duration{
		models.EventAddToQueue:   3 * time.Second,
		models.EventVoteTrack:    500 * time.Millisecond,
		models.EventSkipTrack:    2 * time.Second,
		models.EventApproveTrack: time.Second,
		models.EventRejectTrack:  time.Second,
		models.EventChangeMode:   5 * time.Second,
		models.EventChatMessage:  500 * time.Millisecond,
		models.EventReaction:     200 * time.Millisecond,
	}
}

// CooldownTable enforces a per-identity, per-event-type "not before"
// instant. It guards shared room state against a single actor flooding
// mutations, independent of their network origin.
type CooldownTable struct {
	mu        sync.Mutex
	cooldowns map[models.EventType]time.Duration
	lastAt    map[string]map[models.EventType]time.Time
}

func NewCooldownTable(cooldowns map[models.EventType]time.Duration) *CooldownTable {
	return &CooldownTable{
		cooldowns: cooldowns,
		lastAt:    make(map[string]map[models.EventType]time.Time),
	}
}

// Allow records and permits the action unless the identity acted on this
// event type within its cooldown. The remaining wait is returned on
// rejection.
func (c *CooldownTable) Allow(identity string, event models.EventType) (bool, time.Duration) {
	cooldown, limited := c.cooldowns[event]
	if !limited {
		return true, 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	byEvent, ok := c.lastAt[identity]
	if !ok {
		byEvent = make(map[models.EventType]time.Time)
		c.lastAt[identity] = byEvent
	}
	if last, ok := byEvent[event]; ok {
		if wait := cooldown - now.Sub(last); wait > 0 {
			return false, wait
		}
	}
	byEvent[event] = now
	return true, 0
}

// Forget releases an identity's bookkeeping, called on disconnect.
func (c *CooldownTable) Forget(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastAt, identity)
}

// Sweep drops identities whose most recent action is older than olderThan.
func (c *CooldownTable) Sweep(olderThan time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for identity, byEvent := range c.lastAt {
		stale := true
		for _, at := range byEvent {
			if at.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(c.lastAt, identity)
			removed++
		}
	}
	return removed
}

// StartSweeping sweeps on a fixed interval until ctx is cancelled.
func (c *CooldownTable) StartSweeping(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(10 * time.Minute); n > 0 {
					logger.Debug("Swept %d stale cooldown entries", n)
				}
			}
		}
	}()
}
