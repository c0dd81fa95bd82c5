package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"jamroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowsMatrix(t *testing.T) {
	cases := []struct {
		priority  Priority
		tolerance models.NotifyLevel
		want      bool
	}{
		{PriorityCritical, models.NotifyOff, false},
		{PriorityCritical, models.NotifyLow, true},
		{PriorityCritical, models.NotifyMedium, true},
		{PriorityCritical, models.NotifyHigh, true},
		{PriorityNormal, models.NotifyOff, false},
		{PriorityNormal, models.NotifyLow, false},
		{PriorityNormal, models.NotifyMedium, true},
		{PriorityNormal, models.NotifyHigh, true},
		{PriorityLow, models.NotifyOff, false},
		{PriorityLow, models.NotifyLow, false},
		{PriorityLow, models.NotifyMedium, false},
		{PriorityLow, models.NotifyHigh, true},
	}

	for _, tc := range cases {
		got := Allows(tc.priority, tc.tolerance)
		assert.Equal(t, tc.want, got, "%s at tolerance %s", tc.priority, tc.tolerance)
	}
}

func TestFilterSkipsBadAddresses(t *testing.T) {
	recipients := []*models.User{
		{NotifyLevel: models.NotifyHigh, PushToken: "device-token-0001"},
		{NotifyLevel: models.NotifyHigh, PushToken: ""},
		{NotifyLevel: models.NotifyHigh, PushToken: "has spaces in it!!"},
		{NotifyLevel: models.NotifyOff, PushToken: "device-token-0002"},
	}

	tokens := Filter(recipients, PriorityCritical)
	assert.Equal(t, []string{"device-token-0001"}, tokens)
}

func TestChunkCapsBatchSize(t *testing.T) {
	tokens := make([]string, 7)
	for i := range tokens {
		tokens[i] = "t"
	}

	chunks := Chunk(tokens, 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[1], 3)
	assert.Len(t, chunks[2], 1)

	assert.Empty(t, Chunk(nil, 3))
}

type recordingTransport struct {
	mu      sync.Mutex
	batches [][]string
	done    chan struct{}
}

func (r *recordingTransport) Deliver(_ context.Context, tokens []string, _ Notice) error {
	r.mu.Lock()
	r.batches = append(r.batches, tokens)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestSendChunksAndFilters(t *testing.T) {
	transport := &recordingTransport{done: make(chan struct{}, 4)}
	dispatcher := NewDispatcher(transport, 2)

	recipients := []*models.User{
		{NotifyLevel: models.NotifyHigh, PushToken: "push-tok-1"},
		{NotifyLevel: models.NotifyHigh, PushToken: "push-tok-2"},
		{NotifyLevel: models.NotifyHigh, PushToken: "push-tok-3"},
		{NotifyLevel: models.NotifyOff, PushToken: "push-tok-4"},
	}

	dispatcher.Send(recipients, Notice{Title: "t", Priority: PriorityCritical})

	for i := 0; i < 2; i++ {
		select {
		case <-transport.done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	total := 0
	for _, b := range transport.batches {
		assert.LessOrEqual(t, len(b), 2)
		total += len(b)
	}
	assert.Equal(t, 3, total)
}

func TestSendNoEligibleRecipients(t *testing.T) {
	transport := &recordingTransport{done: make(chan struct{}, 1)}
	dispatcher := NewDispatcher(transport, 10)

	dispatcher.Send([]*models.User{{NotifyLevel: models.NotifyOff, PushToken: "push-tok-5"}}, Notice{Priority: PriorityLow})

	select {
	case <-transport.done:
		t.Fatal("should not deliver to gated recipients")
	case <-time.After(50 * time.Millisecond):
	}
}
