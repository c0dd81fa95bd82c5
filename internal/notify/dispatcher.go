package notify

import (
	"context"
	"time"

	"jamroom/internal/models"
	"jamroom/pkg/logger"
)

// Notice is one outbound push payload.
type Notice struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Priority Priority `json:"priority"`
}

// Transport delivers a batch of notices to the external push service.
// Delivery is best-effort; errors are logged, never propagated to the
// event that triggered them.
type Transport interface {
	Deliver(ctx context.Context, tokens []string, notice Notice) error
}

// DefaultMaxBatch caps notices handed to the transport per request.
const DefaultMaxBatch = 100

// Dispatcher filters recipients through the noise gate and hands chunks
// to the transport in the background. Send never blocks the caller on
// network I/O.
type Dispatcher struct {
	transport Transport
	maxBatch  int
	timeout   time.Duration
}

func NewDispatcher(transport Transport, maxBatch int) *Dispatcher {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Dispatcher{
		transport: transport,
		maxBatch:  maxBatch,
		timeout:   10 * time.Second,
	}
}

// Send enqueues delivery of notice to every recipient whose tolerance
// admits its priority. Recipients with no delivery address, or one that
// is not well-formed, are skipped without error.
func (d *Dispatcher) Send(recipients []*models.User, notice Notice) {
	tokens := Filter(recipients, notice.Priority)
	if len(tokens) == 0 {
		return
	}

	for _, chunk := range Chunk(tokens, d.maxBatch) {
		go func(batch []string) {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := d.transport.Deliver(ctx, batch, notice); err != nil {
				logger.Error("Notification delivery failed for %d recipients: %v", len(batch), err)
			}
		}(chunk)
	}
}

// Filter returns the delivery tokens of recipients the gate lets through.
func Filter(recipients []*models.User, priority Priority) []string {
	var tokens []string
	for _, r := range recipients {
		if !Allows(priority, r.NotifyLevel) {
			continue
		}
		if !ValidToken(r.PushToken) {
			continue
		}
		tokens = append(tokens, r.PushToken)
	}
	return tokens
}

// Chunk splits tokens into batches of at most size.
func Chunk(tokens []string, size int) [][]string {
	var chunks [][]string
	for len(tokens) > size {
		chunks = append(chunks, tokens[:size])
		tokens = tokens[size:]
	}
	if len(tokens) > 0 {
		chunks = append(chunks, tokens)
	}
	return chunks
}
