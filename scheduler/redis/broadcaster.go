package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/louiesdad/datacloak-workbench-sub000/event"
	"github.com/louiesdad/datacloak-workbench-sub000/id"
)

// Wire message kinds carried on the events channel.
const (
	msgEvent  = "event"
	msgCancel = "cancel"
)

// message is the pub/sub envelope. Lifecycle events fan out to waiters
// in every process; cancel messages tell whichever process is running
// the job to cancel its handler context.
type message struct {
	Kind  string       `json:"kind"`
	Event *event.Event `json:"event,omitempty"`
	JobID string       `json:"job_id,omitempty"`
}

// broadcaster bridges Redis pub/sub to per-job subscriber channels. All
// processes publish to and read from one channel; routing by job ID
// happens locally in the embedded in-process broadcaster.
type broadcaster struct {
	client   goredis.UniversalClient
	channel  string
	logger   *slog.Logger
	local    *event.Memory
	onCancel func(jobID string)

	pubsub *goredis.PubSub
	wg     sync.WaitGroup
}

// newBroadcaster subscribes to the events channel and starts the reader
// loop. onCancel runs for every cancel message, including our own.
func newBroadcaster(client goredis.UniversalClient, channel string, logger *slog.Logger, onCancel func(jobID string)) *broadcaster {
	b := &broadcaster{
		client:   client,
		channel:  channel,
		logger:   logger,
		local:    event.NewMemory(),
		onCancel: onCancel,
		pubsub:   client.Subscribe(context.Background(), channel),
	}

	b.wg.Add(1)
	go b.read()
	return b
}

// Publish sends a lifecycle event to every process on the channel,
// ourselves included; delivery to local waiters happens when the
// message comes back through the reader.
func (b *broadcaster) Publish(ctx context.Context, evt event.Event) error {
	return b.publish(ctx, message{Kind: msgEvent, Event: &evt})
}

// PublishCancel asks whichever process runs the job to cancel it.
func (b *broadcaster) PublishCancel(ctx context.Context, jobID string) error {
	return b.publish(ctx, message{Kind: msgCancel, JobID: jobID})
}

func (b *broadcaster) publish(ctx context.Context, msg message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

// Subscribe registers a local waiter for one job's events. Events are
// best-effort; callers pair this with a polling fallback.
func (b *broadcaster) Subscribe(jobID id.ID) (<-chan event.Event, func()) {
	return b.local.Subscribe(jobID)
}

// Close tears down the pub/sub connection and drops local subscribers.
func (b *broadcaster) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	return errors.Join(err, b.local.Close())
}

// read pumps the pub/sub channel until Close.
func (b *broadcaster) read() {
	defer b.wg.Done()

	for raw := range b.pubsub.Channel() {
		var msg message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			b.logger.Warn("discarding malformed queue event",
				slog.String("channel", b.channel),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch msg.Kind {
		case msgEvent:
			if msg.Event != nil {
				_ = b.local.Publish(context.Background(), *msg.Event)
			}
		case msgCancel:
			if b.onCancel != nil && msg.JobID != "" {
				b.onCancel(msg.JobID)
			}
		}
	}
}
