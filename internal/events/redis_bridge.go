package events

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// redisPubSub is the slice of the Redis adapter the bridge consumes.
type redisPubSub interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error)
}

// RedisBridge links the in-process event bus to a Redis Pub/Sub channel so
// that every process sees every assessment: the API publishes its sync
// assessments, workers publish async ones, and the feed gateway consumes the
// merged channel.
//
// Loop protection: only locally-originated events (Source matches our own)
// are forwarded out, and only foreign events are injected back in.
type RedisBridge struct {
	bus     *EventBus
	redis   redisPubSub
	channel string
	source  string
	logger  *log.Logger

	events chan *CloudEvent
	unsub  func()
}

// NewRedisBridge wires bus to the given Redis channel. source must be this
// process's CloudEvent source (e.g. "vigil/api", "vigil/worker").
func NewRedisBridge(bus *EventBus, rdb redisPubSub, channel, source string) *RedisBridge {
	return &RedisBridge{
		bus:     bus,
		redis:   rdb,
		channel: channel,
		source:  source,
		logger:  log.New(log.Writer(), "[FEED] ", log.LstdFlags),
	}
}

// Start begins forwarding in both directions. Outbound forwarding stops when
// ctx is cancelled; inbound stops on Close.
func (rb *RedisBridge) Start(ctx context.Context) error {
	rb.events = rb.bus.Subscribe()
	go rb.forward(ctx)

	unsub, err := rb.redis.Subscribe(ctx, rb.channel, rb.inject)
	if err != nil {
		return err
	}
	rb.unsub = unsub

	rb.logger.Printf("🔗 Bridged event bus to Redis channel %s as %s", rb.channel, rb.source)
	return nil
}

// forward pushes locally-originated events to the Redis channel.
func (rb *RedisBridge) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rb.events:
			if !ok {
				return
			}
			if ev.Source != rb.source {
				continue
			}
			payload, err := ev.JSON()
			if err != nil {
				rb.logger.Printf("❌ Failed to marshal event %s: %v", ev.ID, err)
				continue
			}

			pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := rb.redis.Publish(pubCtx, rb.channel, payload); err != nil {
				rb.logger.Printf("❌ Failed to publish event %s to %s: %v", ev.ID, rb.channel, err)
			}
			cancel()
		}
	}
}

// inject re-publishes foreign events on the local bus.
func (rb *RedisBridge) inject(payload []byte) {
	var ev CloudEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		rb.logger.Printf("⚠️  Dropping malformed event from %s: %v", rb.channel, err)
		return
	}
	if ev.Source == rb.source {
		// Our own echo coming back around
		return
	}
	rb.bus.Publish(&ev)
}

// Close detaches the bridge from both the bus and Redis.
func (rb *RedisBridge) Close() {
	if rb.unsub != nil {
		rb.unsub()
	}
	if rb.events != nil {
		rb.bus.Unsubscribe(rb.events)
	}
}
