// Package bus moves analysis pipeline events between the API, the
// async worker and any external consumers. The Community tier runs
// everything in one process, so the channel bus here is the default;
// the NATS bus carries the same topics across processes for Pro.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ChannelBus is the in-process event bus. Analysis requests published
// by the API land directly on the worker's subscription channel;
// completed and alert events fan out to every subscriber on the topic.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	subs       map[string][]*channelSubscription
	closed     bool

	// Full subscriber buffers drop the event rather than block the
	// publisher. For analysis requests a drop loses a whole batch, so
	// drops are counted and logged.
	dropped atomic.Int64
}

type channelSubscription struct {
	id       string
	tenantID string
	topic    string
	handler  domain.MessageHandler
	events   chan *domain.Message
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewChannelBus creates an in-process bus. bufferSize bounds each
// subscriber's pending events.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		subs:       make(map[string][]*channelSubscription),
	}
}

// Publish delivers an event to every subscriber of the tenant's topic.
// Delivery is non-blocking; subscribers with full buffers miss it.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	targets := append([]*channelSubscription(nil), b.subs[subKey(tenantID, topic)]...)
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range targets {
		select {
		case sub.events <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("event dropped, subscriber buffer full",
				"tenant_id", tenantID,
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a tenant's topic. The worker
// subscribes to the analysis request topic this way; alert consumers
// subscribe to the alert topic.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		handler:  handler,
		events:   make(chan *domain.Message, b.bufferSize),
		ctx:      subCtx,
		cancel:   cancel,
	}

	go sub.deliver()

	key := subKey(tenantID, topic)
	b.subs[key] = append(b.subs[key], sub)

	return sub, nil
}

// deliver pumps events to the handler until the subscription ends.
// Handler errors are not retried; the pump keeps going so one bad
// batch cannot stall the topic.
func (s *channelSubscription) deliver() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.events:
			if msg != nil {
				_ = s.handler(s.ctx, msg)
			}
		}
	}
}

// Request publishes to a topic and waits for one reply on a private
// reply topic.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping reports whether the bus accepts events.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Dropped returns how many events were lost to full subscriber buffers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close cancels every subscription and rejects further operations.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
			close(sub.events)
		}
	}
	b.subs = make(map[string][]*channelSubscription)
	return nil
}

// subKey scopes a topic to one tenant so batches never cross tenants.
func subKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Unsubscribe stops delivery for this subscription.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
