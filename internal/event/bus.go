// Package event implements the in-process EventBus that lets pathlens's
// diagnostics engine announce things like network_changed without its
// callers (HTTP handlers, MCP tools, the optional MQTT bridge) depending on
// each other directly.
package event

import (
	"context"
	"sync"

	"github.com/draymonix/pathlens/pkg/plugin"
	"go.uber.org/zap"
)

type subscriber struct {
	id      uint64
	topic   string // empty means "all topics"
	handler plugin.EventHandler
}

// Bus is a synchronous, in-process implementation of plugin.EventBus.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	nextID uint64
	logger *zap.Logger
}

var _ plugin.EventBus = (*Bus)(nil)

// NewBus returns a ready-to-use Bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Publish runs every matching handler synchronously, recovering individual
// handler panics so one bad subscriber can't take down the publisher or its
// siblings.
func (b *Bus) Publish(ctx context.Context, e plugin.Event) error {
	for _, sub := range b.matching(e.Topic) {
		b.invoke(ctx, sub, e)
	}
	return nil
}

// PublishAsync runs every matching handler in its own goroutine and returns
// immediately.
func (b *Bus) PublishAsync(ctx context.Context, e plugin.Event) {
	for _, sub := range b.matching(e.Topic) {
		sub := sub
		go b.invoke(ctx, sub, e)
	}
}

// Subscribe registers handler for topic. The returned func removes it.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) func() {
	return b.add(topic, handler)
}

// SubscribeAll registers handler for every topic. The returned func removes
// it.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscriber{id: b.nextID, topic: topic, handler: handler}
	b.subs = append(b.subs, sub)
	return func() { b.remove(sub.id) }
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) matching(topic string) []*subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.topic == "" || sub.topic == topic {
			out = append(out, sub)
		}
	}
	return out
}

func (b *Bus) invoke(ctx context.Context, sub *subscriber, e plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", e.Topic),
				zap.Any("recovered", r),
			)
		}
	}()
	sub.handler(ctx, e)
}
