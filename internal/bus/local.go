package bus

import (
	"context"
	"sync"
)

// LocalBus is an in-process Bus with the same contract as RedisBus. It backs
// single-instance deployments (no redis configured) and tests.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewLocalBus constructs an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

// Publish delivers the envelope synchronously to every subscribed handler.
func (b *LocalBus) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	handlers := b.handlers
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return nil
	}
	for _, h := range handlers {
		h(env)
	}
	return nil
}

// Subscribe registers the handler; it fires on every subsequent Publish.
func (b *LocalBus) Subscribe(_ context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	return nil
}

// Close stops delivery to all handlers.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}

var _ Bus = (*LocalBus)(nil)
