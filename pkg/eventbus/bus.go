package eventbus

import (
	"context"
	"sync"

	"github.com/jwalitptl/ranking-api/pkg/logger"
)

// Handler processes one in-process notification. Handlers run isolated from
// each other and from the trigger: a handler error is logged, never
// propagated, and never rolls anything back.
type Handler func(ctx context.Context, payload interface{})

// Bus is a minimal post-commit dispatch point. Publishers call Publish only
// after their transaction has committed; the commit-then-dispatch ordering is
// the caller's explicit responsibility, not proxy magic.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *logger.Logger
}

func New(logger *logger.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the given notification name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish dispatches the payload to every handler registered for name. Each
// handler runs in its own goroutine; panics are contained per handler.
func (b *Bus) Publish(ctx context.Context, name string, payload interface{}) {
	b.mu.RLock()
	handlers := b.handlers[name]
	b.mu.RUnlock()

	for _, h := range handlers {
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error(nil, "event handler panicked", "event", name, "panic", r)
				}
			}()
			h(ctx, payload)
		}()
	}
}

// PublishSync dispatches inline, still isolating each handler. Used where the
// caller wants deterministic completion (schedulers, tests).
func (b *Bus) PublishSync(ctx context.Context, name string, payload interface{}) {
	b.mu.RLock()
	handlers := b.handlers[name]
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error(nil, "event handler panicked", "event", name, "panic", r)
				}
			}()
			h(ctx, payload)
		}()
	}
}
