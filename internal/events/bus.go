package events

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// Listener receives every event dispatched after it was subscribed. A
// returned error or a panic is logged and does not affect other listeners.
type Listener func(ctx context.Context, e Event) error

type subscription struct {
	id int
	fn Listener
}

// Bus is an unbounded FIFO queue drained by a single dispatcher. Publish
// never blocks on listeners.
type Bus struct {
	log *slog.Logger

	mu        sync.Mutex
	queue     []Event
	listeners []subscription
	nextID    int

	wake chan struct{}

	inListener atomic.Bool
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bus{log: log, wake: make(chan struct{}, 1)}
}

func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Subscribe registers l and returns a function that removes it. The
// returned function is safe to call more than once.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners = append(b.listeners, subscription{id: id, fn: l})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.listeners = slices.DeleteFunc(b.listeners, func(s subscription) bool { return s.id == id })
	}
}

// Len reports how many events are queued but not yet dispatched.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Run dispatches queued events until ctx is cancelled. Events still queued
// at cancellation are dropped.
func (b *Bus) Run(ctx context.Context) {
	for {
		e, ok := b.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-b.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		b.dispatch(ctx, e)
	}
}

func (b *Bus) next() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	e := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return e, true
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.Lock()
	subs := slices.Clone(b.listeners)
	b.mu.Unlock()

	for _, s := range subs {
		if err := b.call(ctx, s.fn, e); err != nil {
			b.log.Error("event listener failed",
				"event", e.EventType(),
				"agent", e.AgentID(),
				"err", err)
		}
	}
}

// Dispatching reports whether a listener is running right now.
func (b *Bus) Dispatching() bool { return b.inListener.Load() }

func (b *Bus) call(ctx context.Context, fn Listener, e Event) (err error) {
	b.inListener.Store(true)
	defer b.inListener.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(ctx, e)
}
