// Package subscriber implements the reorganize fan-out of spec.md §4.7:
// a multi-producer registry of handlers, each notified once per commit,
// and once more with service_stopped on shutdown. It borrows the
// atomically-incrementing client-ID registry idiom the teacher's
// lnd-derived subscribe server uses, simplified from a queued-channel
// client to a plain callback since handlers here run on the dispatcher's
// general pool rather than pulling from a per-client queue.
package subscriber

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
)

// Handler receives one reorganize notification.
type Handler func(code chainerr.Code, forkHeight int32, incoming, outgoing []*model.Block)

// Dispatcher is the subset of *dispatch.Dispatcher the subscriber uses to
// run handlers off the organizer thread.
type Dispatcher interface {
	General(ctx context.Context, n int, task func(ctx context.Context, i int) error) error
}

// Subscriber holds the set of currently registered reorganize handlers.
type Subscriber struct {
	mu         sync.Mutex
	handlers   map[uint64]Handler
	nextID     atomic.Uint64
	dispatcher Dispatcher
	shutdown   bool
}

// New builds a Subscriber that fans notifications out through dispatcher.
func New(dispatcher Dispatcher) *Subscriber {
	return &Subscriber{handlers: make(map[uint64]Handler), dispatcher: dispatcher}
}

// Subscribe registers handler and returns a cancel function that removes
// it. Subscribing after Shutdown has run immediately delivers one
// service_stopped notification and does not register the handler.
func (s *Subscriber) Subscribe(handler Handler) (cancel func()) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		handler(chainerr.ServiceStopped, 0, nil, nil)
		return func() {}
	}
	id := s.nextID.Add(1)
	s.handlers[id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

// Relay notifies every registered handler of a commit outcome, running
// the handlers concurrently on the dispatcher's general pool. Relay
// returns only after every handler has returned, so a slow handler delays
// its caller.
func (s *Subscriber) Relay(code chainerr.Code, forkHeight int32, incoming, outgoing []*model.Block) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	if len(handlers) == 0 {
		return
	}
	_ = s.dispatcher.General(context.Background(), len(handlers), func(ctx context.Context, i int) error {
		handlers[i](code, forkHeight, incoming, outgoing)
		return nil
	})
}

// Shutdown delivers (service_stopped, 0, nil, nil) exactly once to every
// still-registered handler and drops them all. Idempotent.
func (s *Subscriber) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.handlers = make(map[uint64]Handler)
	s.mu.Unlock()

	_ = s.dispatcher.General(context.Background(), len(handlers), func(ctx context.Context, i int) error {
		handlers[i](chainerr.ServiceStopped, 0, nil, nil)
		return nil
	})
}
