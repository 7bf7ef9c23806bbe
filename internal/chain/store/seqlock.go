package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodecore/blockorganizer/internal/clock"
)

// SpinInterval is the sleep between retries in the read-validation loop
// (spec.md §4.5.1).
const SpinInterval = time.Millisecond

// SeqLock is a single-writer, wait-free-reader-on-the-happy-path
// concurrency primitive: writers take an exclusive mutex and bump an
// odd/even sequence counter around their critical section; readers never
// block on the mutex, only retry when they observe the sequence change
// out from under them.
//
// The low bit of sequence is the "write in progress" marker: writers set
// it on begin_write and clear it (while also incrementing) on end_write,
// so a single atomic load tells a reader both "is a write in flight" and
// "has the generation changed" in one snapshot.
type SeqLock struct {
	mu       sync.Mutex
	sequence atomic.Uint64
}

// BeginRead snapshots the current sequence value.
func (s *SeqLock) BeginRead() uint64 {
	return s.sequence.Load()
}

// IsWriteLocked reports whether a write was in progress at the moment
// snapshot was sampled.
func (s *SeqLock) IsWriteLocked(snapshot uint64) bool {
	return snapshot&1 != 0
}

// IsReadValid reports whether the sequence is still snapshot, i.e. no
// writer has started (or finished) a write since the read began.
func (s *SeqLock) IsReadValid(snapshot uint64) bool {
	return s.sequence.Load() == snapshot
}

// BeginWrite acquires the writer mutex and marks the sequence odd,
// signalling IsWriteLocked to any concurrent reader.
func (s *SeqLock) BeginWrite() {
	s.mu.Lock()
	s.sequence.Add(1)
}

// EndWrite advances the sequence to the next even value and releases the
// writer mutex, publishing the write to subsequent readers.
func (s *SeqLock) EndWrite() {
	s.sequence.Add(1)
	s.mu.Unlock()
}

// FlushLock and FlushUnlock bracket a batch of writes (e.g. bulk insert
// during initial block download) so intermediate states within the batch
// are never exposed to readers. Each bumps the sequence once, so the whole
// batch is one write cycle: the same odd-on-lock/even-on-unlock protocol
// BeginWrite/EndWrite use for a single write, so a reader spinning across
// the batch still observes IsWriteLocked==true for its entire duration
// instead of a torn intermediate commit.
func (s *SeqLock) FlushLock() {
	s.mu.Lock()
	s.sequence.Add(1)
}

// FlushUnlock releases a lock taken by FlushLock, publishing the whole
// batch to subsequent readers in one sequence bump.
func (s *SeqLock) FlushUnlock() {
	s.sequence.Add(1)
	s.mu.Unlock()
}

// Read executes fn under the sequence-lock read protocol described in
// spec.md §4.5.1, retrying with SpinInterval backoff until it observes a
// consistent snapshot. fn must not mutate store state.
func Read[T any](s *SeqLock, fn func() (T, error)) (T, error) {
	result, err := ReadContext(context.Background(), s, func(context.Context) (T, error) { return fn() })
	return result, err
}

// ReadContext is Read with a cancellable spin wait: a context that is
// already canceled, or is canceled while spinning, aborts the retry loop
// instead of sleeping forever on a stuck writer.
func ReadContext[T any](ctx context.Context, s *SeqLock, fn func(context.Context) (T, error)) (T, error) {
	for {
		seq := s.BeginRead()
		if s.IsWriteLocked(seq) {
			if err := clock.SleepWithContext(ctx, SpinInterval); err != nil {
				var zero T
				return zero, err
			}
			continue
		}
		result, err := fn(ctx)
		if !s.IsReadValid(seq) {
			if err := clock.SleepWithContext(ctx, SpinInterval); err != nil {
				var zero T
				return zero, err
			}
			continue
		}
		return result, err
	}
}
