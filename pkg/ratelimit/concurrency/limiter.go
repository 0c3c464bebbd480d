package concurrency

import (
	"context"
	"sync"

	"github.com/vnykmshr/batchflow/pkg/common/validation"
)

// Limiter controls the number of concurrent operations that can happen
// at any given time. It acts as a semaphore with context support and
// state inspection, and satisfies workerpool.Semaphore.
type Limiter interface {
	// Acquire attempts to acquire a permit without blocking.
	Acquire() bool

	// Wait blocks until a permit is available.
	// It returns an error if the context is canceled or deadline exceeded.
	Wait(ctx context.Context) error

	// Release releases one permit back to the limiter.
	// It panics if more permits are released than were acquired.
	Release()

	// Capacity returns the maximum number of concurrent operations allowed.
	Capacity() int

	// Available returns the number of permits currently available.
	Available() int

	// InUse returns the number of permits currently in use.
	InUse() int

	// Waiting returns the number of callers blocked in Wait.
	Waiting() int
}

// Config holds configuration options for creating a new concurrency Limiter.
type Config struct {
	// Capacity is the maximum number of concurrent operations allowed.
	Capacity int
}

// semaphore implements Limiter with a FIFO queue of waiters.
type semaphore struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  []chan struct{}
}

// New creates a concurrency limiter with the given capacity.
func New(capacity int) (Limiter, error) {
	return NewWithConfig(Config{Capacity: capacity})
}

// NewWithConfig creates a concurrency limiter from config.
func NewWithConfig(config Config) (Limiter, error) {
	if err := validation.ValidatePositive("concurrency", "capacity", config.Capacity); err != nil {
		return nil, err
	}
	return &semaphore{capacity: config.Capacity}, nil
}

// Acquire attempts to acquire one permit without blocking.
func (s *semaphore) Acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Queued waiters go first.
	if s.inUse < s.capacity && len(s.waiters) == 0 {
		s.inUse++
		return true
	}
	return false
}

// Wait blocks until one permit is available.
func (s *semaphore) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	if s.inUse < s.capacity && len(s.waiters) == 0 {
		s.inUse++
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()

		select {
		case <-ready:
			// Granted concurrently with cancellation; hand the permit on.
			s.inUse--
			s.grant()
		default:
			s.removeWaiter(ready)
		}
		return ctx.Err()
	}
}

// Release releases one permit back to the limiter.
func (s *semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse <= 0 {
		panic("concurrency: released more permits than acquired")
	}
	s.inUse--
	s.grant()
}

// Capacity returns the maximum number of concurrent operations allowed.
func (s *semaphore) Capacity() int {
	return s.capacity
}

// Available returns the number of permits currently available.
func (s *semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.inUse
}

// InUse returns the number of permits currently in use.
func (s *semaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Waiting returns the number of callers blocked in Wait.
func (s *semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// grant hands free permits to waiters in arrival order.
// Must be called with s.mu held.
func (s *semaphore) grant() {
	for s.inUse < s.capacity && len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.inUse++
		close(next)
	}
}

// removeWaiter drops a canceled waiter. Must be called with s.mu held.
func (s *semaphore) removeWaiter(ready chan struct{}) {
	for i, w := range s.waiters {
		if w == ready {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}
