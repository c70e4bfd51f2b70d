package transport

import (
	"context"
	"sync"
)

// Limiter bounds the number of requests executing at once. Acquire blocks
// until a slot frees up or ctx ends.
type Limiter struct {
	capacity int64

	mu     sync.Mutex
	tokens int64
	cond   *sync.Cond
}

func NewLimiter(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	l := &Limiter{capacity: int64(capacity), tokens: int64(capacity)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *Limiter) Acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.tokens == 0 && ctx.Err() == nil {
		l.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.tokens--
	return nil
}

func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tokens == 0 {
		return false
	}
	l.tokens--
	return true
}

func (l *Limiter) Release() {
	l.mu.Lock()
	if l.tokens < l.capacity {
		l.tokens++
	}
	l.mu.Unlock()
	l.cond.Signal()
}

// InFlight is the number of slots currently held.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.capacity - l.tokens)
}
