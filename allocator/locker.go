package allocator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crispy/models"
)

// Locker serializes allocations per partition key. Acquire waits at most wait and then
// fails with models.ErrLockTimeout. The returned release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, wait time.Duration) (release func(), err error)
}

// LocalLocker is an in-process Locker. Distinct keys never contend.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	ch := l.slot(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", models.ErrLockTimeout, key, wait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
