package appointment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker guards the critical section of a booking or schedule mutation.
// redisclient.ScheduleLocker implements it across processes.
type Locker interface {
	WithScheduleLock(ctx context.Context, scheduleID uuid.UUID, fn func(ctx context.Context) error) error
}

// LocalLocker serializes callers per schedule inside one process. An entry
// lives only while some caller holds or waits for it.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*localLock
}

type localLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[uuid.UUID]*localLock)}
}

func (l *LocalLocker) WithScheduleLock(ctx context.Context, scheduleID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	lk, ok := l.locks[scheduleID]
	if !ok {
		lk = &localLock{}
		l.locks[scheduleID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	defer l.release(scheduleID, lk)

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

func (l *LocalLocker) release(scheduleID uuid.UUID, lk *localLock) {
	lk.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, scheduleID)
	}
}
