package redisclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// localScheduleLocker serialises schedule sections inside a single process.
// Used with STORE_BACKEND=memory and in tests, where no Redis is configured.
// A schedule's slot lives only while some caller holds or waits for it.
type localScheduleLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*localSlot
	wait  time.Duration
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalScheduleLocker(wait time.Duration) Locker {
	return &localScheduleLocker{
		slots: make(map[uuid.UUID]*localSlot),
		wait:  wait,
	}
}

func (l *localScheduleLocker) acquireSlot(scheduleID uuid.UUID) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[scheduleID]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[scheduleID] = s
	}
	s.refs++
	return s
}

func (l *localScheduleLocker) releaseSlot(scheduleID uuid.UUID, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, scheduleID)
	}
}

func (l *localScheduleLocker) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *localScheduleLocker) WithScheduleLock(ctx context.Context, scheduleID uuid.UUID, fn func(ctx context.Context) error) error {
	s := l.acquireSlot(scheduleID)
	defer l.releaseSlot(scheduleID, s)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-timer.C:
		return ErrLockNotAcquired
	case <-ctx.Done():
		return ErrLockNotAcquired
	}
	defer func() { <-s.ch }()

	return fn(ctx)
}
