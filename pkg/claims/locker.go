package claims

import (
	"context"
	"fmt"
	"sync"
)

// UnitLocker serializes claim mutations on a single unit.
// The returned unlock function must be called exactly once.
type UnitLocker interface {
	Lock(ctx context.Context, unit UnitCode) (unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	units map[string]*unitSlot
}

type unitSlot struct {
	token   chan struct{}
	waiters int
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{units: make(map[string]*unitSlot)}
}

// Lock blocks until the unit is free or ctx is done.
func (locker *LocalLocker) Lock(ctx context.Context, unit UnitCode) (func(), error) {
	key := unit.String()
	locker.mu.Lock()
	slot, ok := locker.units[key]
	if !ok {
		slot = &unitSlot{token: make(chan struct{}, 1)}
		locker.units[key] = slot
	}
	slot.waiters++
	locker.mu.Unlock()

	select {
	case slot.token <- struct{}{}:
	case <-ctx.Done():
		locker.release(key, slot)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockUnavailable, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.token
			locker.release(key, slot)
		})
	}, nil
}

func (locker *LocalLocker) release(key string, slot *unitSlot) {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	slot.waiters--
	if slot.waiters == 0 {
		delete(locker.units, key)
	}
}
