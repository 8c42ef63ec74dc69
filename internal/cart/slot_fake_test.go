package cart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"GoMarketplace/internal/slot"
)

var errSlotDown = errors.New("slot down")

// fakeSlot wraps a MemSlot with knobs for load gating, write blocking and
// injected failures.
type fakeSlot struct {
	*slot.MemSlot

	getGate  chan struct{}
	setGate  chan struct{}
	failSets atomic.Int32
	sets     atomic.Int32

	mu     sync.Mutex
	getErr error
	values []string
}

func newFakeSlot() *fakeSlot {
	return &fakeSlot{MemSlot: slot.NewMemSlot()}
}

func (f *fakeSlot) Get(ctx context.Context, key string) (string, bool, error) {
	if f.getGate != nil {
		select {
		case <-f.getGate:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return "", false, err
	}
	return f.MemSlot.Get(ctx, key)
}

func (f *fakeSlot) failGets(err error) {
	f.mu.Lock()
	f.getErr = err
	f.mu.Unlock()
}

func (f *fakeSlot) Set(ctx context.Context, key, value string) error {
	f.sets.Add(1)
	if f.setGate != nil {
		select {
		case <-f.setGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// Negative failSets fails forever; positive fails that many times.
	switch n := f.failSets.Load(); {
	case n < 0:
		return errSlotDown
	case n > 0:
		f.failSets.Add(-1)
		return errSlotDown
	}

	f.mu.Lock()
	f.values = append(f.values, value)
	f.mu.Unlock()
	return f.MemSlot.Set(ctx, key, value)
}

func (f *fakeSlot) raw(key string) string {
	v, _, _ := f.MemSlot.Get(context.Background(), key)
	return v
}
