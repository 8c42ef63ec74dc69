package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"GoMarketplace/internal/slot"
)

const (
	minRetryBackoff = 50 * time.Millisecond
	maxRetryBackoff = 2 * time.Second
)

// Retrying cannot fix a snapshot that does not serialize.
var errUnencodable = errors.New("unencodable snapshot")

type snapshot struct {
	version uint64
	items   []LineItem
}

// writer owns every write to the slot. At most one write is in flight and
// pending snapshots collapse to the newest, so the last enqueued state is
// the last one written.
type writer struct {
	slot    slot.Slot
	key     string
	timeout time.Duration
	log     *zap.Logger
	metrics *Metrics

	mu       sync.Mutex
	pending  *snapshot
	latest   uint64
	written  uint64
	lastErr  error
	progress chan struct{}

	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once
}

func newWriter(s slot.Slot, key string, timeout time.Duration, log *zap.Logger, m *Metrics) *writer {
	w := &writer{
		slot:     s,
		key:      key,
		timeout:  timeout,
		log:      log,
		metrics:  m,
		progress: make(chan struct{}),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) enqueue(s snapshot) {
	w.mu.Lock()
	if w.pending != nil {
		w.metrics.coalesced()
	}
	if w.pending == nil || s.version > w.pending.version {
		w.pending = &s
	}
	if s.version > w.latest {
		w.latest = s.version
	}
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// flush waits until everything enqueued before the call is durable.
func (w *writer) flush(ctx context.Context) error {
	w.mu.Lock()
	target := w.latest
	w.mu.Unlock()

	for {
		w.mu.Lock()
		if w.written >= target {
			w.mu.Unlock()
			return nil
		}
		ch := w.progress
		w.mu.Unlock()

		select {
		case <-ch:
		case <-w.done:
			return fmt.Errorf("%w: writer stopped before version %d was written", ErrPersistence, target)
		case <-ctx.Done():
			w.mu.Lock()
			lastErr := w.lastErr
			w.mu.Unlock()
			if lastErr != nil {
				return fmt.Errorf("%w: %w", ErrPersistence, lastErr)
			}
			return ctx.Err()
		}
	}
}

func (w *writer) close(ctx context.Context) error {
	err := w.flush(ctx)
	w.stopped.Do(func() { close(w.stop) })
	<-w.done
	return err
}

func (w *writer) run() {
	defer close(w.done)
	for {
		select {
		case <-w.kick:
			if !w.drain() {
				return
			}
		case <-w.stop:
			return
		}
	}
}

// drain writes until nothing is pending. It reports false when asked to stop
// while waiting to retry.
func (w *writer) drain() bool {
	backoff := minRetryBackoff
	for {
		w.mu.Lock()
		snap := w.pending
		w.pending = nil
		w.mu.Unlock()
		if snap == nil {
			return true
		}

		err := w.write(snap)
		if err == nil || errors.Is(err, errUnencodable) {
			backoff = minRetryBackoff
			continue
		}

		w.mu.Lock()
		superseded := w.pending != nil
		if !superseded {
			w.pending = snap
		}
		w.mu.Unlock()
		if superseded {
			w.log.Debug("dropping retry of superseded cart snapshot", zap.Uint64("version", snap.version))
			continue
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-w.kick:
			timer.Stop()
		case <-w.stop:
			timer.Stop()
			return false
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func (w *writer) write(snap *snapshot) error {
	raw, err := encodeItems(snap.items)
	if err != nil {
		w.log.Error("encode cart failed", zap.Error(err), zap.Uint64("version", snap.version))
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		return fmt.Errorf("%w: %w", errUnencodable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	start := time.Now()
	err = w.slot.Set(ctx, w.key, raw)
	w.metrics.write(err, time.Since(start))

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.lastErr = err
		w.log.Warn("cart write failed",
			zap.Error(err),
			zap.String("key", w.key),
			zap.Uint64("version", snap.version),
		)
		return err
	}

	if snap.version > w.written {
		w.written = snap.version
	}
	w.lastErr = nil
	close(w.progress)
	w.progress = make(chan struct{})
	return nil
}
