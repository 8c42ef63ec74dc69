package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"GoMarketplace/internal/slot"
)

const (
	DefaultKey = "@GoMarketplace:cart"

	defaultLoadTimeout  = 5 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

var (
	ErrNoStore      = errors.New("cart store used outside a store scope")
	ErrItemNotFound = errors.New("cart item not found")
	ErrInvalidItem  = errors.New("invalid cart item")
	ErrPersistence  = errors.New("cart persistence failed")
	ErrClosed       = errors.New("cart store closed")
)

const (
	opAdd       = "add"
	opIncrement = "increment"
	opDecrement = "decrement"
	opRemove    = "remove"
)

type Deps struct {
	Log     *zap.Logger
	Metrics *Metrics

	// Key defaults to DefaultKey.
	Key          string
	LoadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store is the cart: an ordered list of line items mirrored to one slot key.
//
// New starts loading the persisted list in the background. Products returns
// the empty list until the load lands; mutators wait for the first attempt
// and fail with ErrPersistence while the saved list is unread, so nothing a
// caller does is overwritten by the load.
type Store struct {
	slot     slot.Slot
	key      string
	log      *zap.Logger
	metrics  *Metrics
	validate *validator.Validate

	// attempted closes after the first load attempt, loadDone when the load
	// loop exits. loadErr (guarded by mu) is nil once the list is installed.
	attempted chan struct{}
	loadDone  chan struct{}
	stopLoad  chan struct{}
	stopOnce  sync.Once
	loadErr   error

	mu      sync.Mutex
	items   []LineItem
	version uint64
	closed  bool

	hub *hub
	w   *writer
}

func New(s slot.Slot, deps Deps) *Store {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Key == "" {
		deps.Key = DefaultKey
	}
	if deps.LoadTimeout <= 0 {
		deps.LoadTimeout = defaultLoadTimeout
	}
	if deps.WriteTimeout <= 0 {
		deps.WriteTimeout = defaultWriteTimeout
	}

	st := &Store{
		slot:      s,
		key:       deps.Key,
		log:       deps.Log,
		metrics:   deps.Metrics,
		validate:  validator.New(),
		attempted: make(chan struct{}),
		loadDone:  make(chan struct{}),
		stopLoad:  make(chan struct{}),
		items:     []LineItem{},
		hub:       newHub(),
		w:         newWriter(s, deps.Key, deps.WriteTimeout, deps.Log, deps.Metrics),
	}

	go st.load(deps.LoadTimeout)
	return st
}

// load reads the saved list until it succeeds. A read error is retried with
// backoff; an undecodable value is final. Until the list is installed every
// mutator fails, so the saved cart is never overwritten unread.
func (s *Store) load(timeout time.Duration) {
	defer close(s.loadDone)

	var once sync.Once
	markAttempted := func() { once.Do(func() { close(s.attempted) }) }
	defer markAttempted()

	backoff := minRetryBackoff
	for {
		items, retry, err := s.readSaved(timeout)

		s.mu.Lock()
		s.loadErr = err
		if err == nil && items != nil {
			s.items = items
			s.version++
			s.metrics.items(len(items))
			s.hub.publish(items)
		}
		s.mu.Unlock()
		markAttempted()

		if !retry {
			return
		}
		s.log.Warn("cart load failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-s.stopLoad:
			timer.Stop()
			return
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// readSaved returns nil items when nothing is saved.
func (s *Store) readSaved(timeout time.Duration) (items []LineItem, retry bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	raw, found, err := s.slot.Get(ctx, s.key)
	if err != nil {
		return nil, true, fmt.Errorf("%w: load %s: %w", ErrPersistence, s.key, err)
	}
	if !found || raw == "" {
		s.log.Info("no saved cart", zap.String("key", s.key))
		return nil, false, nil
	}

	items, err = decodeItems(raw)
	if err != nil {
		s.log.Error("saved cart unreadable", zap.Error(err), zap.String("key", s.key))
		return nil, false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.log.Info("cart loaded", zap.Int("items", len(items)))
	return items, false, nil
}

// Wait blocks until the first load attempt has finished and returns the
// load error, if the list is still unread.
func (s *Store) Wait(ctx context.Context) error {
	if s == nil {
		return ErrNoStore
	}
	select {
	case <-s.attempted:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Ping reports whether the cart is loaded and its slot reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return ErrNoStore
	}
	select {
	case <-s.attempted:
	default:
		return errors.New("cart not loaded yet")
	}

	s.mu.Lock()
	err := s.loadErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.slot.Ping(ctx)
}

// Products returns a copy of the current list.
func (s *Store) Products() []LineItem {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.items)
}

func (s *Store) Subscribe() (*Subscription, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.hub.add(s.items), nil
}

// AddToCart appends p with quantity 1, or increments it when its ID is
// already in the cart.
func (s *Store) AddToCart(ctx context.Context, p Product) error {
	if s == nil {
		return ErrNoStore
	}
	if err := s.validate.Struct(p); err != nil {
		s.metrics.mutation(opAdd, resultError)
		return fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}
	if math.IsInf(p.Price, 0) {
		s.metrics.mutation(opAdd, resultError)
		return fmt.Errorf("%w: price must be finite", ErrInvalidItem)
	}

	return s.mutate(ctx, opAdd, func(items []LineItem) ([]LineItem, bool, error) {
		if i := indexOf(items, p.ID); i >= 0 {
			items[i].Quantity++
			return items, true, nil
		}
		return append(items, p.lineItem(1)), true, nil
	})
}

func (s *Store) Increment(ctx context.Context, id string) error {
	if s == nil {
		return ErrNoStore
	}
	return s.mutate(ctx, opIncrement, func(items []LineItem) ([]LineItem, bool, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		items[i].Quantity++
		return items, true, nil
	})
}

// Decrement lowers the quantity by one. An item at zero stays in the cart
// and further decrements leave it unchanged; use Remove to drop it.
func (s *Store) Decrement(ctx context.Context, id string) error {
	if s == nil {
		return ErrNoStore
	}
	return s.mutate(ctx, opDecrement, func(items []LineItem) ([]LineItem, bool, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		if items[i].Quantity-1 < 0 {
			return nil, false, nil
		}
		items[i].Quantity--
		return items, true, nil
	})
}

func (s *Store) Remove(ctx context.Context, id string) error {
	if s == nil {
		return ErrNoStore
	}
	return s.mutate(ctx, opRemove, func(items []LineItem) ([]LineItem, bool, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		return append(items[:i], items[i+1:]...), true, nil
	})
}

// mutate applies fn to a private copy of the list and, when fn reports a
// change, installs the copy as the new list, queues it for writing and
// notifies subscribers.
func (s *Store) mutate(ctx context.Context, op string, fn func([]LineItem) ([]LineItem, bool, error)) error {
	if err := s.Wait(ctx); err != nil {
		s.metrics.mutation(op, resultError)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.metrics.mutation(op, resultError)
		return ErrClosed
	}

	next, changed, err := fn(clone(s.items))
	switch {
	case errors.Is(err, ErrItemNotFound):
		s.metrics.mutation(op, resultNotFound)
		return err
	case err != nil:
		s.metrics.mutation(op, resultError)
		return err
	case !changed:
		s.metrics.mutation(op, resultNoop)
		return nil
	}

	s.items = next
	s.version++
	s.w.enqueue(snapshot{version: s.version, items: next})
	s.hub.publish(next)
	s.metrics.mutation(op, resultOK)
	s.metrics.items(len(next))
	return nil
}

// Flush blocks until every change made so far has been written.
func (s *Store) Flush(ctx context.Context) error {
	if s == nil {
		return ErrNoStore
	}
	return s.w.flush(ctx)
}

// Close stops accepting changes, flushes pending writes and ends all
// subscriptions. It does not close the slot.
func (s *Store) Close(ctx context.Context) error {
	if s == nil {
		return ErrNoStore
	}

	select {
	case <-s.attempted:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.stopOnce.Do(func() { close(s.stopLoad) })
	select {
	case <-s.loadDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.w.close(ctx)
	s.hub.closeAll()
	return err
}
