package cart

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription delivers the latest product list after every change. Slow
// readers only ever see the newest list; intermediate ones are dropped.
type Subscription struct {
	ID string
	C  <-chan []LineItem

	ch  chan []LineItem
	hub *hub
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.remove(s.ID)
}

type hub struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func newHub() *hub {
	return &hub{subs: map[string]*Subscription{}}
}

func (h *hub) add(initial []LineItem) *Subscription {
	ch := make(chan []LineItem, 1)
	s := &Subscription{
		ID:  uuid.NewString(),
		C:   ch,
		ch:  ch,
		hub: h,
	}
	ch <- clone(initial)

	h.mu.Lock()
	h.subs[s.ID] = s
	h.mu.Unlock()
	return s
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

func (h *hub) publish(items []LineItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		offer(s.ch, clone(items))
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}

func offer(ch chan []LineItem, items []LineItem) {
	for {
		select {
		case ch <- items:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
