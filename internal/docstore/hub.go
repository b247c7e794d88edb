package docstore

import "sync"

// hub fans out changes to per-collection subscribers. Callbacks run on the
// publishing goroutine outside the lock, so they may call back into the store.
type hub struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]func(Change)
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[int]func(Change))}
}

func (h *hub) subscribe(collection string, fn func(Change)) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[int]func(Change))
	}
	h.subs[collection][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[collection], id)
			if len(h.subs[collection]) == 0 {
				delete(h.subs, collection)
			}
			h.mu.Unlock()
		})
	}
}

func (h *hub) publish(c Change) {
	h.mu.RLock()
	fns := make([]func(Change), 0, len(h.subs[c.Collection]))
	for _, fn := range h.subs[c.Collection] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (h *hub) count(collection string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[collection])
}
