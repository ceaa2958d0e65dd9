package dispatch

import (
	"container/list"
	"sync"
	"time"
)

const (
	defaultDedupCapacity = 4096
	defaultDedupMaxAge   = 10 * time.Minute
)

// DedupWindow remembers recently seen event keys so transport retries
// and reconnect replays collapse to one delivery. Entries age out after
// maxAge and the oldest are evicted past capacity, so memory stays
// bounded at the cost of re-admitting duplicates from very long
// outages. The window is process-local. Safe for concurrent use.
type DedupWindow struct {
	capacity int
	maxAge   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	order   *list.List               // oldest first, holds *dedupEntry
	entries map[string]*list.Element // key -> element in order
}

type dedupEntry struct {
	key  string
	seen time.Time
}

// NewDedupWindow creates a window with the given bounds. Non-positive
// values select the defaults.
func NewDedupWindow(capacity int, maxAge time.Duration) *DedupWindow {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	if maxAge <= 0 {
		maxAge = defaultDedupMaxAge
	}
	return &DedupWindow{
		capacity: capacity,
		maxAge:   maxAge,
		now:      time.Now,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// WithClock sets the time source, for tests. Call before first use.
func (w *DedupWindow) WithClock(now func() time.Time) *DedupWindow {
	w.now = now
	return w
}

// Remember records the key and reports whether it was new. A false
// return means the event is a replay and must be dropped.
func (w *DedupWindow) Remember(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expire(now)

	if _, seen := w.entries[key]; seen {
		return false
	}
	w.entries[key] = w.order.PushBack(&dedupEntry{key: key, seen: now})
	for w.order.Len() > w.capacity {
		w.evictOldest()
	}
	return true
}

// Forget removes the key so a later redelivery is admitted again. Used
// when an event was remembered but could not be processed after all.
func (w *DedupWindow) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if el, ok := w.entries[key]; ok {
		w.order.Remove(el)
		delete(w.entries, key)
	}
}

// Len reports the number of live entries.
func (w *DedupWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expire(w.now())
	return w.order.Len()
}

func (w *DedupWindow) expire(now time.Time) {
	for {
		front := w.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(*dedupEntry)
		if now.Sub(e.seen) < w.maxAge {
			return
		}
		w.evictOldest()
	}
}

func (w *DedupWindow) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	e := front.Value.(*dedupEntry)
	w.order.Remove(front)
	delete(w.entries, e.key)
}
