package docstore

import (
	"context"
	"sync"
)

// Change identifies one committed write.
type Change struct {
	Namespace  string `json:"namespace"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Op         OpKind `json:"op"`
}

// Broadcaster fans committed changes out to subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, changes []Change) error
}

type topic struct {
	namespace  string
	collection string
}

type listener struct {
	id     string
	notify chan struct{}
}

// Hub is the in-process broadcaster. Listeners are poked, never handed data;
// they re-read the store so the newest state always wins.
type Hub struct {
	mu        sync.RWMutex
	listeners map[topic]map[*listener]struct{}
}

func NewHub() *Hub {
	return &Hub{listeners: map[topic]map[*listener]struct{}{}}
}

func (h *Hub) register(namespace, collection, id string, notify chan struct{}) func() {
	t := topic{namespace: namespace, collection: collection}
	l := &listener{id: id, notify: notify}
	h.mu.Lock()
	if h.listeners[t] == nil {
		h.listeners[t] = map[*listener]struct{}{}
	}
	h.listeners[t][l] = struct{}{}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.listeners[t], l)
		if len(h.listeners[t]) == 0 {
			delete(h.listeners, t)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) Broadcast(_ context.Context, changes []Change) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range changes {
		for l := range h.listeners[topic{namespace: c.Namespace, collection: c.Collection}] {
			if l.id != "" && l.id != c.ID {
				continue
			}
			select {
			case l.notify <- struct{}{}:
			default:
			}
		}
	}
	return nil
}

// Listeners reports how many subscriptions watch the given collection.
func (h *Hub) Listeners(namespace, collection string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[topic{namespace: namespace, collection: collection}])
}

// ChangeFeed buffers committed changes for a single consumer. When the
// consumer falls behind, further changes are dropped and counted.
type ChangeFeed struct {
	ch      chan Change
	mu      sync.Mutex
	dropped int
}

func NewChangeFeed(size int) *ChangeFeed {
	if size <= 0 {
		size = 256
	}
	return &ChangeFeed{ch: make(chan Change, size)}
}

func (f *ChangeFeed) Broadcast(_ context.Context, changes []Change) error {
	for _, c := range changes {
		select {
		case f.ch <- c:
		default:
			f.mu.Lock()
			f.dropped++
			f.mu.Unlock()
		}
	}
	return nil
}

func (f *ChangeFeed) Changes() <-chan Change { return f.ch }

// Dropped reports how many changes did not fit the buffer.
func (f *ChangeFeed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
