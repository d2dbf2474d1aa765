package docstore

import (
	"context"
	"sync"
)

// Snapshot is the full result of a subscribed query at one point in time.
type Snapshot struct {
	Docs []Doc
	Err  error
}

// Subscription streams snapshots until Close or until its context ends.
// A slow reader only ever sees the latest snapshot.
type Subscription struct {
	updates chan Snapshot
	notify  chan struct{}
	cancel  context.CancelFunc
	once    sync.Once
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{
		updates: make(chan Snapshot, 1),
		notify:  make(chan struct{}, 1),
		cancel:  cancel,
	}
}

// Updates is closed after Close.
func (s *Subscription) Updates() <-chan Snapshot { return s.updates }

func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

func (s *Subscription) deliver(snap Snapshot) {
	select {
	case s.updates <- snap:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}
