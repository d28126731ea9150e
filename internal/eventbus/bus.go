// Package eventbus is a small in-process fanout used to decouple the site
// registry, the sign-in service and the metrics/history consumers.
//
// Publish never blocks. Subscribers get a buffered channel and lose events
// when they fall behind.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// TypeSiteDeleted carries a SiteDeleted payload.
	TypeSiteDeleted = "site.deleted"
	// TypeSignInFinished carries the run summary published by the sign-in service.
	TypeSignInFinished = "signin.finished"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// SiteDeleted reports a removal from the site registry. All is set when the
// registry was cleared and no single id applies.
type SiteDeleted struct {
	ID  int
	All bool
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock guarantees no Publish is mid-send on ch.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
