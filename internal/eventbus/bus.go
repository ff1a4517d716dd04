package eventbus

import (
	"sync"
	"time"
)

// Event is an in-process signal about scheduler and pipeline activity.
// Payloads are the small structs defined in events.go; keep them cheap to
// copy and JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses that event, so the buffer size a subscriber
// picks is its statement of how far behind it may fall.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{}
}

type memBus struct {
	mu   sync.RWMutex
	subs []*subscriber
}

type subscriber struct {
	ch chan Event
}

// Publish stamps the event and hands it to every live subscriber. Sends
// happen under the read lock and never block, which keeps the lock cheap
// and means unsubscribe's write lock can't close a channel mid-send.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() { once.Do(func() { b.drop(s) }) }
}

func (b *memBus) drop(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur != s {
			continue
		}
		b.subs[i] = b.subs[len(b.subs)-1]
		b.subs[len(b.subs)-1] = nil
		b.subs = b.subs[:len(b.subs)-1]
		close(s.ch)
		return
	}
}
