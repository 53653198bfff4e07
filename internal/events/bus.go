package events

import (
	"sync"
	"sync/atomic"
	"time"

	"autotrader/internal/domain"
)

// Bus is a lightweight pub/sub broker using channels. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	subs    []*subscription
	dropped atomic.Uint64
	now     func() time.Time
}

type subscription struct {
	ch    chan domain.EngineEvent
	kinds map[domain.EventKind]struct{}
}

func (s *subscription) wants(kind domain.EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{now: time.Now}
}

// Subscribe registers a listener and returns the channel and an unsubscribe function.
// With no kinds the subscriber receives everything.
func (b *Bus) Subscribe(buffer int, kinds ...domain.EventKind) (<-chan domain.EngineEvent, func()) {
	sub := &subscription{ch: make(chan domain.EngineEvent, buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[domain.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s == sub {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			close(sub.ch)
		})
	}
	return sub.ch, unsub
}

// Publish assigns the next sequence number and fans the event out. The lock is
// held for the whole fan-out so every subscriber sees events in Seq order.
func (b *Bus) Publish(kind domain.EventKind, payload any) domain.EngineEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev := domain.EngineEvent{Seq: b.seq, Kind: kind, Time: b.now(), Payload: payload}
	for _, s := range b.subs {
		if !s.wants(kind) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
	return ev
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
