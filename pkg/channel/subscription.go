package channel

import (
	"sync"

	"github.com/actflow/actflow/pkg/models"
)

// Subscription is one filtered view of the channel's event stream. Events
// are buffered up to the channel's queue bound; consumers read them from
// Events() in publish order per process.
type Subscription struct {
	ch       *Channel
	id       uint64
	filter   Filter
	capacity int

	mu         sync.Mutex
	queue      []models.Event
	dropped    int64
	droppedPID string
	closed     bool

	notify  chan struct{}
	abandon chan struct{}
	out     chan models.Event

	abandonOnce sync.Once
}

func newSubscription(ch *Channel, id uint64, filter Filter, capacity int) *Subscription {
	return &Subscription{
		ch:       ch,
		id:       id,
		filter:   filter,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		abandon:  make(chan struct{}),
		out:      make(chan models.Event),
	}
}

// Events returns the subscription's delivery stream. The stream is closed
// when the subscription or the channel closes.
func (s *Subscription) Events() <-chan models.Event {
	return s.out
}

// Close abandons the subscription. Undelivered events are discarded.
func (s *Subscription) Close() {
	s.ch.unsubscribe(s.id)
	s.abandonOnce.Do(func() { close(s.abandon) })
	s.markClosed()
}

// enqueue appends an event, dropping the oldest entry when the queue is
// full. Never blocks the publisher.
func (s *Subscription) enqueue(ev models.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.dropped++
		s.droppedPID = ev.ProcessID
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// markClosed stops accepting events; the pump drains what is queued.
func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump delivers queued events to the consumer. Delivery blocks on the
// consumer; this is the channel's only suspension point.
func (s *Subscription) pump(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.notify:
			case <-s.abandon:
				return
			}
			continue
		}

		ev := s.queue[0]
		s.queue = s.queue[1:]
		drops, pid := s.dropped, s.droppedPID
		s.dropped = 0
		s.mu.Unlock()

		if drops > 0 {
			s.ch.reportDrops(pid, drops)
		}

		select {
		case s.out <- ev:
		case <-s.abandon:
			return
		}
	}
}
