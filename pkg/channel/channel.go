// Package channel implements the in-process pub/sub bus that carries
// workflow, node, log and message events to filtered subscriptions.
package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/actflow/actflow/pkg/models"
)

// ErrChannelClosed is returned by Publish after the channel is drained.
var ErrChannelClosed = errors.New("channel closed")

// DefaultQueueSize is the per-subscription queue bound. When a subscriber
// falls behind, the oldest events are dropped and a warn log event reports
// the drop count.
const DefaultQueueSize = 1024

// Channel is a many-producer, many-consumer event bus. Publish is
// non-blocking; delivery to each subscription preserves publish order per
// process. Sequence numbers are assigned per process at publish time.
type Channel struct {
	log       zerolog.Logger
	queueSize int

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	seq    map[string]int64
	closed bool

	wg sync.WaitGroup
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the structured logger used for internal diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Channel) {
		c.log = log
	}
}

// WithQueueSize overrides the per-subscription queue bound.
func WithQueueSize(size int) Option {
	return func(c *Channel) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// New creates a channel ready for subscriptions and publishes.
func New(opts ...Option) *Channel {
	c := &Channel{
		log:       zerolog.Nop(),
		queueSize: DefaultQueueSize,
		subs:      make(map[uint64]*Subscription),
		seq:       make(map[string]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers a filtered subscription. The caller must consume
// Events() or Close() the subscription; a subscriber that falls behind
// beyond the queue bound loses its oldest events.
func (c *Channel) Subscribe(filter Filter) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := newSubscription(c, c.nextID, filter, c.queueSize)
	if c.closed {
		// Late subscription on a drained channel delivers nothing.
		sub.closed = true
		close(sub.out)
		return sub
	}
	c.subs[sub.id] = sub

	c.wg.Add(1)
	go sub.pump(&c.wg)
	return sub
}

// Publish assigns the event's per-process sequence number and fans it out
// to all matching subscriptions without blocking.
func (c *Channel) Publish(ev models.Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if ev.ProcessID != "" {
		c.seq[ev.ProcessID]++
		ev.Seq = c.seq[ev.ProcessID]
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	// Enqueue under the lock so every subscription receives events in the
	// order their sequence numbers were assigned; enqueue never blocks.
	for _, sub := range c.subs {
		if sub.filter.Matches(ev) {
			sub.enqueue(ev)
		}
	}
	c.mu.Unlock()
	return nil
}

// Close drains the channel: pending events are delivered, subsequent
// publishes fail with ErrChannelClosed, and all subscription streams end.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[uint64]*Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.markClosed()
	}
	c.wg.Wait()
}

// unsubscribe removes a subscription; called from Subscription.Close.
func (c *Channel) unsubscribe(id uint64) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// reportDrops publishes the warn log event noting how many events a slow
// subscription lost. Failures here only mean the channel is draining.
func (c *Channel) reportDrops(pid string, dropped int64) {
	err := c.Publish(models.Event{
		Kind:      models.KindLog,
		ProcessID: pid,
		Level:     models.LogLevelWarn,
		Text:      fmt.Sprintf("slow subscriber: dropped %d event(s)", dropped),
	})
	if err != nil {
		c.log.Warn().Str("process_id", pid).Int64("dropped", dropped).Msg("slow subscriber dropped events during drain")
	}
}
