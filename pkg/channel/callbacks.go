package channel

import (
	"github.com/actflow/actflow/pkg/models"
)

// Callback is invoked on channel-owned worker goroutines. Callbacks must
// not block indefinitely; long-running work should be handed off to
// caller-owned concurrency.
type Callback func(models.Event)

// OnEvent registers a callback for every event matching the filter.
// A panicking callback terminates only its own subscription; an error log
// event is emitted and other subscribers are unaffected.
func (c *Channel) OnEvent(filter Filter, fn Callback) *Subscription {
	sub := c.Subscribe(filter)
	go c.runCallback(sub, fn)
	return sub
}

// OnComplete registers a callback for process completion events. An empty
// pid subscribes across all processes.
func (c *Channel) OnComplete(pid string, fn Callback) *Subscription {
	return c.OnEvent(Filter{
		ProcessID: pid,
		Kinds:     []models.EventKind{models.KindProcessCompleted},
	}, fn)
}

// OnError registers a callback for node and process failure events.
func (c *Channel) OnError(pid string, fn Callback) *Subscription {
	return c.OnEvent(Filter{
		ProcessID: pid,
		Kinds:     []models.EventKind{models.KindNodeFailed, models.KindProcessFailed},
	}, fn)
}

// OnLog registers a callback for log events.
func (c *Channel) OnLog(pid string, fn Callback) *Subscription {
	return c.OnEvent(Filter{
		ProcessID: pid,
		Kinds:     []models.EventKind{models.KindLog},
	}, fn)
}

// runCallback consumes the subscription and invokes the callback with
// panic isolation.
func (c *Channel) runCallback(sub *Subscription, fn Callback) {
	for ev := range sub.Events() {
		if !c.invoke(sub, fn, ev) {
			return
		}
	}
}

// invoke calls fn and reports whether the subscription should keep running.
func (c *Channel) invoke(sub *Subscription, fn Callback, ev models.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			sub.Close()
			c.log.Error().Interface("panic", r).Str("process_id", ev.ProcessID).Msg("subscriber callback panicked; subscription terminated")
			_ = c.Publish(models.Event{
				Kind:      models.KindLog,
				ProcessID: ev.ProcessID,
				Level:     models.LogLevelError,
				Text:      "subscriber callback panicked; subscription terminated",
			})
		}
	}()

	fn(ev)
	return true
}
