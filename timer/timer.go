// Package timer implements a single cancellable liveness timeout per
// replica, plus a secondary one-shot timer that detects NewView loss
// during view change. Both use the same reset-on-activity,
// fire-into-chan controller.
package timer

import "time"

// Controller fires on a channel after duration with no Reset call, and
// can be cancelled. Cancelling an already-fired timer is a no-op.
type Controller struct {
	duration time.Duration
	timer    *time.Timer
	C        <-chan time.Time
}

// New starts a Controller armed for duration. C receives a value when the
// timer fires.
func New(duration time.Duration) *Controller {
	t := time.NewTimer(duration)
	return &Controller{duration: duration, timer: t, C: t.C}
}

// Reset re-arms the timer for another full duration, as happens on every
// validated inbound protocol message.
func (c *Controller) Reset() {
	if !c.timer.Stop() {
		drain(c.timer)
	}
	c.timer.Reset(c.duration)
}

// Stop cancels the timer. Safe to call more than once or after it has
// already fired.
func (c *Controller) Stop() {
	if !c.timer.Stop() {
		drain(c.timer)
	}
}

func drain(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
