package client

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// countdown tracks the final-round deadline locally. The display is purely
// cosmetic; the server's own timer is authoritative. At the deadline the
// coordinator force-submits whatever the player has (an empty answer if
// nothing), and the submitter's per-question guard keeps the forced send
// from doubling up with a manual one.
type countdown struct {
	deadline time.Time
	timer    *time.Timer
	once     sync.Once
}

func newCountdown(deadline time.Time, fire func()) *countdown {
	cd := &countdown{deadline: deadline}
	cd.timer = time.AfterFunc(time.Until(deadline), func() {
		cd.once.Do(fire)
	})
	return cd
}

func (cd *countdown) stop() {
	cd.timer.Stop()
	cd.once.Do(func() {})
}

// remaining returns the time left, floored at zero.
func (cd *countdown) remaining() time.Duration {
	d := time.Until(cd.deadline)
	if d < 0 {
		return 0
	}
	return d
}

func (c *Coordinator) startCountdown(questionID string, deadline time.Time) {
	c.mu.Lock()
	if c.countdown != nil {
		c.countdown.stop()
	}
	cd := newCountdown(deadline, func() { c.onFinalDeadline(questionID) })
	c.countdown = cd
	c.mu.Unlock()
}

func (c *Coordinator) stopCountdown() {
	c.mu.Lock()
	if c.countdown != nil {
		c.countdown.stop()
		c.countdown = nil
	}
	c.mu.Unlock()
}

// FinalTimeRemaining is zero when no final countdown is running.
func (c *Coordinator) FinalTimeRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.countdown == nil {
		return 0
	}
	return c.countdown.remaining()
}

func (c *Coordinator) onFinalDeadline(questionID string) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	// Guarded: if the player already answered this question the submitter
	// short-circuits before the network.
	if _, err := c.submit.SubmitAnswer(ctx, c.cfg.SessionID, questionID, ""); err != nil {
		c.log.Warn("forced final submission failed", zap.Error(err))
	}
	c.notify()
}
