package clock

import (
	"context"
	"sync"
	"time"
)

// Countdown tracks one attempt deadline. It emits the remaining time on every
// tick and closes Expired once the deadline is reached. A Countdown fires at
// most once; re-arming means creating a new one from the authoritative deadline.
type Countdown struct {
	clock    Clock
	deadline time.Time
	interval time.Duration

	ticks   chan time.Duration
	expired chan struct{}
	stop    chan struct{}

	stopOnce   sync.Once
	expireOnce sync.Once
}

// NewCountdown creates a countdown to deadline that samples c every interval.
func NewCountdown(c Clock, deadline time.Time, interval time.Duration) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{
		clock:    c,
		deadline: deadline,
		interval: interval,
		ticks:    make(chan time.Duration, 1),
		expired:  make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// Deadline returns the instant the countdown expires at.
func (cd *Countdown) Deadline() time.Time { return cd.deadline }

// Remaining returns the time left, never negative.
func (cd *Countdown) Remaining() time.Duration {
	left := cd.deadline.Sub(cd.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Ticks delivers the remaining time. Slow readers miss ticks rather than
// stall the countdown.
func (cd *Countdown) Ticks() <-chan time.Duration { return cd.ticks }

// Expired is closed when the deadline is reached.
func (cd *Countdown) Expired() <-chan struct{} { return cd.expired }

// Start runs the countdown until expiry, Stop, or ctx cancellation.
func (cd *Countdown) Start(ctx context.Context) {
	go cd.run(ctx)
}

// Stop halts the countdown without firing Expired.
func (cd *Countdown) Stop() {
	cd.stopOnce.Do(func() { close(cd.stop) })
}

func (cd *Countdown) run(ctx context.Context) {
	if cd.check() {
		return
	}

	ticker := time.NewTicker(cd.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cd.stop:
			return
		case <-ticker.C:
			if cd.check() {
				return
			}
		}
	}
}

// check emits a tick and reports whether the deadline has been reached.
func (cd *Countdown) check() bool {
	left := cd.Remaining()
	if left <= 0 {
		cd.expireOnce.Do(func() { close(cd.expired) })
		return true
	}
	select {
	case cd.ticks <- left:
	default:
	}
	return false
}
