package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
	NewTicker(d time.Duration) clockwork.Ticker
	AfterFunc(d time.Duration, f func()) clockwork.Timer
}

// Real returns the wall clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// Remaining returns the whole seconds left on a countdown that started at
// startedAt and lasts durationSeconds. It never goes below zero, and a start
// time in the future counts as zero elapsed.
func Remaining(now, startedAt time.Time, durationSeconds int) int {
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	left := durationSeconds - int(elapsed/time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// StopAndDrain stops a timer and drains its channel if it already fired.
func StopAndDrain(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
