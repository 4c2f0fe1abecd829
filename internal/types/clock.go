package types

import (
	"sync/atomic"
	"time"
)

var timeNow atomic.Value

func init() {
	RestoreTimeNow()
}

// Now returns the current time from the swappable clock.
func Now() time.Time {
	return timeNow.Load().(func() time.Time)()
}

// SetTimeNowFn replaces the clock. Used in tests only.
func SetTimeNowFn(f func() time.Time) {
	timeNow.Store(f)
}

func RestoreTimeNow() {
	timeNow.Store(time.Now)
}
