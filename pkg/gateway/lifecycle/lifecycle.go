// Package lifecycle holds the gateway's process phase. Readiness and the
// coaching socket consult it so new calls stop landing on a draining node.
package lifecycle

import (
	"sync/atomic"
	"time"
)

type Lifecycle struct {
	// drainingSince is unix nanoseconds, or 0 while serving.
	drainingSince atomic.Int64
	now           func() time.Time
}

// SetDraining enters or leaves the draining phase. Entering twice keeps the
// original start time.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if !draining {
		l.drainingSince.Store(0)
		return
	}
	l.drainingSince.CompareAndSwap(0, l.clock().UnixNano())
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.drainingSince.Load() != 0
}

// DrainingSince reports when draining began.
func (l *Lifecycle) DrainingSince() (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	ns := l.drainingSince.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns).UTC(), true
}

func (l *Lifecycle) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}
