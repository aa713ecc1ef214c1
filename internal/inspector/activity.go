package inspector

import (
	"sync/atomic"
	"time"
)

// Activity records when the last inspection started. Its Active method is
// the freshness predicate the pool consults before sending keep-alives.
type Activity struct {
	last   atomic.Int64
	window time.Duration
	now    func() time.Time
}

// NewActivity returns a tracker that stays active for window after each Touch.
func NewActivity(window time.Duration) *Activity {
	return &Activity{window: window, now: time.Now}
}

// Touch marks the pool as in use.
func (a *Activity) Touch() {
	a.last.Store(a.now().UnixNano())
}

// Active reports whether Touch was called within the window.
func (a *Activity) Active() bool {
	last := a.last.Load()
	if last == 0 {
		return false
	}
	return a.now().Sub(time.Unix(0, last)) <= a.window
}
