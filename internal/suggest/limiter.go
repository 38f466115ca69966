package suggest

import (
	"sync"
	"time"
)

// Limiter is a sliding-window limit over one minute and one hour.
type Limiter struct {
	PerMinute int
	PerHour   int
	Now       func() time.Time

	mu   sync.Mutex
	hits []time.Time
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow records a call and reports whether it fits both windows.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	hourAgo := now.Add(-time.Hour)
	keep := l.hits[:0]
	for _, t := range l.hits {
		if t.After(hourAgo) {
			keep = append(keep, t)
		}
	}
	l.hits = keep

	minuteAgo := now.Add(-time.Minute)
	lastMinute := 0
	for _, t := range l.hits {
		if t.After(minuteAgo) {
			lastMinute++
		}
	}
	if (l.PerMinute > 0 && lastMinute >= l.PerMinute) || (l.PerHour > 0 && len(l.hits) >= l.PerHour) {
		return false
	}
	l.hits = append(l.hits, now)
	return true
}

// Remaining returns how many calls the tighter window still allows.
func (l *Limiter) Remaining() (minute, hour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var m, h int
	for _, t := range l.hits {
		if t.After(now.Add(-time.Hour)) {
			h++
			if t.After(now.Add(-time.Minute)) {
				m++
			}
		}
	}
	return max(0, l.PerMinute-m), max(0, l.PerHour-h)
}
