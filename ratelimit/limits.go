package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/rulecore/errors"
)

// Window is one capacity per period pair
type Window struct {
	Capacity int
	Period   time.Duration
}

// ParseWindows parses "capacity:seconds[,capacity:seconds...]". Blank input
// yields no windows.
func ParseWindows(config string) ([]Window, error) {
	config = strings.TrimSpace(config)
	if config == "" {
		return nil, nil
	}

	var windows []Window
	for _, part := range strings.Split(config, ",") {
		capStr, secStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, invalidLimit(config, "missing ':' in %q", part)
		}
		capacity, err := strconv.Atoi(strings.TrimSpace(capStr))
		if err != nil || capacity <= 0 {
			return nil, invalidLimit(config, "bad capacity %q", capStr)
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(secStr))
		if err != nil || seconds <= 0 {
			return nil, invalidLimit(config, "bad period %q", secStr)
		}
		windows = append(windows, Window{Capacity: capacity, Period: time.Duration(seconds) * time.Second})
	}
	return windows, nil
}

func invalidLimit(config, format string, args ...any) error {
	err := fmt.Errorf("%w: %q: %s", errors.ErrInvalidRateLimit, config, fmt.Sprintf(format, args...))
	return errors.WrapInvalid(err, "ratelimit", "ParseWindows", "parse limit")
}

// Limits is a set of token buckets that must all admit an event
type Limits struct {
	config   string
	windows  []Window
	limiters []*rate.Limiter
	now      func() time.Time

	mu sync.Mutex
}

// NewLimits parses config and creates full buckets
func NewLimits(config string) (*Limits, error) {
	return newLimits(config, time.Now)
}

// NewLimitsWithClock is NewLimits with an injected clock
func NewLimitsWithClock(config string, now func() time.Time) (*Limits, error) {
	return newLimits(config, now)
}

func newLimits(config string, now func() time.Time) (*Limits, error) {
	windows, err := ParseWindows(config)
	if err != nil {
		return nil, err
	}
	l := &Limits{config: config, windows: windows, now: now}
	for _, w := range windows {
		refill := rate.Limit(float64(w.Capacity) / w.Period.Seconds())
		l.limiters = append(l.limiters, rate.NewLimiter(refill, w.Capacity))
	}
	return l, nil
}

// Config returns the limit string the buckets were built from
func (l *Limits) Config() string {
	return l.config
}

// Windows returns the parsed windows
func (l *Limits) Windows() []Window {
	return append([]Window(nil), l.windows...)
}

// TryConsume takes one token from every window
func (l *Limits) TryConsume() bool {
	return l.TryConsumeN(1)
}

// TryConsumeN takes n tokens from every window, or none when any window is
// short.
func (l *Limits) TryConsumeN(n int) bool {
	if len(l.limiters) == 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	reservations := make([]*rate.Reservation, 0, len(l.limiters))
	for _, lim := range l.limiters {
		r := lim.ReserveN(now, n)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, prev := range reservations {
				prev.CancelAt(now)
			}
			return false
		}
		reservations = append(reservations, r)
	}
	return true
}
