package node

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Clock is the uptime counter.
type Clock interface {
	Millis() uint64
}

// Indicator is the blink LED.
type Indicator interface {
	Set(on bool)
}

// Uptime counts milliseconds since it was created, on the monotonic clock.
type Uptime struct {
	start time.Time
}

// NewUptime starts counting now.
func NewUptime() *Uptime {
	return &Uptime{start: time.Now()}
}

func (u *Uptime) Millis() uint64 {
	return uint64(time.Since(u.start).Milliseconds())
}

// LED keeps the indicator state and logs transitions at trace level.
type LED struct {
	mu      sync.Mutex
	on      bool
	toggles uint64
	log     zerolog.Logger
}

// NewLED returns an LED that starts off.
func NewLED(log zerolog.Logger) *LED {
	return &LED{log: log}
}

func (l *LED) Set(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on != l.on {
		l.toggles++
	}
	l.on = on
	l.log.Trace().Bool("on", on).Msg("LED")
}

// On returns the current state.
func (l *LED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// Toggles returns the number of state changes so far.
func (l *LED) Toggles() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.toggles
}
