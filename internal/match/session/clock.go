package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// MinuteFunc receives the new minute after every advance.
type MinuteFunc func(minute int)

// Clock is the single logical minute counter of a match. While running, a
// periodic tick advances it by one minute; pausing stops further ticks
// without losing the current minute. All methods are safe for concurrent
// use, though a session drives the clock from a single goroutine.
type Clock struct {
	mu      sync.Mutex
	minute  int
	running bool
	stopCh  chan struct{}

	clock    clockwork.Clock
	interval time.Duration
	subs     []MinuteFunc
}

// NewClock creates a stopped clock at minute zero. interval is the wall
// duration of one logical minute; tests pass a clockwork.FakeClock.
func NewClock(c clockwork.Clock, interval time.Duration) *Clock {
	return &Clock{clock: c, interval: interval}
}

// Subscribe registers fn to be called after every advance. Must be called
// before Start.
func (c *Clock) Subscribe(fn MinuteFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// State returns the current minute and running flag.
func (c *Clock) State() models.ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.ClockState{Minute: c.minute, Running: c.running}
}

// Start begins ticking. No-op if already running.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	go c.run(c.stopCh)
	log.Debug().Int("minute", c.minute).Msg("clock started")
}

// Pause stops future ticks, preserving the current minute. No-op if the
// clock is not running.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
	c.stopCh = nil
	log.Debug().Int("minute", c.minute).Msg("clock paused")
}

// Advance moves the minute counter forward by one and republishes it.
// It is a no-op when the clock is not running; the minute never moves
// while paused.
func (c *Clock) Advance() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.minute++
	minute := c.minute
	subs := c.subs
	c.mu.Unlock()

	for _, fn := range subs {
		fn(minute)
	}
}

// ResetForSecondHalf sets the minute back to zero. The clock must be
// paused first; the halftime transition takes care of that.
func (c *Clock) ResetForSecondHalf() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return guardErr(models.PhaseHalftime, "resetForSecondHalf while running")
	}
	c.minute = 0
	return nil
}

// restore rewinds the clock to a previously captured state. Used when a
// phase transition is rolled back after a permanent storage rejection.
func (c *Clock) restore(state models.ClockState) {
	c.mu.Lock()
	wasRunning := c.running
	c.minute = state.Minute
	c.mu.Unlock()

	if wasRunning && !state.Running {
		c.Pause()
	} else if !wasRunning && state.Running {
		c.Start()
	}
}

func (c *Clock) run(stop chan struct{}) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.Advance()
		}
	}
}
