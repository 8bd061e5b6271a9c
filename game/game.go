// Package game implements the timed scavenger-hunt session.
//
// A session is either Inactive or Active. Starting a game resets the score and skips,
// arms a countdown and draws a random target. The countdown ticks once per second and
// ends the game when it reaches zero. Skips and matches are accepted in either state but
// only count toward the score while a game is Active.
package game

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/scavenger-hunt/catalog"
	"github.com/viamrobotics/scavenger-hunt/detection"
	"github.com/viamrobotics/scavenger-hunt/utils"
)

// Defaults for Config.
const (
	DefaultDuration     = 5 * time.Minute
	DefaultTickInterval = time.Second
)

// ErrUnknownTarget is returned when selecting a target that is not in the catalog.
var ErrUnknownTarget = errors.New("target is not in the object catalog")

// Event names a state transition.
type Event string

// Events emitted to OnChange listeners.
const (
	EventStarted  Event = "started"
	EventEnded    Event = "ended"
	EventExpired  Event = "expired"
	EventTick     Event = "tick"
	EventSkipped  Event = "skipped"
	EventMatched  Event = "matched"
	EventSelected Event = "selected"
)

// State is a snapshot of a session.
type State struct {
	Active        bool             `json:"active"`
	Score         int              `json:"score"`
	TotalFound    int              `json:"total_found"`
	SkipCount     int              `json:"skip_count"`
	TimeRemaining int              `json:"time_remaining"`
	Target        string           `json:"target"`
	TargetSource  detection.Source `json:"target_source"`
}

// Clock returns the remaining time formatted as MM:SS.
func (s State) Clock() string {
	return FormatTime(s.TimeRemaining)
}

// FormatTime formats seconds as zero padded MM:SS.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Config controls game length and the time and randomness sources.
type Config struct {
	Duration     time.Duration
	TickInterval time.Duration
	Clock        clock.Clock
	Rand         *rand.Rand
}

// Session is the game state machine. It owns its countdown timer.
type Session struct {
	catalog *catalog.Catalog
	cfg     Config
	logger  logging.Logger

	mu        sync.Mutex
	state     State
	timer     *utils.StoppableWorkers
	timerGen  uint64
	closed    bool
	listeners []func(Event, State)
}

// New returns an Inactive session with an initial target drawn from cat.
func New(cat *catalog.Catalog, cfg Config, logger logging.Logger) *Session {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	s := &Session{catalog: cat, cfg: cfg, logger: logger}
	s.pickTargetLocked()
	return s
}

// OnChange registers fn to be called after every transition, outside the session lock.
func (s *Session) OnChange(fn func(Event, State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a new game from any state.
func (s *Session) Start() State {
	s.mu.Lock()
	old := s.disarmLocked()
	s.state.Active = true
	s.state.Score = 0
	s.state.SkipCount = 0
	s.state.TimeRemaining = int(s.cfg.Duration / time.Second)
	s.pickTargetLocked()
	if !s.closed {
		s.armLocked()
	}
	return s.finish(EventStarted, old)
}

// End stops the current game immediately.
func (s *Session) End() State {
	s.mu.Lock()
	old := s.disarmLocked()
	s.state.Active = false
	s.state.TimeRemaining = 0
	return s.finish(EventEnded, old)
}

// Skip draws a new target. The skip only counts while a game is Active.
func (s *Session) Skip() State {
	s.mu.Lock()
	if s.state.Active {
		s.state.SkipCount++
	}
	s.pickTargetLocked()
	return s.finish(EventSkipped, nil)
}

// Match records that the current target was found and draws a new one. The score only
// changes while a game is Active; the total found always does.
func (s *Session) Match() State {
	s.mu.Lock()
	s.state.TotalFound++
	if s.state.Active {
		s.state.Score++
	}
	s.pickTargetLocked()
	return s.finish(EventMatched, nil)
}

// Select makes name the current target. The name is matched against the catalog
// without regard to case and the catalog spelling becomes the target.
func (s *Session) Select(name string) (State, error) {
	target, ok := s.catalog.Lookup(name)
	if !ok {
		return s.Snapshot(), errors.Wrapf(ErrUnknownTarget, "%q", name)
	}
	s.mu.Lock()
	s.setTargetLocked(target)
	return s.finish(EventSelected, nil), nil
}

// Close cancels the countdown. The session can still be read afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	old := s.disarmLocked()
	s.mu.Unlock()
	old.Stop()
}

// tick advances the countdown of timer generation gen by one second. It reports whether
// the timer should keep running.
func (s *Session) tick(gen uint64) bool {
	s.mu.Lock()
	if gen != s.timerGen || !s.state.Active {
		s.mu.Unlock()
		return false
	}
	s.state.TimeRemaining--
	if s.state.TimeRemaining > 0 {
		s.finish(EventTick, nil)
		return true
	}
	s.state.TimeRemaining = 0
	s.state.Active = false
	s.timerGen++
	state := s.finish(EventExpired, nil)
	s.logger.Infow("game over", "score", state.Score, "skips", state.SkipCount)
	return false
}

func (s *Session) armLocked() {
	s.timerGen++
	gen := s.timerGen
	s.timer = utils.NewTickerWorker(s.cfg.Clock, s.cfg.TickInterval, func(context.Context) bool {
		return s.tick(gen)
	})
}

// disarmLocked detaches the running timer and returns it so the caller can stop it
// after releasing the lock.
func (s *Session) disarmLocked() *utils.StoppableWorkers {
	s.timerGen++
	old := s.timer
	s.timer = nil
	return old
}

func (s *Session) pickTargetLocked() {
	s.setTargetLocked(s.catalog.Pick(s.cfg.Rand))
}

func (s *Session) setTargetLocked(name string) {
	s.state.Target = name
	s.state.TargetSource = s.catalog.Source(name)
}

// finish releases the lock held by the caller, stops a detached timer and notifies
// listeners.
func (s *Session) finish(ev Event, stale *utils.StoppableWorkers) State {
	state := s.state
	listeners := append([]func(Event, State){}, s.listeners...)
	s.mu.Unlock()

	stale.Stop()
	if ev != EventTick {
		s.logger.Debugw("game state changed", "event", ev, "target", state.Target, "active", state.Active)
	}
	for _, fn := range listeners {
		fn(ev, state)
	}
	return state
}
