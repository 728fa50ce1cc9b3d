package session

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/assafshtengel/matchtrack/internal/match/stats"
	matchsync "github.com/assafshtengel/matchtrack/internal/match/sync"
	"github.com/assafshtengel/matchtrack/internal/models"
)

// ViewFunc receives the rebuilt aggregate view after every log change.
type ViewFunc func(view stats.AggregateView)

// ErrorFunc receives asynchronous failures surfaced by the sync layer,
// such as a permanent rejection of an optimistic write.
type ErrorFunc func(err error)

// AppendRequest describes one event to log. ID may be set by the client
// for retry idempotency across reconnects; a nil ID gets a fresh UUID.
type AppendRequest struct {
	ID         uuid.UUID
	Kind       models.EventKind
	ActionRef  string
	Result     models.ActionResult
	Note       string
	PlayerOut  string
	PlayerIn   string
	Undoes     *uuid.UUID
	RecordedBy models.Observer
}

// Config tunes one match session engine.
type Config struct {
	// MinuteInterval is the wall duration of one logical match minute.
	MinuteInterval time.Duration
	Sync           matchsync.Config
}

func DefaultConfig() Config {
	return Config{
		MinuteInterval: time.Minute,
		Sync:           matchsync.DefaultConfig(),
	}
}

type phaseRollback struct {
	prevPhase models.Phase
	prevClock models.ClockState
}

// Engine is the match session engine: one instance per open match per
// process. Public operations validate against the phase state machine,
// apply optimistically, and hand durable writes to the sync coordinator.
// Convergence with other sessions of the same match comes from id-keyed
// merging plus deterministic replay ordering, not from locking.
type Engine struct {
	matchID  uuid.UUID
	settings models.MatchSettings

	mu        stdsync.Mutex
	phase     models.Phase
	rollbacks map[models.Phase]phaseRollback

	clock *Clock
	log   *Log
	coord *matchsync.Coordinator

	viewSubs []ViewFunc
	errSubs  []ErrorFunc
}

// NewEngine builds an engine for a match in the given starting phase.
// feed may be nil when no other session can write this match.
func NewEngine(match *models.Match, store matchsync.Store, feed matchsync.RemoteFeed, clk clockwork.Clock, cfg Config) *Engine {
	if cfg.MinuteInterval <= 0 {
		cfg.MinuteInterval = DefaultConfig().MinuteInterval
	}
	e := &Engine{
		matchID:   match.ID,
		settings:  match.Settings,
		phase:     match.Phase,
		rollbacks: make(map[models.Phase]phaseRollback),
		clock:     NewClock(clk, cfg.MinuteInterval),
		log:       NewLog(),
	}
	e.coord = matchsync.NewCoordinator(match.ID, store, e, feed, clk, cfg.Sync)
	return e
}

// Run drives the sync coordinator until ctx is done. It first resyncs
// committed history from storage and resends any entries still pending
// from a previous session of this client, keyed by their original ids so
// nothing is lost or duplicated.
func (e *Engine) Run(ctx context.Context) {
	if _, err := e.coord.Resync(ctx, 0); err != nil {
		log.Error().Err(err).Str("match_id", e.matchID.String()).Msg("initial resync failed")
	}
	for _, entry := range e.log.Pending() {
		e.coord.EnqueueEvent(entry.Event)
	}
	e.coord.Run(ctx)
}

// MatchID returns the id of the match this engine drives.
func (e *Engine) MatchID() uuid.UUID { return e.matchID }

// CurrentPhase returns the match's current phase.
func (e *Engine) CurrentPhase() models.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Clock returns the current clock state. During halftime the clock is
// frozen at the last live minute.
func (e *Engine) Clock() models.ClockState {
	return e.clock.State()
}

// Subscribe registers fn for aggregate view updates.
func (e *Engine) Subscribe(fn ViewFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewSubs = append(e.viewSubs, fn)
}

// SubscribeMinutes registers fn for clock minute advances. Register
// before the match starts; the clock only publishes while running.
func (e *Engine) SubscribeMinutes(fn MinuteFunc) {
	e.clock.Subscribe(fn)
}

// SubscribeErrors registers fn for asynchronous sync failures.
func (e *Engine) SubscribeErrors(fn ErrorFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errSubs = append(e.errSubs, fn)
}

// RequestTransition applies a phase transition optimistically and hands
// the durable phase write to the coordinator. A permanent rejection of
// that write rolls the phase and clock back to their prior state.
func (e *Engine) RequestTransition(t Transition) (models.Phase, error) {
	e.mu.Lock()
	next, err := NextPhase(e.phase, t)
	if err != nil {
		e.mu.Unlock()
		return e.phase, err
	}

	prev := phaseRollback{prevPhase: e.phase, prevClock: e.clock.State()}
	if err := applyClockEffects(t, e.clock); err != nil {
		e.mu.Unlock()
		return prev.prevPhase, err
	}
	e.phase = next
	e.rollbacks[next] = prev
	e.mu.Unlock()

	log.Info().
		Str("match_id", e.matchID.String()).
		Str("transition", string(t)).
		Str("phase", string(next)).
		Msg("phase transition applied")

	e.coord.EnqueuePhase(next)
	return next, nil
}

// Append validates the phase guard, stores the event locally as Pending,
// and hands it to the coordinator. It never blocks on the network: the
// optimistic entry is visible in the aggregate immediately.
func (e *Engine) Append(req AppendRequest) (uuid.UUID, error) {
	e.mu.Lock()
	phase := e.phase
	e.mu.Unlock()

	if !AllowsAppend(phase) {
		return uuid.Nil, guardErr(phase, "append "+string(req.Kind))
	}

	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	event := models.Event{
		ID:         id,
		MatchID:    e.matchID,
		Kind:       req.Kind,
		Minute:     e.clock.State().Minute,
		ActionRef:  req.ActionRef,
		Result:     req.Result,
		Note:       req.Note,
		PlayerOut:  req.PlayerOut,
		PlayerIn:   req.PlayerIn,
		Undoes:     req.Undoes,
		RecordedBy: req.RecordedBy,
		CreatedAt:  time.Now().UTC(),
	}

	if !e.log.Append(event) {
		// Same client id retried; the original entry stands.
		return id, nil
	}

	e.coord.EnqueueEvent(event)
	e.notifyView()
	return id, nil
}

// LogAction records one action attempt.
func (e *Engine) LogAction(actionRef string, result models.ActionResult, note string, by models.Observer) (uuid.UUID, error) {
	return e.Append(AppendRequest{
		Kind:       models.EventKindAction,
		ActionRef:  actionRef,
		Result:     result,
		Note:       note,
		RecordedBy: by,
	})
}

// LogNote records a free-text note.
func (e *Engine) LogNote(text string, by models.Observer) (uuid.UUID, error) {
	return e.Append(AppendRequest{
		Kind:       models.EventKindNote,
		Note:       text,
		RecordedBy: by,
	})
}

// LogSubstitution records a player substitution. Either side may be empty
// (a player coming on with nobody off, or vice versa).
func (e *Engine) LogSubstitution(playerOut, playerIn string, by models.Observer) (uuid.UUID, error) {
	return e.Append(AppendRequest{
		Kind:       models.EventKindSubstitution,
		PlayerOut:  playerOut,
		PlayerIn:   playerIn,
		RecordedBy: by,
	})
}

// Undo appends a tombstone for a previously logged event. The log stays
// append-only; replay excludes both the tombstone and its target.
func (e *Engine) Undo(target uuid.UUID, by models.Observer) (uuid.UUID, error) {
	if _, ok := e.log.Get(target); !ok {
		return uuid.Nil, &GuardViolation{Phase: e.CurrentPhase(), Op: "undo unknown event"}
	}
	return e.Append(AppendRequest{
		Kind:       models.EventKindTombstone,
		Undoes:     &target,
		RecordedBy: by,
	})
}

// AggregateView rebuilds the derived statistics from the current log.
func (e *Engine) AggregateView() stats.AggregateView {
	return stats.Replay(e.log.Snapshot())
}

// HalftimeSummary replays first-half entries only.
func (e *Engine) HalftimeSummary() stats.Summary {
	return stats.HalftimeSummary(e.log.Snapshot(), e.settings.HalfLengthMin)
}

// FinalSummary replays the whole log, substitutions and notes included.
func (e *Engine) FinalSummary() stats.Summary {
	return stats.FinalSummary(e.log.Snapshot())
}

// LogLen reports the number of log entries, rejected ones included.
func (e *Engine) LogLen() int { return e.log.Len() }

// Sink implementation: callbacks from the sync coordinator.

func (e *Engine) OnEventCommitted(id uuid.UUID, seq int64) {
	if e.log.MarkCommitted(id, seq) {
		e.notifyView()
	}
}

func (e *Engine) OnEventRejected(id uuid.UUID, err error) {
	if e.log.MarkRejected(id) {
		e.notifyView()
	}
	e.notifyError(err)
}

func (e *Engine) OnPhaseCommitted(phase models.Phase) {
	e.mu.Lock()
	delete(e.rollbacks, phase)
	e.mu.Unlock()
}

func (e *Engine) OnPhaseRejected(phase models.Phase, err error) {
	e.mu.Lock()
	rb, ok := e.rollbacks[phase]
	if ok {
		delete(e.rollbacks, phase)
		// Only rewind if the session still sits in the rejected phase. If
		// it already advanced, the store accepted a later transition and
		// rolling back now would disagree with it.
		if e.phase != phase {
			ok = false
		} else {
			e.phase = rb.prevPhase
		}
	}
	e.mu.Unlock()

	if ok {
		e.clock.restore(rb.prevClock)
		log.Warn().
			Err(err).
			Str("match_id", e.matchID.String()).
			Str("rejected_phase", string(phase)).
			Str("restored_phase", string(rb.prevPhase)).
			Msg("phase transition rolled back")
	}
	e.notifyError(err)
}

func (e *Engine) OnRemoteEvent(event models.Event, seq int64) {
	if e.log.Merge(event, seq) {
		e.notifyView()
	}
}

// OnRemotePhase adopts a phase committed by another session. Phases only
// move forward; a stale or duplicate push is ignored. Clock effects mirror
// what the remote transition did so both sessions stay usable.
func (e *Engine) OnRemotePhase(phase models.Phase) {
	e.mu.Lock()
	if phaseIndex(phase) <= phaseIndex(e.phase) {
		e.mu.Unlock()
		return
	}
	e.phase = phase
	e.mu.Unlock()

	switch phase {
	case models.PhasePlaying:
		e.clock.Start()
	case models.PhaseHalftime, models.PhaseEnded:
		e.clock.Pause()
	case models.PhaseSecondHalf:
		e.clock.Pause()
		if err := e.clock.ResetForSecondHalf(); err == nil {
			e.clock.Start()
		}
	}

	log.Info().
		Str("match_id", e.matchID.String()).
		Str("phase", string(phase)).
		Msg("adopted remote phase change")
}

func phaseIndex(p models.Phase) int {
	switch p {
	case models.PhasePreview:
		return 0
	case models.PhaseObserverSelection:
		return 1
	case models.PhasePlaying:
		return 2
	case models.PhaseHalftime:
		return 3
	case models.PhaseSecondHalf:
		return 4
	case models.PhaseEnded:
		return 5
	default:
		return -1
	}
}

func (e *Engine) notifyView() {
	e.mu.Lock()
	subs := e.viewSubs
	e.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	view := e.AggregateView()
	for _, fn := range subs {
		fn(view)
	}
}

func (e *Engine) notifyError(err error) {
	e.mu.Lock()
	subs := e.errSubs
	e.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}
