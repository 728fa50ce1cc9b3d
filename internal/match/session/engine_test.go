package session_test

import (
	"context"
	"errors"
	"sort"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/smartystreets/goconvey/convey"

	"github.com/assafshtengel/matchtrack/internal/match/session"
	matchsync "github.com/assafshtengel/matchtrack/internal/match/sync"
	"github.com/assafshtengel/matchtrack/internal/models"
)

// fakeStore is an in-memory sync.Store with injectable failures. Setting
// phaseGate makes UpsertPhase wait until the channel is closed, so tests
// can hold phase writes while the session moves on.
type fakeStore struct {
	mu            stdsync.Mutex
	nextSeq       int64
	events        map[uuid.UUID]matchsync.CommittedEvent
	phases        []models.Phase
	eventAttempts int

	phaseGate chan struct{}
	failEvent func(models.Event) error
	failPhase func(models.Phase) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[uuid.UUID]matchsync.CommittedEvent)}
}

func (s *fakeStore) UpsertEvent(ctx context.Context, event models.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventAttempts++
	if s.failEvent != nil {
		if err := s.failEvent(event); err != nil {
			return 0, err
		}
	}
	if existing, ok := s.events[event.ID]; ok {
		return existing.Seq, nil
	}
	s.nextSeq++
	s.events[event.ID] = matchsync.CommittedEvent{Event: event, Seq: s.nextSeq}
	return s.nextSeq, nil
}

func (s *fakeStore) UpsertPhase(ctx context.Context, matchID uuid.UUID, phase models.Phase) error {
	if s.phaseGate != nil {
		<-s.phaseGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPhase != nil {
		if err := s.failPhase(phase); err != nil {
			return err
		}
	}
	s.phases = append(s.phases, phase)
	return nil
}

func (s *fakeStore) ListSince(ctx context.Context, matchID uuid.UUID, cursor int64) ([]matchsync.CommittedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []matchsync.CommittedEvent
	for _, ce := range s.events {
		if ce.Seq > cursor {
			out = append(out, ce)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *fakeStore) committedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *fakeStore) eventAttemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventAttempts
}

func (s *fakeStore) recordedPhases() []models.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Phase(nil), s.phases...)
}

func testMatch(phase models.Phase) *models.Match {
	return &models.Match{
		ID:       uuid.New(),
		Opponent: "Hapoel",
		Observer: models.ObserverParent,
		Phase:    phase,
		Settings: models.MatchSettings{
			HalfLengthMin: 45,
			Actions: []models.TrackedAction{
				{Ref: "pass_forward", Name: "Forward pass", Goal: "10"},
				{Ref: "pressure", Name: "Pressing"},
			},
		},
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestEngine_AppendGuard(t *testing.T) {
	convey.Convey("Given a session still in Preview", t, func() {
		engine := session.NewEngine(testMatch(models.PhasePreview), newFakeStore(), nil,
			clockwork.NewFakeClock(), session.DefaultConfig())

		convey.Convey("When an action is logged", func() {
			_, err := engine.LogAction("pass_forward", models.ResultSuccess, "", models.ObserverParent)

			convey.Convey("Then the append is refused as a guard violation", func() {
				convey.So(errors.Is(err, session.ErrGuardViolation), convey.ShouldBeTrue)
				convey.So(engine.LogLen(), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestEngine_OptimisticAppendCommits(t *testing.T) {
	convey.Convey("Given a running session in Playing", t, func() {
		store := newFakeStore()
		engine := session.NewEngine(testMatch(models.PhasePlaying), store, nil,
			clockwork.NewFakeClock(), session.DefaultConfig())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go engine.Run(ctx)

		convey.Convey("When an action is logged", func() {
			id, err := engine.LogAction("pass_forward", models.ResultSuccess, "", models.ObserverParent)

			convey.Convey("Then it is visible immediately and committed shortly after", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(id, convey.ShouldNotEqual, uuid.Nil)
				convey.So(engine.LogLen(), convey.ShouldEqual, 1)

				view := engine.AggregateView()
				convey.So(view.PerAction["pass_forward"].Total, convey.ShouldEqual, 1)

				convey.So(eventually(func() bool { return store.committedCount() == 1 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the same append request id is retried", func() {
			id := uuid.New()
			req := session.AppendRequest{
				ID:         id,
				Kind:       models.EventKindAction,
				ActionRef:  "pressure",
				Result:     models.ResultFailure,
				RecordedBy: models.ObserverParent,
			}
			first, err1 := engine.Append(req)
			second, err2 := engine.Append(req)

			convey.Convey("Then both calls return the same id and one entry exists", func() {
				convey.So(err1, convey.ShouldBeNil)
				convey.So(err2, convey.ShouldBeNil)
				convey.So(first, convey.ShouldEqual, id)
				convey.So(second, convey.ShouldEqual, id)
				convey.So(engine.LogLen(), convey.ShouldEqual, 1)
			})
		})
	})
}

func TestEngine_PermanentRejectionSurfaces(t *testing.T) {
	convey.Convey("Given a store that permanently rejects events", t, func() {
		store := newFakeStore()
		store.failEvent = func(models.Event) error {
			return &matchsync.PermanentRejection{Reason: "minute out of range"}
		}

		engine := session.NewEngine(testMatch(models.PhasePlaying), store, nil,
			clockwork.NewFakeClock(), session.DefaultConfig())

		var errMu stdsync.Mutex
		var surfaced []error
		engine.SubscribeErrors(func(err error) {
			errMu.Lock()
			surfaced = append(surfaced, err)
			errMu.Unlock()
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go engine.Run(ctx)

		convey.Convey("When an action is logged", func() {
			_, err := engine.LogAction("pass_forward", models.ResultSuccess, "", models.ObserverParent)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the rejection reaches the error subscriber exactly once", func() {
				convey.So(eventually(func() bool {
					errMu.Lock()
					defer errMu.Unlock()
					return len(surfaced) == 1
				}), convey.ShouldBeTrue)

				convey.Convey("And the rejected entry no longer counts in the aggregate", func() {
					convey.So(eventually(func() bool {
						return engine.AggregateView().PerAction["pass_forward"].Total == 0
					}), convey.ShouldBeTrue)
					convey.So(engine.LogLen(), convey.ShouldEqual, 1)
				})
			})
		})
	})
}

func TestEngine_PreRunAppendSyncsOnce(t *testing.T) {
	convey.Convey("Given a store that permanently rejects events", t, func() {
		store := newFakeStore()
		store.failEvent = func(models.Event) error {
			return &matchsync.PermanentRejection{Reason: "minute out of range"}
		}

		engine := session.NewEngine(testMatch(models.PhasePlaying), store, nil,
			clockwork.NewFakeClock(), session.DefaultConfig())

		var errMu stdsync.Mutex
		var surfaced []error
		engine.SubscribeErrors(func(err error) {
			errMu.Lock()
			surfaced = append(surfaced, err)
			errMu.Unlock()
		})

		convey.Convey("When an action is logged before the session loop starts", func() {
			_, err := engine.LogAction("pass_forward", models.ResultSuccess, "", models.ObserverParent)
			convey.So(err, convey.ShouldBeNil)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go engine.Run(ctx)

			convey.Convey("Then the store is asked once and the rejection surfaces once", func() {
				convey.So(eventually(func() bool {
					errMu.Lock()
					defer errMu.Unlock()
					return len(surfaced) == 1
				}), convey.ShouldBeTrue)

				// Leave time for a duplicate enqueue from the pending
				// resend pass to reach the store, then confirm it never did.
				time.Sleep(50 * time.Millisecond)
				errMu.Lock()
				n := len(surfaced)
				errMu.Unlock()
				convey.So(n, convey.ShouldEqual, 1)
				convey.So(store.eventAttemptCount(), convey.ShouldEqual, 1)
			})
		})
	})
}

func TestEngine_StaleRejectionKeepsLaterPhase(t *testing.T) {
	convey.Convey("Given a store that refuses only the halftime phase write", t, func() {
		store := newFakeStore()
		store.phaseGate = make(chan struct{})
		store.failPhase = func(p models.Phase) error {
			if p == models.PhaseHalftime {
				return &matchsync.PermanentRejection{Reason: "halftime write refused"}
			}
			return nil
		}

		engine := session.NewEngine(testMatch(models.PhasePlaying), store, nil,
			clockwork.NewFakeClock(), session.DefaultConfig())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go engine.Run(ctx)

		convey.Convey("When the session reaches the second half before the store answers", func() {
			_, err := engine.RequestTransition(session.TransitionEndHalf)
			convey.So(err, convey.ShouldBeNil)
			_, err = engine.RequestTransition(session.TransitionStartSecondHalf)
			convey.So(err, convey.ShouldBeNil)
			convey.So(engine.CurrentPhase(), convey.ShouldEqual, models.PhaseSecondHalf)
			close(store.phaseGate)

			convey.Convey("Then the rejected halftime write does not rewind the session", func() {
				convey.So(eventually(func() bool {
					return len(store.recordedPhases()) == 1
				}), convey.ShouldBeTrue)
				convey.So(store.recordedPhases()[0], convey.ShouldEqual, models.PhaseSecondHalf)

				time.Sleep(50 * time.Millisecond)
				convey.So(engine.CurrentPhase(), convey.ShouldEqual, models.PhaseSecondHalf)
				convey.So(engine.Clock().Running, convey.ShouldBeTrue)
			})
		})
	})
}

func TestEngine_PhaseRollbackOnRejection(t *testing.T) {
	convey.Convey("Given a store that permanently rejects phase writes", t, func() {
		store := newFakeStore()
		store.failPhase = func(models.Phase) error {
			return &matchsync.PermanentRejection{Reason: "match archived"}
		}

		engine := session.NewEngine(testMatch(models.PhaseObserverSelection), store, nil,
			clockwork.NewFakeClock(), session.DefaultConfig())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go engine.Run(ctx)

		convey.Convey("When the confirm transition is requested", func() {
			phase, err := engine.RequestTransition(session.TransitionConfirm)

			convey.Convey("Then it applies optimistically and rolls back on rejection", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(phase, convey.ShouldEqual, models.PhasePlaying)

				convey.So(eventually(func() bool {
					return engine.CurrentPhase() == models.PhaseObserverSelection
				}), convey.ShouldBeTrue)

				convey.So(eventually(func() bool {
					return !engine.Clock().Running
				}), convey.ShouldBeTrue)
			})
		})
	})
}

func TestEngine_HalftimeFreezesMinuteStamp(t *testing.T) {
	convey.Convey("Given a match started from Preview on a fake clock", t, func() {
		fc := clockwork.NewFakeClock()
		cfg := session.DefaultConfig()
		store := newFakeStore()
		engine := session.NewEngine(testMatch(models.PhasePreview), store, nil, fc, cfg)

		_, err := engine.RequestTransition(session.TransitionStart)
		convey.So(err, convey.ShouldBeNil)

		fc.BlockUntil(1)
		fc.Advance(cfg.MinuteInterval)
		convey.So(eventually(func() bool { return engine.Clock().Minute == 1 }), convey.ShouldBeTrue)

		convey.Convey("When the half ends and a note is logged during the break", func() {
			_, err := engine.RequestTransition(session.TransitionEndHalf)
			convey.So(err, convey.ShouldBeNil)
			convey.So(engine.Clock().Running, convey.ShouldBeFalse)

			_, err = engine.LogNote("switch marking on their winger", models.ObserverParent)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the note carries the frozen last live minute", func() {
				view := engine.AggregateView()
				convey.So(len(view.Notes), convey.ShouldEqual, 1)
				convey.So(view.Notes[0].Minute, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the second half starts", func() {
			_, err := engine.RequestTransition(session.TransitionEndHalf)
			convey.So(err, convey.ShouldBeNil)
			_, err = engine.RequestTransition(session.TransitionStartSecondHalf)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the clock restarts from zero", func() {
				state := engine.Clock()
				convey.So(state.Minute, convey.ShouldEqual, 0)
				convey.So(state.Running, convey.ShouldBeTrue)
			})
		})
	})
}

func TestEngine_UndoTombstone(t *testing.T) {
	convey.Convey("Given a session with one logged action", t, func() {
		engine := session.NewEngine(testMatch(models.PhasePlaying), newFakeStore(), nil,
			clockwork.NewFakeClock(), session.DefaultConfig())

		id, err := engine.LogAction("pass_forward", models.ResultSuccess, "", models.ObserverParent)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When the action is undone", func() {
			tombstoneID, err := engine.Undo(id, models.ObserverParent)

			convey.Convey("Then replay excludes both the action and the tombstone", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(tombstoneID, convey.ShouldNotEqual, uuid.Nil)
				convey.So(engine.LogLen(), convey.ShouldEqual, 2)
				convey.So(engine.AggregateView().PerAction["pass_forward"].Total, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When undoing an unknown event", func() {
			_, err := engine.Undo(uuid.New(), models.ObserverParent)

			convey.Convey("Then it is refused", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestEngine_TwoSessionConvergence(t *testing.T) {
	convey.Convey("Given two sessions of the same match writing concurrently", t, func() {
		store := newFakeStore()
		match := testMatch(models.PhasePlaying)

		engineA := session.NewEngine(match, store, nil, clockwork.NewFakeClock(), session.DefaultConfig())
		engineB := session.NewEngine(match, store, nil, clockwork.NewFakeClock(), session.DefaultConfig())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go engineA.Run(ctx)
		go engineB.Run(ctx)

		_, err := engineA.LogAction("pressure", models.ResultSuccess, "", models.ObserverParent)
		convey.So(err, convey.ShouldBeNil)
		_, err = engineB.LogAction("pressure", models.ResultFailure, "", models.ObserverPlayer)
		convey.So(err, convey.ShouldBeNil)

		convey.So(eventually(func() bool { return store.committedCount() == 2 }), convey.ShouldBeTrue)

		convey.Convey("When a fresh session resyncs from storage", func() {
			engineC := session.NewEngine(match, store, nil, clockwork.NewFakeClock(), session.DefaultConfig())
			ctxC, cancelC := context.WithCancel(context.Background())
			defer cancelC()
			go engineC.Run(ctxC)

			convey.Convey("Then it converges on both observers' events", func() {
				convey.So(eventually(func() bool { return engineC.LogLen() == 2 }), convey.ShouldBeTrue)

				view := engineC.AggregateView()
				convey.So(view.PerAction["pressure"].Total, convey.ShouldEqual, 2)
				convey.So(view.PerAction["pressure"].Success, convey.ShouldEqual, 1)
			})
		})
	})
}
