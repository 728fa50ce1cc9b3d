package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// Sink receives the asynchronous outcomes of sync work. The session engine
// implements it to flip commit statuses, merge remote entries, and roll
// back optimistic phase changes.
type Sink interface {
	OnEventCommitted(id uuid.UUID, seq int64)
	OnEventRejected(id uuid.UUID, err error)
	OnPhaseCommitted(phase models.Phase)
	OnPhaseRejected(phase models.Phase, err error)
	OnRemoteEvent(event models.Event, seq int64)
	OnRemotePhase(phase models.Phase)
}

// Config tunes the retry behaviour of a coordinator.
type Config struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
	QueueSize   int
}

func DefaultConfig() Config {
	return Config{
		BackoffBase: 200 * time.Millisecond,
		BackoffCap:  30 * time.Second,
		QueueSize:   256,
	}
}

type job struct {
	event *models.Event
	phase *models.Phase
}

// Coordinator reconciles one session's pending writes with durable storage
// and replays updates pushed by other sessions of the same match. Writes
// are processed in submission order; transient failures are retried with
// exponential backoff indefinitely, permanent rejections are surfaced once.
type Coordinator struct {
	matchID uuid.UUID
	store   Store
	sink    Sink
	feed    RemoteFeed
	clock   clockwork.Clock
	cfg     Config
	jobCh   chan job

	mu       stdsync.Mutex
	inflight map[uuid.UUID]struct{}
}

// NewCoordinator creates a coordinator for one match session. feed may be
// nil for sessions that never receive remote updates (tests, replays).
func NewCoordinator(matchID uuid.UUID, store Store, sink Sink, feed RemoteFeed, clock clockwork.Clock, cfg Config) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	return &Coordinator{
		matchID: matchID,
		store:   store,
		sink:    sink,
		feed:    feed,
		clock:   clock,
		cfg:      cfg,
		jobCh:    make(chan job, cfg.QueueSize),
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// EnqueueEvent hands a freshly appended event to the coordinator. Callers
// never block on network completion; the optimistic local entry stays
// visible while the write is in flight. An id already queued or in flight
// is skipped, so a pending resend pass racing a fresh Append cannot reach
// the store twice for the same entry.
func (c *Coordinator) EnqueueEvent(event models.Event) {
	c.mu.Lock()
	if _, dup := c.inflight[event.ID]; dup {
		c.mu.Unlock()
		return
	}
	c.inflight[event.ID] = struct{}{}
	c.mu.Unlock()

	select {
	case c.jobCh <- job{event: &event}:
	default:
		// Queue full: process synchronously-queued on a goroutine so the
		// event is still not lost. A live match never produces enough
		// events for this to matter.
		go func() { c.jobCh <- job{event: &event} }()
		log.Warn().
			Str("match_id", c.matchID.String()).
			Str("event_id", event.ID.String()).
			Msg("sync queue full, enqueueing asynchronously")
	}
}

// EnqueuePhase hands an optimistic phase change to the coordinator.
func (c *Coordinator) EnqueuePhase(phase models.Phase) {
	select {
	case c.jobCh <- job{phase: &phase}:
	default:
		go func() { c.jobCh <- job{phase: &phase} }()
		log.Warn().
			Str("match_id", c.matchID.String()).
			Str("phase", string(phase)).
			Msg("sync queue full, enqueueing phase asynchronously")
	}
}

// Run processes the write queue and the remote feed until ctx is done.
// In-flight writes started before a pause or teardown still complete.
func (c *Coordinator) Run(ctx context.Context) {
	log.Info().Str("match_id", c.matchID.String()).Msg("sync coordinator started")

	var remoteCh <-chan RemoteUpdate
	if c.feed != nil {
		remoteCh = c.feed.Updates()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("match_id", c.matchID.String()).Msg("sync coordinator shutting down")
			if c.feed != nil {
				if err := c.feed.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close remote feed")
				}
			}
			return
		case j := <-c.jobCh:
			c.process(ctx, j)
		case update, ok := <-remoteCh:
			if !ok {
				remoteCh = nil
				continue
			}
			c.applyRemote(update)
		}
	}
}

// Resync pulls every committed entry after cursor from storage and merges
// it, returning the new cursor. Called on session start and after a
// dropped connection, so no event is lost while the feed was down.
func (c *Coordinator) Resync(ctx context.Context, cursor int64) (int64, error) {
	committed, err := c.store.ListSince(ctx, c.matchID, cursor)
	if err != nil {
		return cursor, err
	}
	for _, ce := range committed {
		c.sink.OnRemoteEvent(ce.Event, ce.Seq)
		if ce.Seq > cursor {
			cursor = ce.Seq
		}
	}
	return cursor, nil
}

func (c *Coordinator) applyRemote(update RemoteUpdate) {
	switch {
	case update.Event != nil:
		c.sink.OnRemoteEvent(update.Event.Event, update.Event.Seq)
	case update.Phase != nil:
		c.sink.OnRemotePhase(*update.Phase)
	}
}

func (c *Coordinator) process(ctx context.Context, j job) {
	for attempt := 0; ; attempt++ {
		var err error
		if j.event != nil {
			var seq int64
			seq, err = c.store.UpsertEvent(ctx, *j.event)
			if err == nil {
				c.settle(j.event.ID)
				c.sink.OnEventCommitted(j.event.ID, seq)
				return
			}
			if IsPermanent(err) {
				log.Warn().
					Err(err).
					Str("event_id", j.event.ID.String()).
					Msg("event permanently rejected by store")
				c.settle(j.event.ID)
				c.sink.OnEventRejected(j.event.ID, err)
				return
			}
		} else {
			err = c.store.UpsertPhase(ctx, c.matchID, *j.phase)
			if err == nil {
				c.sink.OnPhaseCommitted(*j.phase)
				return
			}
			if IsPermanent(err) {
				log.Warn().
					Err(err).
					Str("phase", string(*j.phase)).
					Msg("phase transition permanently rejected by store")
				c.sink.OnPhaseRejected(*j.phase, err)
				return
			}
		}

		delay := c.backoff(attempt)
		log.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Str("match_id", c.matchID.String()).
			Msg("transient sync failure, retrying")

		timer := c.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			if j.event != nil {
				c.settle(j.event.ID)
			}
			return
		case <-timer.Chan():
		}
	}
}

// settle releases an event id once its write reached a terminal outcome,
// so a later legitimate retry of the same id can be enqueued again.
func (c *Coordinator) settle(id uuid.UUID) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	delay := c.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.BackoffCap {
			return c.cfg.BackoffCap
		}
	}
	return delay
}
