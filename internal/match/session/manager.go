package session

import (
	"context"
	"fmt"
	stdsync "sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	matchsync "github.com/assafshtengel/matchtrack/internal/match/sync"
	"github.com/assafshtengel/matchtrack/internal/models"
)

// MatchGetter defines what the manager needs from the match app.
type MatchGetter interface {
	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
}

// FeedFactory builds a remote feed for one match. May return a nil feed
// when no bus is configured.
type FeedFactory func(matchID uuid.UUID) (matchsync.RemoteFeed, error)

type managed struct {
	engine *Engine
	cancel context.CancelFunc
}

// Manager owns the live engines of this process, one per open match.
// Engines are created lazily on first access and torn down on Close;
// entries still pending at teardown are recovered by the client retrying
// with the same event id, which the store's id-keyed upsert absorbs.
type Manager struct {
	matches MatchGetter
	store   matchsync.Store
	newFeed FeedFactory
	clock   clockwork.Clock
	cfg     Config

	mu      stdsync.Mutex
	engines map[uuid.UUID]*managed
	onOpen  func(*Engine)
	closed  bool
}

// NewManager creates an engine manager.
func NewManager(matches MatchGetter, store matchsync.Store, newFeed FeedFactory, clock clockwork.Clock, cfg Config) *Manager {
	return &Manager{
		matches: matches,
		store:   store,
		newFeed: newFeed,
		clock:   clock,
		cfg:     cfg,
		engines: make(map[uuid.UUID]*managed),
	}
}

// SetOnOpen registers fn to run once for every newly created engine,
// before it starts. Used to attach cross-cutting subscribers such as the
// gateway's minute-tick broadcast. Set during wiring, before any Open.
func (m *Manager) SetOnOpen(fn func(*Engine)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOpen = fn
}

// Open returns the engine for matchID, creating and starting it if this
// is the first access.
func (m *Manager) Open(ctx context.Context, matchID uuid.UUID) (*Engine, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("session manager is closed")
	}
	if mg, ok := m.engines[matchID]; ok {
		m.mu.Unlock()
		return mg.engine, nil
	}
	m.mu.Unlock()

	match, err := m.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}
	if match.ArchivedAt != nil {
		return nil, fmt.Errorf("match %s is archived", matchID)
	}

	var feed matchsync.RemoteFeed
	if m.newFeed != nil {
		feed, err = m.newFeed(matchID)
		if err != nil {
			// A session without a live feed still works: resync on the
			// next open catches it up.
			log.Error().Err(err).Str("match_id", matchID.String()).Msg("remote feed unavailable")
			feed = nil
		}
	}

	engine := NewEngine(match, m.store, feed, m.clock, m.cfg)
	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if existing, ok := m.engines[matchID]; ok {
		// Lost the race to another caller; keep theirs.
		m.mu.Unlock()
		cancel()
		if feed != nil {
			_ = feed.Close()
		}
		return existing.engine, nil
	}
	m.engines[matchID] = &managed{engine: engine, cancel: cancel}
	onOpen := m.onOpen
	m.mu.Unlock()

	if onOpen != nil {
		onOpen(engine)
	}
	go engine.Run(runCtx)

	log.Info().Str("match_id", matchID.String()).Msg("match session opened")
	return engine, nil
}

// Get returns an already-open engine without creating one.
func (m *Manager) Get(matchID uuid.UUID) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mg, ok := m.engines[matchID]
	if !ok {
		return nil, false
	}
	return mg.engine, true
}

// CloseMatch tears down one match session. In-flight writes complete;
// anything still pending comes back through a client retry carrying its
// original event id once the match is reopened.
func (m *Manager) CloseMatch(matchID uuid.UUID) {
	m.mu.Lock()
	mg, ok := m.engines[matchID]
	if ok {
		delete(m.engines, matchID)
	}
	m.mu.Unlock()
	if ok {
		mg.cancel()
		log.Info().Str("match_id", matchID.String()).Msg("match session closed")
	}
}

// Close tears down every open session.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	engines := m.engines
	m.engines = make(map[uuid.UUID]*managed)
	m.mu.Unlock()

	for id, mg := range engines {
		mg.cancel()
		log.Debug().Str("match_id", id.String()).Msg("match session closed on shutdown")
	}
}
