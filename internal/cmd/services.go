package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	"github.com/assafshtengel/matchtrack/internal/dbconfig"
	"github.com/assafshtengel/matchtrack/internal/match"
	"github.com/assafshtengel/matchtrack/internal/match/gateway"
	"github.com/assafshtengel/matchtrack/internal/match/outbox"
	"github.com/assafshtengel/matchtrack/internal/match/session"
	"github.com/assafshtengel/matchtrack/internal/match/store"
	matchsync "github.com/assafshtengel/matchtrack/internal/match/sync"
)

type Services struct {
	Match    *match.App
	Sessions *session.Manager
	Gateway  *gateway.Service
	Outbox   *outbox.Listener
	Store    *store.Postgres
}

// setupServices wires the dependency chain:
// database → repository → app → sessions → gateway, plus the outbox relay.
func setupServices(database *sql.DB, dbCfg dbconfig.Config, config *Config) (*Services, error) {
	natsURL := getEnv("NATS_URL", nats.DefaultURL)

	// Match lifecycle
	matchRepo := match.NewRepository(database)
	matchApp := match.NewApp(matchRepo, matchDefaults(config))

	// Durable event store
	eventStore := store.NewPostgres(database)

	// Live sessions, fed by the bus
	feedCfg := matchsync.DefaultNATSFeedConfig()
	feedCfg.URL = natsURL
	newFeed := func(matchID uuid.UUID) (matchsync.RemoteFeed, error) {
		return matchsync.NewNATSFeed(matchID, feedCfg)
	}
	sessions := session.NewManager(matchApp, eventStore, newFeed, clockwork.NewRealClock(), session.DefaultConfig())

	// Outbox relay: Postgres notify → JetStream
	publisherCfg := outbox.DefaultJetStreamConfig()
	publisherCfg.URL = natsURL
	publisher, err := outbox.NewJetStreamPublisher(publisherCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox publisher: %w", err)
	}

	listenerCfg := outbox.DefaultListenerConfig()
	listenerCfg.DatabaseURL = dbCfg.DSN()
	metrics := outbox.NewPrometheusMetrics()
	listener, err := outbox.NewListener(
		outbox.NewRepository(database),
		outbox.NewMetricPublisher(publisher, metrics),
		metrics,
		listenerCfg,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox listener: %w", err)
	}

	// Gateway: WebSocket push + REST
	gatewayCfg := gateway.DefaultConfig()
	gatewayCfg.JetStreamConfig.URL = natsURL
	matchGateway, err := gateway.NewService(gatewayCfg, matchApp, sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to create match gateway: %w", err)
	}

	// Clock ticks go straight to connected clients; they are ephemeral
	// and never touch the outbox.
	sessions.SetOnOpen(func(engine *session.Engine) {
		matchID := engine.MatchID()
		engine.SubscribeMinutes(func(minute int) {
			payload, err := json.Marshal(gateway.MinuteTickPayload{
				Minute:   minute,
				Running:  true,
				TickedAt: time.Now().UTC(),
			})
			if err != nil {
				return
			}
			matchGateway.BroadcastEvent(matchID, &gateway.MatchEvent{
				ID:        uuid.NewString(),
				MatchID:   matchID.String(),
				Type:      gateway.EventTypeMinuteTick,
				Timestamp: time.Now().UTC(),
				Data:      payload,
			})
		})
	})

	return &Services{
		Match:    matchApp,
		Sessions: sessions,
		Gateway:  matchGateway,
		Outbox:   listener,
		Store:    eventStore,
	}, nil
}
