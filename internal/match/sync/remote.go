package sync

import (
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/assafshtengel/matchtrack/internal/match/events"
)

// NATSFeedConfig holds connection settings for the JetStream remote feed.
type NATSFeedConfig struct {
	URL           string
	SubjectPrefix string // e.g. "match.events"
	MaxReconnects int
	ReconnectWait time.Duration
	BufferSize    int
}

func DefaultNATSFeedConfig() NATSFeedConfig {
	return NATSFeedConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "match.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		BufferSize:    128,
	}
}

// NATSFeed subscribes to the match event subjects on the bus and converts
// envelopes published by the outbox relay into RemoteUpdates. Delivery is
// at least once; the id-keyed merge upstream absorbs duplicates.
type NATSFeed struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	updates chan RemoteUpdate
	matchID uuid.UUID

	mu     stdsync.Mutex
	closed bool
}

// NewNATSFeed connects and subscribes to all event types for one match.
func NewNATSFeed(matchID uuid.UUID, cfg NATSFeedConfig) (*NATSFeed, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	f := &NATSFeed{
		nc:      nc,
		updates: make(chan RemoteUpdate, cfg.BufferSize),
		matchID: matchID,
	}

	subject := fmt.Sprintf("%s.%s.>", cfg.SubjectPrefix, matchID)
	sub, err := nc.Subscribe(subject, f.handleMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	f.sub = sub

	log.Info().
		Str("subject", subject).
		Str("match_id", matchID.String()).
		Msg("remote feed subscribed")
	return f, nil
}

func (f *NATSFeed) Updates() <-chan RemoteUpdate { return f.updates }

// Close tears the feed down. The updates channel is left open: a NATS
// callback may still be mid-flight, and the coordinator stops reading on
// its own when its context ends.
func (f *NATSFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	if f.sub != nil {
		if err := f.sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe remote feed")
		}
	}
	if f.nc != nil {
		f.nc.Close()
	}
	return nil
}

func (f *NATSFeed) handleMessage(msg *nats.Msg) {
	var envelope struct {
		EventID   string          `json:"eventId"`
		EventType string          `json:"eventType"`
		MatchID   string          `json:"matchId"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("bad envelope on remote feed")
		return
	}

	update, err := decodeUpdate(envelope.EventType, envelope.Payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_type", envelope.EventType).
			Str("match_id", envelope.MatchID).
			Msg("failed to decode remote update")
		return
	}
	if update == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.updates <- *update:
	default:
		log.Warn().
			Str("match_id", f.matchID.String()).
			Msg("remote feed buffer full, dropping update (resync will recover it)")
	}
}

func decodeUpdate(eventType string, payload json.RawMessage) (*RemoteUpdate, error) {
	switch eventType {
	case events.TypeEventCommitted:
		var p events.EventCommittedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal EventCommitted payload: %w", err)
		}
		return &RemoteUpdate{Event: &CommittedEvent{Event: p.Event, Seq: p.Seq}}, nil
	case events.TypePhaseChanged:
		var p events.PhaseChangedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal PhaseChanged payload: %w", err)
		}
		phase := p.Phase
		return &RemoteUpdate{Phase: &phase}, nil
	default:
		// Unknown types are skipped, not fatal: newer writers may emit
		// event types this session does not know yet.
		return nil, nil
	}
}
