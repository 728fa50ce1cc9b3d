package sync

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/smartystreets/goconvey/convey"

	"github.com/assafshtengel/matchtrack/internal/match/events"
	"github.com/assafshtengel/matchtrack/internal/models"
)

func committedEnvelope(t *testing.T, matchID uuid.UUID) []byte {
	t.Helper()
	payload, err := json.Marshal(events.EventCommittedPayload{
		Event: models.Event{
			ID:         uuid.New(),
			MatchID:    matchID,
			Kind:       models.EventKindAction,
			Minute:     3,
			ActionRef:  "pressure",
			Result:     models.ResultSuccess,
			RecordedBy: models.ObserverParent,
		},
		Seq: 7,
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(map[string]any{
		"eventId":   uuid.NewString(),
		"eventType": events.TypeEventCommitted,
		"matchId":   matchID.String(),
		"payload":   json.RawMessage(payload),
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestNATSFeed_HandleMessage(t *testing.T) {
	convey.Convey("Given a subscribed feed", t, func() {
		matchID := uuid.New()
		feed := &NATSFeed{updates: make(chan RemoteUpdate, 4), matchID: matchID}
		subject := "match.events." + matchID.String() + ".EventCommitted"

		convey.Convey("When a committed-event envelope arrives", func() {
			feed.handleMessage(&nats.Msg{Subject: subject, Data: committedEnvelope(t, matchID)})

			convey.Convey("Then it is delivered as a remote update", func() {
				select {
				case update := <-feed.updates:
					convey.So(update.Event, convey.ShouldNotBeNil)
					convey.So(update.Event.Seq, convey.ShouldEqual, 7)
				default:
					t.Fatal("expected a remote update")
				}
			})
		})

		convey.Convey("When a message lands after the feed was closed", func() {
			convey.So(feed.Close(), convey.ShouldBeNil)
			feed.handleMessage(&nats.Msg{Subject: subject, Data: committedEnvelope(t, matchID)})

			convey.Convey("Then the late message is dropped without a panic", func() {
				select {
				case <-feed.updates:
					t.Fatal("update delivered after close")
				default:
				}
			})

			convey.Convey("Then closing again is a no-op", func() {
				convey.So(feed.Close(), convey.ShouldBeNil)
			})
		})
	})
}
