package session_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/smartystreets/goconvey/convey"

	"github.com/assafshtengel/matchtrack/internal/match/session"
	"github.com/assafshtengel/matchtrack/internal/models"
)

func actionEvent(matchID uuid.UUID, minute int, ref string, by models.Observer) models.Event {
	return models.Event{
		ID:         uuid.New(),
		MatchID:    matchID,
		Kind:       models.EventKindAction,
		Minute:     minute,
		ActionRef:  ref,
		Result:     models.ResultSuccess,
		RecordedBy: by,
	}
}

func TestLog_AppendIdempotency(t *testing.T) {
	convey.Convey("Given an event log", t, func() {
		log := session.NewLog()
		matchID := uuid.New()
		event := actionEvent(matchID, 5, "pass_forward", models.ObserverParent)

		convey.Convey("When the same event id is appended twice", func() {
			first := log.Append(event)
			second := log.Append(event)

			convey.Convey("Then only the first append takes effect", func() {
				convey.So(first, convey.ShouldBeTrue)
				convey.So(second, convey.ShouldBeFalse)
				convey.So(log.Len(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When a merge echoes a locally appended event", func() {
			log.Append(event)
			changed := log.Merge(event, 7)

			convey.Convey("Then the entry gains commit metadata without duplication", func() {
				convey.So(changed, convey.ShouldBeTrue)
				convey.So(log.Len(), convey.ShouldEqual, 1)
				entry, ok := log.Get(event.ID)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(entry.Status, convey.ShouldEqual, models.CommitStatusCommitted)
				convey.So(*entry.ServerSeq, convey.ShouldEqual, 7)
			})

			convey.Convey("And merging the same commit again is a no-op", func() {
				convey.So(log.Merge(event, 7), convey.ShouldBeFalse)
			})
		})
	})
}

func TestLog_ReplayOrdering(t *testing.T) {
	convey.Convey("Given two logs receiving the same committed events in different orders", t, func() {
		matchID := uuid.New()
		a := actionEvent(matchID, 3, "pressure", models.ObserverParent)
		b := actionEvent(matchID, 3, "pressure", models.ObserverPlayer)
		c := actionEvent(matchID, 7, "shot_on_target", models.ObserverParent)

		logOne := session.NewLog()
		logTwo := session.NewLog()

		logOne.Merge(a, 1)
		logOne.Merge(b, 2)
		logOne.Merge(c, 3)

		logTwo.Merge(c, 3)
		logTwo.Merge(b, 2)
		logTwo.Merge(a, 1)

		convey.Convey("Then their snapshots are identical", func() {
			one := logOne.Snapshot()
			two := logTwo.Snapshot()
			convey.So(len(one), convey.ShouldEqual, 3)
			convey.So(len(two), convey.ShouldEqual, 3)
			for i := range one {
				convey.So(one[i].Event.ID, convey.ShouldEqual, two[i].Event.ID)
			}
		})

		convey.Convey("Then entries order by minute before sequence", func() {
			snap := logOne.Snapshot()
			convey.So(snap[0].Event.Minute, convey.ShouldEqual, 3)
			convey.So(snap[1].Event.Minute, convey.ShouldEqual, 3)
			convey.So(snap[2].Event.Minute, convey.ShouldEqual, 7)
			convey.So(*snap[0].ServerSeq, convey.ShouldBeLessThan, *snap[1].ServerSeq)
		})
	})

	convey.Convey("Given a pending entry sharing a minute with a committed one", t, func() {
		matchID := uuid.New()
		log := session.NewLog()

		pending := actionEvent(matchID, 10, "pressure", models.ObserverParent)
		committed := actionEvent(matchID, 10, "pressure", models.ObserverPlayer)
		log.Append(pending)
		log.Merge(committed, 5)

		convey.Convey("Then the committed entry sorts first within the minute", func() {
			snap := log.Snapshot()
			convey.So(snap[0].Event.ID, convey.ShouldEqual, committed.ID)
			convey.So(snap[1].Event.ID, convey.ShouldEqual, pending.ID)
		})
	})
}

func TestLog_PendingAndRejection(t *testing.T) {
	convey.Convey("Given a log with a mix of statuses", t, func() {
		matchID := uuid.New()
		log := session.NewLog()

		first := actionEvent(matchID, 1, "pass_forward", models.ObserverParent)
		second := actionEvent(matchID, 2, "pass_forward", models.ObserverParent)
		third := actionEvent(matchID, 3, "pass_forward", models.ObserverParent)
		log.Append(first)
		log.Append(second)
		log.Append(third)
		log.MarkCommitted(first.ID, 1)
		log.MarkRejected(second.ID)

		convey.Convey("Then Pending returns only the unsettled entry", func() {
			pending := log.Pending()
			convey.So(len(pending), convey.ShouldEqual, 1)
			convey.So(pending[0].Event.ID, convey.ShouldEqual, third.ID)
		})

		convey.Convey("Then the rejected entry stays in the log", func() {
			convey.So(log.Len(), convey.ShouldEqual, 3)
			entry, ok := log.Get(second.ID)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(entry.Status, convey.ShouldEqual, models.CommitStatusRejected)
		})
	})
}
