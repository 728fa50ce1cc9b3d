package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/smartystreets/goconvey/convey"

	"github.com/assafshtengel/matchtrack/internal/match"
	"github.com/assafshtengel/matchtrack/internal/match/gateway"
	"github.com/assafshtengel/matchtrack/internal/match/session"
	matchsync "github.com/assafshtengel/matchtrack/internal/match/sync"
	"github.com/assafshtengel/matchtrack/internal/models"
)

// fakeApp is an in-memory MatchApp for handler tests.
type fakeApp struct {
	mu      stdsync.Mutex
	matches map[uuid.UUID]*models.Match
}

func newFakeApp() *fakeApp {
	return &fakeApp{matches: make(map[uuid.UUID]*models.Match)}
}

func (a *fakeApp) CreateMatch(ctx context.Context, req match.CreateMatchRequest) (*models.Match, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := &models.Match{
		ID:       uuid.New(),
		Opponent: req.Opponent,
		Observer: req.Observer,
		Phase:    models.PhasePreview,
		Settings: req.Settings,
	}
	if m.Settings.HalfLengthMin == 0 {
		m.Settings.HalfLengthMin = 45
	}
	a.matches[m.ID] = m
	return m, nil
}

func (a *fakeApp) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %s not found", id)
	}
	return m, nil
}

func (a *fakeApp) ListActiveMatches(ctx context.Context, phase *models.Phase) ([]models.Match, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.Match
	for _, m := range a.matches {
		out = append(out, *m)
	}
	return out, nil
}

func (a *fakeApp) UpdateMatch(ctx context.Context, id uuid.UUID, req match.UpdateMatchRequest) (*models.Match, error) {
	return a.GetMatch(ctx, id)
}

func (a *fakeApp) ArchiveMatch(ctx context.Context, id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.matches, id)
	return nil
}

// memStore is an instantly-committing sync.Store.
type memStore struct {
	mu      stdsync.Mutex
	nextSeq int64
	events  map[uuid.UUID]matchsync.CommittedEvent
}

func newMemStore() *memStore {
	return &memStore{events: make(map[uuid.UUID]matchsync.CommittedEvent)}
}

func (s *memStore) UpsertEvent(ctx context.Context, event models.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.events[event.ID]; ok {
		return existing.Seq, nil
	}
	s.nextSeq++
	s.events[event.ID] = matchsync.CommittedEvent{Event: event, Seq: s.nextSeq}
	return s.nextSeq, nil
}

func (s *memStore) UpsertPhase(ctx context.Context, matchID uuid.UUID, phase models.Phase) error {
	return nil
}

func (s *memStore) ListSince(ctx context.Context, matchID uuid.UUID, cursor int64) ([]matchsync.CommittedEvent, error) {
	return nil, nil
}

func newTestServer() (*httptest.Server, *fakeApp, func()) {
	app := newFakeApp()
	sessions := session.NewManager(app, newMemStore(), nil, clockwork.NewFakeClock(), session.DefaultConfig())

	mux := http.NewServeMux()
	gateway.NewStateHandler(app, sessions).RegisterStateRoutes(mux)
	server := httptest.NewServer(mux)

	return server, app, func() {
		server.Close()
		sessions.Close()
	}
}

func postJSON(url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return http.Post(url, "application/json", bytes.NewReader(data))
}

func TestStateHandler_MatchLifecycle(t *testing.T) {
	convey.Convey("Given the REST surface", t, func() {
		server, _, cleanup := newTestServer()
		defer cleanup()

		convey.Convey("When a match is created", func() {
			resp, err := postJSON(server.URL+"/api/matches", match.CreateMatchRequest{
				Opponent: "Maccabi",
				Observer: models.ObserverParent,
				Settings: models.MatchSettings{
					HalfLengthMin: 45,
					Actions:       []models.TrackedAction{{Ref: "pressure"}},
				},
			})
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()

			var created models.Match
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusCreated)
			convey.So(json.NewDecoder(resp.Body).Decode(&created), convey.ShouldBeNil)
			convey.So(created.Phase, convey.ShouldEqual, models.PhasePreview)

			convey.Convey("Then its live state is served", func() {
				stateResp, err := http.Get(server.URL + "/api/matches/" + created.ID.String() + "/state")
				convey.So(err, convey.ShouldBeNil)
				defer stateResp.Body.Close()

				var state gateway.MatchStateResponse
				convey.So(stateResp.StatusCode, convey.ShouldEqual, http.StatusOK)
				convey.So(json.NewDecoder(stateResp.Body).Decode(&state), convey.ShouldBeNil)
				convey.So(state.Phase, convey.ShouldEqual, models.PhasePreview)
				convey.So(state.Clock.Minute, convey.ShouldEqual, 0)
			})

			convey.Convey("Then it appears in the active list", func() {
				listResp, err := http.Get(server.URL + "/api/matches")
				convey.So(err, convey.ShouldBeNil)
				defer listResp.Body.Close()

				var matches []models.Match
				convey.So(json.NewDecoder(listResp.Body).Decode(&matches), convey.ShouldBeNil)
				convey.So(len(matches), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When state is requested for an unknown match", func() {
			resp, err := http.Get(server.URL + "/api/matches/" + uuid.NewString() + "/state")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestStateHandler_TransitionsAndEvents(t *testing.T) {
	convey.Convey("Given a created match", t, func() {
		server, _, cleanup := newTestServer()
		defer cleanup()

		resp, err := postJSON(server.URL+"/api/matches", match.CreateMatchRequest{
			Opponent: "Maccabi",
			Observer: models.ObserverPlayer,
			Settings: models.MatchSettings{
				HalfLengthMin: 45,
				Actions:       []models.TrackedAction{{Ref: "pressure"}},
			},
		})
		convey.So(err, convey.ShouldBeNil)
		var created models.Match
		convey.So(json.NewDecoder(resp.Body).Decode(&created), convey.ShouldBeNil)
		resp.Body.Close()

		base := server.URL + "/api/matches/" + created.ID.String()

		convey.Convey("When the match is started directly", func() {
			resp, err := postJSON(base+"/transition", gateway.TransitionRequest{Transition: "start"})
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			convey.Convey("Then an action event is accepted", func() {
				resp, err := postJSON(base+"/events", gateway.AppendEventRequest{
					Kind:       string(models.EventKindAction),
					ActionRef:  "pressure",
					Result:     string(models.ResultSuccess),
					RecordedBy: string(models.ObserverPlayer),
				})
				convey.So(err, convey.ShouldBeNil)
				defer resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusAccepted)

				convey.Convey("And it shows up in the aggregate state", func() {
					stateResp, err := http.Get(base + "/state")
					convey.So(err, convey.ShouldBeNil)
					defer stateResp.Body.Close()

					var state gateway.MatchStateResponse
					convey.So(json.NewDecoder(stateResp.Body).Decode(&state), convey.ShouldBeNil)
					convey.So(state.View.PerAction["pressure"].Total, convey.ShouldEqual, 1)
				})
			})

			convey.Convey("Then the final summary is served", func() {
				summaryResp, err := http.Get(base + "/summary?stage=final")
				convey.So(err, convey.ShouldBeNil)
				defer summaryResp.Body.Close()
				convey.So(summaryResp.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When an out-of-order transition is requested", func() {
			resp, err := postJSON(base+"/transition", gateway.TransitionRequest{Transition: "endHalf"})
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()

			convey.Convey("Then it is rejected as a conflict", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusConflict)
			})
		})

		convey.Convey("When an event is appended before the match starts", func() {
			resp, err := postJSON(base+"/events", gateway.AppendEventRequest{
				Kind:      string(models.EventKindAction),
				ActionRef: "pressure",
				Result:    string(models.ResultSuccess),
			})
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()

			convey.Convey("Then the guard refuses it", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusConflict)
			})
		})

		convey.Convey("When an unknown transition name is posted", func() {
			resp, err := postJSON(base+"/transition", gateway.TransitionRequest{Transition: "rewind"})
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusBadRequest)
		})
	})
}
