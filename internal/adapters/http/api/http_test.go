package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/teamrun/internal/adapters/http/api"
	service "github.com/okian/teamrun/internal/app"
	"github.com/okian/teamrun/internal/domain/model"
	"github.com/okian/teamrun/internal/domain/types"
	"github.com/okian/teamrun/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

// failingDeps answers every call with err.
type failingDeps struct {
	err error
}

func (f failingDeps) CreateRun(context.Context, types.CreateRunRequest) (types.MutationResponse, error) {
	return types.MutationResponse{}, f.err
}

func (f failingDeps) UpdateRules(context.Context, string, types.UpdateRulesRequest) (types.MutationResponse, error) {
	return types.MutationResponse{}, f.err
}

func (f failingDeps) CloseRun(context.Context, string) (types.MutationResponse, error) {
	return types.MutationResponse{}, f.err
}

func (f failingDeps) Signup(context.Context, string, types.SignupRequest) (types.MutationResponse, error) {
	return types.MutationResponse{}, f.err
}

func (f failingDeps) Cancel(context.Context, string, string, string) (types.MutationResponse, error) {
	return types.MutationResponse{}, f.err
}

func (f failingDeps) Pin(context.Context, string, int, types.PinRequest) (types.MutationResponse, error) {
	return types.MutationResponse{}, f.err
}

func (f failingDeps) Unpin(context.Context, string, int) (types.MutationResponse, error) {
	return types.MutationResponse{}, f.err
}

func (f failingDeps) Rebalance(context.Context, string) (types.MutationResponse, error) {
	return types.MutationResponse{}, f.err
}

func (f failingDeps) MarkPresence(context.Context, string, string, model.Presence) (types.MutationResponse, error) {
	return types.MutationResponse{}, f.err
}

func (f failingDeps) Board(context.Context, string) (model.Board, error) {
	return model.Board{}, f.err
}

func (f failingDeps) Signups(context.Context, string) (types.SignupsResponse, error) {
	return types.SignupsResponse{}, f.err
}

func newMux(deps api.Dependencies, stats api.StatsProvider) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, stats).Register(mux)
	return mux
}

func do(mux http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func mutation(w *httptest.ResponseRecorder) types.MutationResponse {
	var resp types.MutationResponse
	So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
	return resp
}

func errorCode(w *httptest.ResponseRecorder) string {
	var resp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
	So(resp.Message, ShouldNotBeEmpty)
	return resp.Code
}

func TestServer_Operational(t *testing.T) {
	Convey("Given a registered server", t, func() {
		stats := &mockStatsProvider{stats: map[string]interface{}{"started": true, "totalRuns": 2}}
		mux := newMux(failingDeps{}, stats)

		Convey("When the health endpoint is scraped", func() {
			w := do(mux, http.MethodGet, "/healthz", nil)

			Convey("Then it serves the metrics exposition", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When stats are requested", func() {
			w := do(mux, http.MethodGet, "/stats", nil)

			Convey("Then the provider's map is returned as JSON", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
				var got map[string]interface{}
				So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
				So(got["totalRuns"], ShouldEqual, 2)
			})
		})

		Convey("When a route is called with the wrong method", func() {
			w := do(mux, http.MethodDelete, "/stats", nil)

			Convey("Then the mux rejects it", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
			})
		})
	})
}

func TestServer_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{model.Errorf("op", model.ErrNotFound, "no run"), http.StatusNotFound, "not_found"},
		{model.Errorf("op", model.ErrDuplicateSignup, "dup"), http.StatusConflict, "duplicate_signup"},
		{model.Errorf("op", model.ErrSlotsLockedForSelfSignup, "locked"), http.StatusConflict, "slots_locked_for_self_signup"},
		{model.Errorf("op", model.ErrCannotCancelLocked, "pinned"), http.StatusConflict, "cannot_cancel_locked"},
		{model.Errorf("op", model.ErrConcurrencyConflict, "busy"), http.StatusConflict, "concurrency_conflict"},
		{model.Errorf("op", model.ErrRunClosed, "closed"), http.StatusConflict, "run_closed"},
		{model.Errorf("op", model.ErrRunExists, "exists"), http.StatusConflict, "run_exists"},
		{model.Errorf("op", model.ErrAllocation, "broken"), http.StatusConflict, "allocation_error"},
		{model.Errorf("op", model.ErrInvalidRule, "bad rule"), http.StatusUnprocessableEntity, "invalid_rule"},
		{model.Errorf("op", model.ErrIndexOutOfRange, "slot 9"), http.StatusUnprocessableEntity, "index_out_of_range"},
		{model.Errorf("op", model.ErrInvalidRequest, "missing"), http.StatusBadRequest, "invalid_request"},
		{model.Errorf("op", model.ErrUnavailable, "closed store"), http.StatusServiceUnavailable, "unavailable"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}

	Convey("Given handlers backed by failing dependencies", t, func() {
		for _, tc := range cases {
			mux := newMux(failingDeps{err: tc.err}, &mockStatsProvider{})

			w := do(mux, http.MethodGet, "/runs/raid/board", nil)
			So(w.Code, ShouldEqual, tc.status)
			So(errorCode(w), ShouldEqual, tc.code)
		}
	})

	Convey("Given malformed requests", t, func() {
		mux := newMux(failingDeps{}, &mockStatsProvider{})

		So(do(mux, http.MethodPost, "/runs", "").Code, ShouldEqual, http.StatusBadRequest)
		So(do(mux, http.MethodPost, "/runs", `{"run_id":`).Code, ShouldEqual, http.StatusBadRequest)
		So(do(mux, http.MethodPost, "/runs", `{"run_id":"a","surprise":1}`).Code, ShouldEqual, http.StatusBadRequest)
		So(do(mux, http.MethodPost, "/runs/raid/slots/two/pin", `{}`).Code, ShouldEqual, http.StatusBadRequest)
		So(do(mux, http.MethodDelete, "/runs/raid/signups/r1", nil).Code, ShouldEqual, http.StatusBadRequest)
		w := do(mux, http.MethodPut, "/runs/raid/signups/r1/presence", `{"presence":"maybe"}`)
		So(w.Code, ShouldEqual, http.StatusBadRequest)
		So(errorCode(w), ShouldEqual, "bad_request")
	})
}

func TestServer_EndToEnd(t *testing.T) {
	Convey("Given the API in front of a running service", t, func() {
		svc := service.New(
			service.WithClock(func() time.Time { return time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC) }),
			service.WithWorkerCount(1),
		)
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		mux := newMux(svc, svc)

		w := do(mux, http.MethodPost, "/runs", types.CreateRunRequest{
			RunID: "raid",
			Rules: []types.RuleSpec{{Classes: []string{"tank"}}, {AllowRich: true}, {}},
		})
		So(w.Code, ShouldEqual, http.StatusCreated)

		Convey("When members sign up", func() {
			a := do(mux, http.MethodPost, "/runs/raid/signups", types.SignupRequest{SubmitterID: "A", CharacterName: "Aria", Class: "tank"})
			b := do(mux, http.MethodPost, "/runs/raid/signups", types.SignupRequest{SubmitterID: "B", IsRich: true})
			c := do(mux, http.MethodPost, "/runs/raid/signups", types.SignupRequest{SubmitterID: "C", Class: "Tank"})

			Convey("Then the board matches the allocation", func() {
				So(a.Code, ShouldEqual, http.StatusCreated)
				So(mutation(a).Outcome.Slot, ShouldEqual, 0)
				So(mutation(b).Outcome.Slot, ShouldEqual, 1)
				cr := mutation(c)
				So(cr.Outcome.Status, ShouldEqual, model.OutcomeWaitlisted)
				So(cr.Outcome.Reason, ShouldNotBeEmpty)

				board := do(mux, http.MethodGet, "/runs/raid/board", nil)
				So(board.Code, ShouldEqual, http.StatusOK)
				So(board.Body.String(), ShouldContainSubstring, `"waitlist"`)
			})

			Convey("And a duplicate self-signup conflicts", func() {
				w := do(mux, http.MethodPost, "/runs/raid/signups", types.SignupRequest{SubmitterID: "A", Class: "tank"})
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(w), ShouldEqual, "duplicate_signup")
			})

			Convey("And cancelling then listing keeps the audit trail", func() {
				id := mutation(a).Outcome.RecordID
				w := do(mux, http.MethodDelete, "/runs/raid/signups/"+id+"?requester=A", nil)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(mutation(w).Outcome.Status, ShouldEqual, model.OutcomeCancelled)

				list := do(mux, http.MethodGet, "/runs/raid/signups", nil)
				var resp types.SignupsResponse
				So(json.Unmarshal(list.Body.Bytes(), &resp), ShouldBeNil)
				So(len(resp.Signups), ShouldEqual, 3)
				So(resp.Signups[0].CancelledBy, ShouldEqual, "A")
			})

			Convey("And presence is recorded", func() {
				id := mutation(b).Outcome.RecordID
				w := do(mux, http.MethodPut, "/runs/raid/signups/"+id+"/presence", `{"presence":"present"}`)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(mutation(w).Board.Slots[1].Record.Presence, ShouldEqual, model.PresencePresent)
			})
		})

		Convey("When the leader pins and unpins", func() {
			pin := do(mux, http.MethodPost, "/runs/raid/slots/2/pin", types.PinRequest{LeaderID: "L", BeneficiaryID: "X", Class: "healer"})
			selfSignup := do(mux, http.MethodPost, "/runs/raid/signups", types.SignupRequest{SubmitterID: "X", Class: "healer"})
			outOfRange := do(mux, http.MethodPost, "/runs/raid/slots/7/pin", types.PinRequest{LeaderID: "L", BeneficiaryID: "Y"})
			unpin := do(mux, http.MethodDelete, "/runs/raid/slots/2/pin", nil)

			Convey("Then each answer carries the right status", func() {
				So(pin.Code, ShouldEqual, http.StatusOK)
				So(mutation(pin).Board.Slots[2].Pinned, ShouldBeTrue)
				So(selfSignup.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(selfSignup), ShouldEqual, "slots_locked_for_self_signup")
				So(outOfRange.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(unpin.Code, ShouldEqual, http.StatusOK)
				So(len(mutation(unpin).Board.Waitlist), ShouldEqual, 1)
			})
		})

		Convey("When rules change, the run rebalances and closes", func() {
			rules := do(mux, http.MethodPut, "/runs/raid/rules", types.UpdateRulesRequest{
				Rules: []types.RuleSpec{{Classes: []string{"healer"}}, {AllowRich: true}, {Classes: []string{"tank"}}},
			})
			rebalance := do(mux, http.MethodPost, "/runs/raid/rebalance", nil)
			closed := do(mux, http.MethodPost, "/runs/raid/close", nil)
			late := do(mux, http.MethodPost, "/runs/raid/signups", types.SignupRequest{SubmitterID: "Z", Class: "tank"})
			badRules := do(mux, http.MethodPut, "/runs/raid/rules", types.UpdateRulesRequest{Rules: []types.RuleSpec{{Classes: []string{"bard"}}}})

			Convey("Then the lifecycle is enforced", func() {
				So(rules.Code, ShouldEqual, http.StatusOK)
				So(rebalance.Code, ShouldEqual, http.StatusOK)
				So(closed.Code, ShouldEqual, http.StatusOK)
				So(mutation(closed).Board.Status, ShouldEqual, model.RunClosed)
				So(late.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(late), ShouldEqual, "run_closed")
				So(badRules.Code, ShouldEqual, http.StatusUnprocessableEntity)
			})
		})

		Convey("When an unknown run is read", func() {
			w := do(mux, http.MethodGet, "/runs/ghost/board", nil)

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(strings.Contains(w.Body.String(), "ghost"), ShouldBeTrue)
			})
		})
	})
}
