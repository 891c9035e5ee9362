package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/transferwire/internal/adapters/http/api"
	service "github.com/okian/transferwire/internal/app"
	"github.com/okian/transferwire/internal/domain/classify"
	"github.com/okian/transferwire/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func newService() *service.Service {
	svc, err := service.New(
		service.WithSources([]model.Source{
			{ID: "x", Name: "X", Region: model.RegionEngland, Tier: 2, Active: true, Kind: model.SourceKindPush},
			{ID: "y", Name: "Y", Region: model.RegionSpain, Tier: 1, Active: true, Kind: model.SourceKindPush},
		}),
		service.WithClock(func() time.Time { return t0 }),
		service.WithCycleInterval(0),
		service.WithClassifier(classify.Func(func(context.Context, string) (classify.Result, error) {
			return classify.Result{IsTransferRelated: true, Confidence: 0.9}, nil
		})),
	)
	if err != nil {
		panic(err)
	}
	return svc
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

const pushBody = `{"signals":[
	{"id":"x-1","source_id":"x","text":"Arsenal agree £65m for Declan Rice","observed_at":"2026-07-01T08:00:00Z"},
	{"id":"y-1","source_id":"y","text":"Rice to Arsenal, fee £65m, here we go"}
]}`

func TestServer_Routes(t *testing.T) {
	Convey("Given the API over a started service", t, func() {
		ctx := context.Background()
		svc := newService()
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		mux := http.NewServeMux()
		api.NewServer(svc).Register(ctx, mux)

		Convey("Then health serves Prometheus metrics", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then the OpenAPI document is served", func() {
			w := do(mux, http.MethodGet, "/openapi.yaml", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldEqual, "application/yaml; charset=utf-8")
			So(w.Body.String(), ShouldContainSubstring, "/stories/{id}/retract")
		})

		Convey("Then routes reject the wrong method", func() {
			w := do(mux, http.MethodGet, "/signals", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("When signals are pushed and a cycle runs", func() {
			w := do(mux, http.MethodPost, "/signals", pushBody)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(decode(w)["ids"], ShouldResemble, []any{"x-1", "y-1"})

			w = do(mux, http.MethodPost, "/cycles", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["created"], ShouldEqual, 1.0)

			w = do(mux, http.MethodGet, "/stories", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["count"], ShouldEqual, 1.0)
			id := body["stories"].([]any)[0].(map[string]any)["id"].(string)

			Convey("Then the story can be read", func() {
				w := do(mux, http.MethodGet, "/stories/"+id, "")
				So(w.Code, ShouldEqual, http.StatusOK)
				st := decode(w)
				So(st["update_count"], ShouldEqual, 1.0)
				So(st["source_ids"], ShouldResemble, []any{"x", "y"})
			})

			Convey("Then filters narrow the listing", func() {
				w := do(mux, http.MethodGet, "/stories?status=published", "")
				So(decode(w)["count"], ShouldEqual, 0.0)
				w = do(mux, http.MethodGet, "/stories?source_id=y&limit=5", "")
				So(decode(w)["count"], ShouldEqual, 1.0)
			})

			Convey("Then retraction is terminal", func() {
				w := do(mux, http.MethodPost, "/stories/"+id+"/retract", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["status"], ShouldEqual, "retracted")

				w = do(mux, http.MethodPost, "/stories/"+id+"/retract", "")
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(decode(w)["code"], ShouldEqual, "gate")
			})

			Convey("Then outcomes credit the sources", func() {
				w := do(mux, http.MethodPost, "/outcomes", `{"story_id":"`+id+`","confirmed":true}`)
				So(w.Code, ShouldEqual, http.StatusOK)

				w = do(mux, http.MethodGet, "/sources/x/reliability", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				rel := decode(w)
				So(rel["tracked"], ShouldBeTrue)
				So(rel["metric"].(map[string]any)["confirmed_outcomes"], ShouldEqual, 1.0)
			})

			Convey("Then stats count the story", func() {
				w := do(mux, http.MethodGet, "/stats", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				stats := decode(w)
				So(stats["stories"], ShouldEqual, 1.0)
				So(stats["cycles"], ShouldEqual, 1.0)
			})
		})

		Convey("Then bad signal payloads are rejected", func() {
			cases := []struct {
				body string
				code int
			}{
				{`{`, http.StatusBadRequest},
				{`{"signals":[{"source_id":"x","text":"a","observed_at":"yesterday"}]}`, http.StatusBadRequest},
				{`{"signals":[{"source_id":"x","text":"a","rank":1}]}`, http.StatusBadRequest},
				{`{"signals":[]}`, http.StatusBadRequest},
				{`{"signals":[{"source_id":"ghost","text":"a"}]}`, http.StatusNotFound},
			}
			for _, tc := range cases {
				w := do(mux, http.MethodPost, "/signals", tc.body)
				So(w.Code, ShouldEqual, tc.code)
			}
		})

		Convey("Then bad outcomes are rejected", func() {
			So(do(mux, http.MethodPost, "/outcomes", `{"story_id":"s"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/outcomes", `{"confirmed":true}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/outcomes", `{"source_id":"x","confirmed":true}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/outcomes", `{"story_id":"nope","confirmed":false}`).Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodPost, "/outcomes",
				`{"source_id":"x","confirmed":true,"predicted_at":"2026-07-01T08:00:00Z"}`).Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then unknown ids are not found", func() {
			So(do(mux, http.MethodGet, "/stories/nope", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodGet, "/sources/ghost/reliability", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodGet, "/stories?status=bogus", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/stories?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then the catalogue and recommendations are listed", func() {
			w := do(mux, http.MethodGet, "/sources", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["count"], ShouldEqual, 2.0)

			w = do(mux, http.MethodGet, "/recommendations", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(len(decode(w)["priority_sources"].([]any)), ShouldEqual, 2)
		})
	})

	Convey("Given the API over a stopped service", t, func() {
		mux := http.NewServeMux()
		api.NewServer(newService()).Register(context.Background(), mux)

		Convey("Then cycles are unavailable", func() {
			w := do(mux, http.MethodPost, "/cycles", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

type brokenStats struct{}

func (brokenStats) GetStats(context.Context) (service.Stats, error) {
	return service.Stats{}, errors.New("store offline")
}

func TestStatsHandler(t *testing.T) {
	Convey("Given a stats provider that fails", t, func() {
		h := api.NewStatsHandler(brokenStats{})

		Convey("Then the handler answers 500 with the cause", func() {
			w := httptest.NewRecorder()
			h.HandleStats(w, httptest.NewRequest(http.MethodGet, "/stats", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(w.Body.String(), ShouldContainSubstring, "store offline")
		})
	})
}
