package ingest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/transferwire/internal/adapters/ingest"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/errs"
	. "github.com/smartystreets/goconvey/convey"
)

const feed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Transfer desk</title>
    <item>
      <title>Arsenal agree &amp; fee for Declan Rice</title>
      <guid>rice-1</guid>
      <description>&lt;p&gt;Club-record package with West Ham.&lt;/p&gt;</description>
      <pubDate>Wed, 01 Jul 2026 12:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Match report: Chelsea 2-0 Spurs</title>
      <link>http://example.com/report</link>
    </item>
    <item>
      <title></title>
    </item>
  </channel>
</rss>`

func rssSource(url string) model.Source {
	return model.Source{ID: "desk", Region: model.RegionEngland, Tier: 1, Active: true, Kind: model.SourceKindRSS, FeedURL: url}
}

func TestRSSFetcher(t *testing.T) {
	Convey("Given a feed server", t, func() {
		ctx := context.Background()
		var status atomic.Int32
		status.Store(http.StatusOK)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if code := int(status.Load()); code != http.StatusOK {
				w.WriteHeader(code)
				return
			}
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte(feed))
		}))
		Reset(server.Close)

		fetched := time.Date(2026, 7, 2, 8, 0, 0, 0, time.UTC)
		f := ingest.NewRSSFetcher(ingest.WithHostRate(0, 1), ingest.WithFetchClock(func() time.Time { return fetched }))

		Convey("When the feed is fetched", func() {
			sigs, err := f.Fetch(ctx, rssSource(server.URL))

			Convey("Then every item with text becomes a signal", func() {
				So(err, ShouldBeNil)
				So(len(sigs), ShouldEqual, 2)
				So(sigs[0].Text, ShouldEqual, "Arsenal agree & fee for Declan Rice. Club-record package with West Ham.")
				So(sigs[0].SourceID, ShouldEqual, "desk")
				So(sigs[0].ObservedAt.Equal(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(sigs[1].ObservedAt.Equal(fetched), ShouldBeTrue)
			})

			Convey("Then ids are stable across polls", func() {
				again, err := f.Fetch(ctx, rssSource(server.URL))
				So(err, ShouldBeNil)
				So(again[0].ID, ShouldEqual, sigs[0].ID)
				So(sigs[0].ID, ShouldEqual, ingest.ItemID("desk", "rice-1"))
				So(sigs[0].ID, ShouldNotEqual, sigs[1].ID)
			})
		})

		Convey("When the server fails", func() {
			status.Store(http.StatusBadGateway)
			_, err := f.Fetch(ctx, rssSource(server.URL))

			Convey("Then the error is transient", func() {
				So(errs.IsTransient(err), ShouldBeTrue)
				So(errs.KindOf(err), ShouldEqual, errs.KindIngestion)
				So(errors.Is(err, ingest.ErrHTTPStatus), ShouldBeTrue)
			})
		})

		Convey("When the feed is gone", func() {
			status.Store(http.StatusNotFound)
			_, err := f.Fetch(ctx, rssSource(server.URL))
			So(err, ShouldNotBeNil)
			So(errs.IsTransient(err), ShouldBeFalse)
		})

		Convey("When the source has no url", func() {
			_, err := f.Fetch(ctx, rssSource(""))
			So(errors.Is(err, ingest.ErrNoFeedURL), ShouldBeTrue)
		})
	})
}

func TestRetrying(t *testing.T) {
	Convey("Given a flaky fetcher", t, func() {
		ctx := context.Background()
		src := model.Source{ID: "flaky", Tier: 1}
		var calls atomic.Int32
		failures := int32(2)
		transient := true
		flaky := ingest.FetcherFunc(func(context.Context, model.Source) ([]model.Signal, error) {
			n := calls.Add(1)
			if n <= failures {
				if transient {
					return nil, errs.Transient("test", errs.KindIngestion, errors.New("reset"))
				}
				return nil, errs.New("test", errs.KindIngestion, "bad request")
			}
			return []model.Signal{{ID: "s1", SourceID: "flaky"}}, nil
		})
		r := ingest.NewRetrying(flaky, ingest.WithBackoff(time.Millisecond, 2*time.Millisecond))

		Convey("When it recovers within the attempt budget", func() {
			sigs, err := r.Fetch(ctx, src)
			So(err, ShouldBeNil)
			So(len(sigs), ShouldEqual, 1)
			So(calls.Load(), ShouldEqual, 3)
		})

		Convey("When it keeps failing", func() {
			failures = 10
			_, err := r.Fetch(ctx, src)
			So(err, ShouldNotBeNil)
			So(calls.Load(), ShouldEqual, ingest.DefaultAttempts)
			So(errs.KindOf(err), ShouldEqual, errs.KindIngestion)
		})

		Convey("When the failure is permanent", func() {
			transient = false
			_, err := r.Fetch(ctx, src)
			So(err, ShouldNotBeNil)
			So(calls.Load(), ShouldEqual, 1)
		})

		Convey("When an attempt hangs", func() {
			hung := ingest.FetcherFunc(func(ctx context.Context, _ model.Source) ([]model.Signal, error) {
				if calls.Add(1) == 1 {
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return []model.Signal{{ID: "s1"}}, nil
			})
			r := ingest.NewRetrying(hung,
				ingest.WithAttemptTimeout(10*time.Millisecond),
				ingest.WithBackoff(time.Millisecond, time.Millisecond))

			Convey("Then only that attempt fails", func() {
				sigs, err := r.Fetch(ctx, src)
				So(err, ShouldBeNil)
				So(len(sigs), ShouldEqual, 1)
				So(calls.Load(), ShouldEqual, 2)
			})
		})

		Convey("When the caller cancels", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			failures = 10
			_, err := r.Fetch(cctx, src)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(calls.Load(), ShouldEqual, 1)
		})
	})
}

func TestPushBuffer(t *testing.T) {
	Convey("Given a push buffer", t, func() {
		ctx := context.Background()
		b := ingest.NewPushBuffer(2)
		at := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
		sig := func(id, src string) model.Signal {
			return model.Signal{ID: id, SourceID: src, Text: "Rice to Arsenal", ObservedAt: at}
		}

		Convey("When signals are pushed", func() {
			So(b.Push(sig("a", "wire"), sig("b", "wire")), ShouldBeNil)

			Convey("Then the next poll drains them", func() {
				got, err := b.Fetch(ctx, model.Source{ID: "wire"})
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 2)
				So(b.Pending("wire"), ShouldEqual, 0)
			})

			Convey("Then the capacity is enforced", func() {
				So(errors.Is(b.Push(sig("c", "wire")), ingest.ErrBufferFull), ShouldBeTrue)
				So(b.Push(sig("c", "paper")), ShouldBeNil)
			})

			Convey("Then requeued signals come back first", func() {
				got, _ := b.Fetch(ctx, model.Source{ID: "wire"})
				So(b.Push(sig("c", "wire")), ShouldBeNil)
				b.Requeue(got[:1])
				again, _ := b.Fetch(ctx, model.Source{ID: "wire"})
				So(again[0].ID, ShouldEqual, "a")
				So(again[1].ID, ShouldEqual, "c")
			})
		})

		Convey("When a signal is invalid", func() {
			bad := sig("", "wire")
			So(errors.Is(b.Push(bad), model.ErrInvalidSignal), ShouldBeTrue)
		})
	})
}

func TestMux(t *testing.T) {
	Convey("Given a mux with a static route", t, func() {
		ctx := context.Background()
		static := ingest.NewStatic()
		static.Set("page", model.Signal{ID: "p1", SourceID: "page"})
		mux := ingest.NewMux().Handle(model.SourceKindStatic, static)

		Convey("Then static sources serve the same signals every poll", func() {
			for range 2 {
				got, err := mux.Fetch(ctx, model.Source{ID: "page", Kind: model.SourceKindStatic})
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 1)
			}
		})

		Convey("Then unknown kinds are rejected", func() {
			_, err := mux.Fetch(ctx, model.Source{ID: "x", Kind: model.SourceKindRSS})
			So(errors.Is(err, ingest.ErrNoRoute), ShouldBeTrue)
		})
	})
}
