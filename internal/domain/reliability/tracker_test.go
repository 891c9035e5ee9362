package reliability_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/reliability"
	. "github.com/smartystreets/goconvey/convey"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type catalog []model.Source

func (c catalog) Sources() []model.Source { return c }

type memStore struct {
	mu    sync.Mutex
	saved map[string]model.ReliabilityMetric
	fail  bool
}

func (s *memStore) SaveMetric(_ context.Context, m model.ReliabilityMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	if s.saved == nil {
		s.saved = map[string]model.ReliabilityMetric{}
	}
	s.saved[m.SourceID] = m
	return nil
}

func (s *memStore) LoadMetrics(context.Context) ([]model.ReliabilityMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ReliabilityMetric, 0, len(s.saved))
	for _, m := range s.saved {
		out = append(out, m)
	}
	return out, nil
}

var epoch = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func TestRecordSignal(t *testing.T) {
	Convey("Given a tracker", t, func() {
		clk := &clock{t: epoch}
		tr := reliability.NewTracker(reliability.WithClock(clk.Now))
		ctx := context.Background()

		Convey("When a source is unknown", func() {
			Convey("Then it scores neutral and has no metric", func() {
				So(tr.Score("ghost"), ShouldEqual, 0.5)
				_, ok := tr.Metric("ghost")
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When a signal is recorded without outcomes", func() {
			tr.RecordSignal(ctx, "x", true, 0.9, epoch)
			m, ok := tr.Metric("x")

			Convey("Then accuracy moves toward confidence by smoothing", func() {
				So(ok, ShouldBeTrue)
				So(m.TotalSignals, ShouldEqual, 1)
				So(m.TransferRelatedSignals, ShouldEqual, 1)
				So(m.AccuracyRate, ShouldAlmostEqual, 0.5*0.9+0.9*0.1, 1e-9)
				So(m.Trend, ShouldEqual, model.TrendStable)
			})
		})

		Convey("When an irrelevant signal is recorded", func() {
			tr.RecordSignal(ctx, "x", false, 0.2, epoch)
			m, _ := tr.Metric("x")
			So(m.TotalSignals, ShouldEqual, 1)
			So(m.TransferRelatedSignals, ShouldEqual, 0)
		})

		Convey("When concurrent signals hit one source", func() {
			var wg sync.WaitGroup
			for range 100 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					tr.RecordSignal(ctx, "busy", true, 0.8, epoch)
				}()
			}
			wg.Wait()
			m, _ := tr.Metric("busy")
			So(m.TotalSignals, ShouldEqual, 100)
		})
	})
}

func TestRecordOutcome(t *testing.T) {
	Convey("Given a source with outcomes", t, func() {
		clk := &clock{t: epoch}
		tr := reliability.NewTracker(reliability.WithClock(clk.Now))
		ctx := context.Background()

		for range 10 {
			tr.RecordOutcome(ctx, "fabrizio", true, epoch, epoch.Add(90*time.Minute))
		}

		Convey("When all ten outcomes were confirmed", func() {
			m, _ := tr.Metric("fabrizio")

			Convey("Then accuracy is the confirmed ratio", func() {
				So(m.AccuracyRate, ShouldEqual, 1.0)
				So(m.ConfirmedOutcomes, ShouldEqual, 10)
				So(m.AverageResponseTimeMinutes, ShouldAlmostEqual, 90, 1e-9)
				So(m.Baseline, ShouldEqual, 0.5)
				So(m.Trend, ShouldEqual, model.TrendImproving)
			})

			Convey("And the score is capped", func() {
				So(tr.Score("fabrizio"), ShouldEqual, 0.99)
			})
		})

		Convey("When one false positive follows", func() {
			tr.RecordOutcome(ctx, "fabrizio", false, epoch, epoch.Add(time.Hour))
			m, _ := tr.Metric("fabrizio")

			Convey("Then accuracy is 10/11", func() {
				So(m.AccuracyRate, ShouldAlmostEqual, 10.0/11.0, 1e-9)
				So(m.FalsePositives, ShouldEqual, 1)
				So(m.AverageResponseTimeMinutes, ShouldAlmostEqual, 90, 1e-9)
			})
		})

		Convey("When later signals arrive", func() {
			tr.RecordSignal(ctx, "fabrizio", true, 0.1, epoch)
			m, _ := tr.Metric("fabrizio")

			Convey("Then smoothing no longer applies", func() {
				So(m.AccuracyRate, ShouldEqual, 1.0)
			})
		})
	})

	Convey("Given a source that falls below its baseline", t, func() {
		tr := reliability.NewTracker()
		ctx := context.Background()
		tr.RecordOutcome(ctx, "tabloid", false, epoch, epoch)
		tr.RecordOutcome(ctx, "tabloid", false, epoch, epoch)
		tr.RecordOutcome(ctx, "tabloid", true, epoch, epoch)
		m, _ := tr.Metric("tabloid")

		Convey("Then the trend is declining against the frozen baseline", func() {
			So(m.Baseline, ShouldEqual, 0.5)
			So(m.AccuracyRate, ShouldAlmostEqual, 1.0/3.0, 1e-9)
			So(m.Trend, ShouldEqual, model.TrendDeclining)
		})
	})
}

func TestScoreDecay(t *testing.T) {
	Convey("Given a source with accuracy 0.9", t, func() {
		clk := &clock{t: epoch}
		tr := reliability.NewTracker(reliability.WithClock(clk.Now))
		ctx := context.Background()
		for i := range 10 {
			tr.RecordOutcome(ctx, "x", i < 9, epoch, epoch)
		}

		Convey("When it was just updated", func() {
			So(tr.Score("x"), ShouldAlmostEqual, 0.9, 1e-9)
		})

		Convey("When it has been silent for 6 days", func() {
			clk.Advance(6 * 24 * time.Hour)
			So(tr.Score("x"), ShouldAlmostEqual, 0.9*0.8, 1e-9)
		})

		Convey("When it has been silent for 30 days", func() {
			clk.Advance(30 * 24 * time.Hour)
			So(tr.Score("x"), ShouldBeLessThanOrEqualTo, 0.45)
		})

		Convey("When it has been silent for a year", func() {
			clk.Advance(365 * 24 * time.Hour)

			Convey("Then decay stops at half the raw accuracy", func() {
				So(tr.Score("x"), ShouldAlmostEqual, 0.45, 1e-9)
			})
		})
	})
}

func TestBoundedScores(t *testing.T) {
	Convey("Given many random updates", t, func() {
		clk := &clock{t: epoch}
		tr := reliability.NewTracker(reliability.WithClock(clk.Now))
		ctx := context.Background()
		for i := range 500 {
			id := fmt.Sprintf("s%d", i%7)
			switch i % 3 {
			case 0:
				tr.RecordSignal(ctx, id, i%2 == 0, float64(i%13)/6.0, epoch)
			case 1:
				tr.RecordOutcome(ctx, id, i%5 != 0, epoch, epoch.Add(time.Duration(i)*time.Minute))
			default:
				clk.Advance(time.Duration(i) * time.Hour)
			}
		}

		Convey("Then accuracy and score stay within bounds", func() {
			for _, m := range tr.Metrics() {
				So(m.AccuracyRate, ShouldBeBetweenOrEqual, 0, 1)
				So(tr.Score(m.SourceID), ShouldBeBetweenOrEqual, 0, 0.99)
			}
		})
	})
}

func TestRegionalProfiles(t *testing.T) {
	Convey("Given sources in two regions", t, func() {
		clk := &clock{t: epoch}
		cat := catalog{
			{ID: "a", Region: model.RegionEngland, Tier: 1, Active: true},
			{ID: "b", Region: model.RegionEngland, Tier: 2, Active: true},
			{ID: "c", Region: model.RegionEngland, Tier: 3, Active: true},
			{ID: "d", Region: model.RegionEngland, Tier: 3, Active: true},
			{ID: "off", Region: model.RegionEngland, Tier: 3, Active: false},
			{ID: "e", Region: model.RegionSpain, Tier: 1, Active: true},
		}
		tr := reliability.NewTracker(
			reliability.WithClock(clk.Now),
			reliability.WithCatalog(cat),
			reliability.WithRegions(map[model.Region]reliability.RegionConfig{
				model.RegionEngland: {Timezone: "Europe/London", TargetSources: 8, DefaultPeakHours: []int{18, 9, 12}},
				model.RegionSpain:   {Timezone: "Europe/Madrid", TargetSources: 1},
				model.RegionItaly:   {Timezone: "Europe/Rome", TargetSources: 4},
			}),
			reliability.WithPeakLearning(10, 2),
		)
		ctx := context.Background()

		tr.RecordOutcome(ctx, "a", true, epoch, epoch)
		tr.RecordOutcome(ctx, "b", false, epoch, epoch)
		tr.RecordSignal(ctx, "c", true, 0.9, epoch)
		tr.RecordSignal(ctx, "d", true, 0.8, epoch)

		Convey("When reading the england profile", func() {
			p, ok := tr.Profile(model.RegionEngland)

			Convey("Then it aggregates its active sources", func() {
				So(ok, ShouldBeTrue)
				So(p.SourceCount, ShouldEqual, 4)
				So(p.CoverageQuality, ShouldEqual, 0.5)
				So(p.TopPerformingSources, ShouldResemble, []string{"a", "c", "d"})
				So(p.AverageAccuracy, ShouldAlmostEqual, (1.0+0.0+0.54+0.53)/4, 1e-9)
				So(p.Timezone, ShouldEqual, "Europe/London")
			})

			Convey("And peak hours fall back to defaults before enough samples", func() {
				So(p.LearnedPeakHours, ShouldBeFalse)
				So(p.PeakActivityHours, ShouldResemble, []int{9, 12, 18})
			})
		})

		Convey("When enough signals were observed", func() {
			evening := time.Date(2026, 7, 1, 19, 30, 0, 0, time.UTC) // 20:30 in London (BST)
			for range 8 {
				tr.RecordSignal(ctx, "a", true, 0.9, evening)
			}
			tr.RecordSignal(ctx, "b", true, 0.9, epoch)

			Convey("Then peak hours are learned in the region's timezone", func() {
				p, _ := tr.Profile(model.RegionEngland)
				So(p.LearnedPeakHours, ShouldBeTrue)
				So(p.PeakActivityHours, ShouldResemble, []int{13, 20})
			})
		})

		Convey("Then coverage is capped at one", func() {
			p, _ := tr.Profile(model.RegionSpain)
			So(p.CoverageQuality, ShouldEqual, 1.0)
		})

		Convey("Then configured regions without sources still have a profile", func() {
			p, ok := tr.Profile(model.RegionItaly)
			So(ok, ShouldBeTrue)
			So(p.SourceCount, ShouldEqual, 0)
			So(p.CoverageQuality, ShouldEqual, 0.0)
			So(len(tr.Profiles()), ShouldEqual, 3)
		})
	})
}

func TestPersistence(t *testing.T) {
	Convey("Given a metric store", t, func() {
		store := &memStore{}
		ctx := context.Background()
		tr := reliability.NewTracker(reliability.WithStore(store))
		tr.RecordOutcome(ctx, "x", true, epoch, epoch)

		Convey("When a new tracker loads from it", func() {
			fresh := reliability.NewTracker(reliability.WithStore(store))
			So(fresh.Load(ctx), ShouldBeNil)

			Convey("Then the metric survives", func() {
				m, ok := fresh.Metric("x")
				So(ok, ShouldBeTrue)
				So(m.ConfirmedOutcomes, ShouldEqual, 1)
			})
		})

		Convey("When the store fails", func() {
			store.fail = true

			Convey("Then recording still succeeds in memory", func() {
				So(func() { tr.RecordSignal(ctx, "x", true, 0.9, epoch) }, ShouldNotPanic)
				m, _ := tr.Metric("x")
				So(m.TotalSignals, ShouldEqual, 1)
			})
		})
	})
}
