package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/schedule"
	. "github.com/smartystreets/goconvey/convey"
)

// seq replays fixed draws.
type seq struct {
	draws []float64
	i     int
}

func (s *seq) Float64() float64 {
	v := s.draws[s.i%len(s.draws)]
	s.i++
	return v
}

type catalog []model.Source

func (c catalog) Active() []model.Source {
	out := []model.Source{}
	for _, s := range c {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

type rel struct {
	metrics  map[string]model.ReliabilityMetric
	scores   map[string]float64
	profiles map[model.Region]model.RegionalProfile
}

func (r rel) Metric(id string) (model.ReliabilityMetric, bool) {
	m, ok := r.metrics[id]
	return m, ok
}

func (r rel) Score(id string) float64 {
	if s, ok := r.scores[id]; ok {
		return s
	}
	return 0.5
}

func (r rel) Profile(region model.Region) (model.RegionalProfile, bool) {
	p, ok := r.profiles[region]
	return p, ok
}

func (r rel) Profiles() []model.RegionalProfile {
	out := []model.RegionalProfile{}
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}

var noon = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func fixture() (catalog, rel) {
	cat := catalog{
		{ID: "wire", Region: model.RegionEngland, Tier: 1, Active: true},
		{ID: "paper", Region: model.RegionEngland, Tier: 2, Active: true},
		{ID: "blog", Region: model.RegionEngland, Tier: 3, Active: true},
		{ID: "gone", Region: model.RegionEngland, Tier: 1, Active: false},
	}
	r := rel{
		metrics: map[string]model.ReliabilityMetric{
			"blog":  {SourceID: "blog", Trend: model.TrendDeclining},
			"paper": {SourceID: "paper", Trend: model.TrendImproving},
		},
		scores: map[string]float64{"wire": 0.95, "paper": 0.8, "blog": 0.3},
		profiles: map[model.Region]model.RegionalProfile{
			model.RegionEngland: {Region: model.RegionEngland, Timezone: "UTC", PeakActivityHours: []int{12, 13}, CoverageQuality: 0.6},
		},
	}
	return cat, r
}

func ids(srcs []model.Source) []string {
	out := []string{}
	for _, s := range srcs {
		out = append(out, s.ID)
	}
	return out
}

func TestDue(t *testing.T) {
	Convey("Given a scheduler with a fixed random source", t, func() {
		cat, r := fixture()
		ctx := context.Background()

		Convey("When no source was polled yet", func() {
			s := schedule.New(cat, r, schedule.WithRand(&seq{draws: []float64{0.99}}))

			Convey("Then every active source is due", func() {
				So(ids(s.Due(ctx, noon)), ShouldResemble, []string{"wire", "paper", "blog"})
			})
		})

		Convey("When sources were just polled", func() {
			s := schedule.New(cat, r, schedule.WithRand(&seq{draws: []float64{0}}))
			for _, src := range cat {
				s.MarkPolled(src.ID, noon)
			}

			Convey("Then none is due before its interval", func() {
				So(s.Due(ctx, noon.Add(time.Minute)), ShouldBeEmpty)
			})

			Convey("Then tier 1 is due first", func() {
				So(ids(s.Due(ctx, noon.Add(6*time.Minute))), ShouldResemble, []string{"wire"})
			})
		})

		Convey("When the trend changes the interval", func() {
			s := schedule.New(cat, r)
			paper, blog := cat[1], cat[2]

			Convey("Then improving shortens and declining doubles it", func() {
				So(s.Interval(paper), ShouldEqual, time.Duration(float64(15*time.Minute)*0.75))
				So(s.Interval(blog), ShouldEqual, 60*time.Minute)
			})
		})

		Convey("When eligible during peak hours", func() {
			s := schedule.New(cat, r, schedule.WithRand(&seq{draws: []float64{0.5}}))
			s.MarkPolled("wire", noon.Add(-time.Hour))

			Convey("Then a mid draw polls because the peak probability is high", func() {
				So(s.Probability(cat[0], noon), ShouldEqual, 0.9)
				So(ids(s.Due(ctx, noon)), ShouldContain, "wire")
			})
		})

		Convey("When eligible during quiet hours", func() {
			s := schedule.New(cat, r, schedule.WithRand(&seq{draws: []float64{0.5}}))
			evening := noon.Add(10 * time.Hour)
			s.MarkPolled("wire", evening.Add(-time.Hour))
			s.MarkPolled("paper", evening.Add(-time.Hour))
			s.MarkPolled("blog", evening.Add(-2*time.Hour))

			Convey("Then the same draw skips the poll", func() {
				So(s.Probability(cat[0], evening), ShouldEqual, 0.3)
				So(s.Due(ctx, evening), ShouldBeEmpty)
			})
		})

		Convey("When a declining source is eligible", func() {
			s := schedule.New(cat, r)
			So(s.Probability(cat[2], noon), ShouldEqual, 0.45)
		})

		Convey("When two schedulers share a seed", func() {
			a := schedule.New(cat, r, schedule.WithSeed(7), schedule.WithProbabilities(0.5, 0.5))
			b := schedule.New(cat, r, schedule.WithSeed(7), schedule.WithProbabilities(0.5, 0.5))
			var da, db [][]string
			for i := range 20 {
				at := noon.Add(time.Duration(i) * time.Hour)
				da = append(da, ids(a.Due(ctx, at)))
				db = append(db, ids(b.Due(ctx, at)))
				for _, src := range cat {
					a.MarkPolled(src.ID, at.Add(-2*time.Hour))
					b.MarkPolled(src.ID, at.Add(-2*time.Hour))
				}
			}

			Convey("Then their decisions are identical", func() {
				So(da, ShouldResemble, db)
			})
		})
	})
}

func TestRecommendations(t *testing.T) {
	Convey("Given a scheduler", t, func() {
		cat, r := fixture()
		s := schedule.New(cat, r, schedule.WithPriorityCount(2))
		s.MarkPolled("wire", noon)
		rec := s.Recommendations(noon)

		Convey("Then priority sources are ranked by score", func() {
			So(rec.PrioritySources, ShouldHaveLength, 2)
			So(rec.PrioritySources[0].SourceID, ShouldEqual, "wire")
			So(rec.PrioritySources[0].NextPoll.Equal(noon.Add(5*time.Minute)), ShouldBeTrue)
			So(rec.PrioritySources[1].SourceID, ShouldEqual, "paper")
		})

		Convey("Then regional peak hours and coverage are reported", func() {
			So(rec.PeakHours[model.RegionEngland], ShouldResemble, []int{12, 13})
			So(rec.RegionCoverage[model.RegionEngland], ShouldEqual, 0.6)
		})
	})
}
