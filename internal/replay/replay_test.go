package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/transferwire/internal/domain/model"
)

func TestConfig(t *testing.T) {
	Convey("Given replay configs", t, func() {
		So(DefaultConfig().Validate(), ShouldBeNil)

		cases := []struct {
			name   string
			mutate func(*Config)
		}{
			{"no sources", func(c *Config) { c.Sources = 0 }},
			{"no transfers", func(c *Config) { c.Transfers = 0 }},
			{"too many transfers", func(c *Config) { c.Transfers = len(players)*len(moves) + 1 }},
			{"no cycles", func(c *Config) { c.Cycles = 0 }},
			{"zero step", func(c *Config) { c.Step = 0 }},
			{"noise above one", func(c *Config) { c.NoiseRate = 1.5 }},
			{"negative resend", func(c *Config) { c.ResendRate = -0.1 }},
			{"no workers", func(c *Config) { c.Workers = 0 }},
		}
		for _, tc := range cases {
			Convey("Then "+tc.name+" is rejected", func() {
				cfg := DefaultConfig()
				tc.mutate(&cfg)
				So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
			})
		}
	})
}

func TestGenerator(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		cfg := DefaultConfig()
		sources := buildSources(cfg.Sources)

		Convey("Then sources cycle through tiers and regions", func() {
			So(sources, ShouldHaveLength, cfg.Sources)
			So(sources[0].Tier, ShouldEqual, 1)
			So(sources[1].Tier, ShouldEqual, 2)
			So(sources[2].Tier, ShouldEqual, 3)
			So(sources[1].Region, ShouldEqual, model.RegionSpain)
			for _, s := range sources {
				So(s.Validate(), ShouldBeNil)
				So(s.Kind, ShouldEqual, model.SourceKindPush)
			}
		})

		Convey("Then the same seed yields the same signals", func() {
			a, b := newGenerator(cfg, sources), newGenerator(cfg, sources)
			for range 5 {
				fa, ra := a.batch(windowOpens, cfg.Step)
				fb, rb := b.batch(windowOpens, cfg.Step)
				So(fb, ShouldResemble, fa)
				So(rb, ShouldResemble, ra)
			}
		})

		Convey("Then batches stay inside their window and resend earlier ids", func() {
			g := newGenerator(cfg, sources)
			seen := map[string]bool{}
			at := windowOpens
			for range 10 {
				fresh, resent := g.batch(at, cfg.Step)
				for _, s := range fresh {
					So(seen[s.ID], ShouldBeFalse)
					So(s.ObservedAt.Before(at), ShouldBeFalse)
					So(s.ObservedAt.Before(at.Add(cfg.Step)), ShouldBeTrue)
				}
				for _, s := range resent {
					So(seen[s.ID], ShouldBeTrue)
				}
				for _, s := range fresh {
					seen[s.ID] = true
				}
				at = at.Add(cfg.Step)
			}
		})

		Convey("Then stalled transfers never pass a bid", func() {
			cfg.GenuineRate = 0
			g := newGenerator(cfg, sources)
			for range cfg.Cycles {
				g.batch(windowOpens, cfg.Step)
			}
			for _, tr := range g.transfers {
				So(tr.genuine, ShouldBeFalse)
				So(tr.rung, ShouldBeLessThanOrEqualTo, stalledCeiling)
			}
		})
	})
}

func TestVerifier(t *testing.T) {
	Convey("Given a verifier", t, func() {
		g := &generator{origin: map[string]int{"s1": 0, "s2": 0, "noise": -1}}
		v := newVerifier()
		st := func(id, hash string, status model.Status, updates int, signals ...string) model.Story {
			return model.Story{ID: id, CanonicalHash: hash, Status: status, UpdateCount: updates, SignalIDs: signals}
		}
		checks := func() []string {
			out := make([]string, 0, len(v.violations))
			for _, x := range v.violations {
				out = append(out, x.Check)
			}
			return out
		}

		Convey("When snapshots are consistent", func() {
			v.observe(1, []model.Story{st("a", "h1", model.StatusDraft, 1, "s1")}, map[string]float64{"x": 0.5}, g)
			v.observe(2, []model.Story{st("a", "h1", model.StatusPublished, 2, "s1", "s2")}, map[string]float64{"x": 0.99}, g)
			So(v.violations, ShouldBeEmpty)
		})

		Convey("When a retracted story shares a hash with a live one", func() {
			v.observe(1, []model.Story{
				st("a", "h1", model.StatusRetracted, 1, "s1"),
				st("b", "h1", model.StatusDraft, 1, "s2"),
			}, nil, g)
			So(v.violations, ShouldBeEmpty)
		})

		Convey("When two live stories share a hash and a signal", func() {
			v.observe(1, []model.Story{
				st("a", "h1", model.StatusDraft, 1, "s1"),
				st("b", "h1", model.StatusDraft, 1, "s1"),
			}, nil, g)
			So(checks(), ShouldContain, CheckHashUnique)
			So(checks(), ShouldContain, CheckSignalOnce)
		})

		Convey("When a story goes backwards", func() {
			v.observe(1, []model.Story{st("a", "h1", model.StatusPublished, 3, "s1")}, nil, g)
			v.observe(2, []model.Story{st("a", "h1", model.StatusDraft, 2, "s1")}, nil, g)
			So(checks(), ShouldContain, CheckUpdateCount)
			So(checks(), ShouldContain, CheckStatus)
		})

		Convey("When chatter or unknown signals appear and scores overflow", func() {
			v.observe(1, []model.Story{st("a", "h1", model.StatusDraft, 1, "noise", "ghost")}, map[string]float64{"x": 1}, g)
			So(checks(), ShouldContain, CheckChatter)
			So(checks(), ShouldContain, CheckUnknownSignals)
			So(checks(), ShouldContain, CheckScoreBounds)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given the default replay", t, func() {
		ctx := context.Background()
		cfg := DefaultConfig()
		cfg.OutputFile = filepath.Join(t.TempDir(), "out", "signals.json")

		rep, err := Run(ctx, cfg, nil)
		So(err, ShouldBeNil)

		Convey("Then every invariant holds", func() {
			So(rep.Violations, ShouldBeEmpty)
			So(rep.OK(), ShouldBeTrue)
		})

		Convey("Then the pipeline built stories from the signals", func() {
			totals := rep.Totals()
			So(rep.Signals, ShouldBeGreaterThan, 0)
			So(rep.Stories, ShouldBeGreaterThan, 0)
			So(rep.Cycles, ShouldHaveLength, cfg.Cycles+drainCycles)
			So(totals.Created, ShouldBeGreaterThan, 0)
			So(totals.Fetched, ShouldBeLessThanOrEqualTo, rep.Signals+rep.Resent)
			So(totals.Duplicates, ShouldBeLessThanOrEqualTo, rep.Resent)
			So(rep.Sources, ShouldHaveLength, cfg.Sources)
			for _, s := range rep.Sources {
				So(s.Score, ShouldBeBetweenOrEqual, 0, 0.99)
			}
		})

		Convey("Then the signals are saved", func() {
			data, err := os.ReadFile(cfg.OutputFile)
			So(err, ShouldBeNil)
			var saved []model.Signal
			So(json.Unmarshal(data, &saved), ShouldBeNil)
			So(saved, ShouldHaveLength, rep.Signals)
		})

		Convey("Then the report renders", func() {
			var buf bytes.Buffer
			So(rep.Render(&buf), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, "Replay seed 42")
			So(buf.String(), ShouldContainSubstring, "replay-01")
		})

		Convey("Then the same seed generates the same window", func() {
			again, err := Run(ctx, DefaultConfig(), nil)
			So(err, ShouldBeNil)
			So(again.Signals, ShouldEqual, rep.Signals)
			So(again.Resent, ShouldEqual, rep.Resent)
		})
	})

	Convey("Given an invalid config", t, func() {
		cfg := DefaultConfig()
		cfg.Cycles = 0
		_, err := Run(context.Background(), cfg, nil)
		So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		cfg := DefaultConfig()
		cfg.Step = time.Minute
		_, err := Run(ctx, cfg, nil)
		So(err, ShouldNotBeNil)
	})
}
