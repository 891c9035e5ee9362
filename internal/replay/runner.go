package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	service "github.com/okian/transferwire/internal/app"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/story"
	"github.com/okian/transferwire/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0640
)

// pushCapacity keeps a whole replay inside the push buffer.
const pushCapacity = 100000

// windowOpens is the simulated start of the replay.
var windowOpens = time.Date(2026, time.July, 1, 8, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // fixed epoch

// SourceLine is one source's reliability at the end of a replay.
type SourceLine struct {
	Source model.Source            `json:"source"`
	Score  float64                 `json:"score"`
	Metric model.ReliabilityMetric `json:"metric"`
}

// Report summarises a replay.
type Report struct {
	Seed        int64                 `json:"seed"`
	Signals     int                   `json:"signals"`
	Resent      int                   `json:"resent"`
	Stories     int                   `json:"stories"`
	Published   int                   `json:"published"`
	Retracted   int                   `json:"retracted"`
	NeedsReview int                   `json:"needs_review"`
	Confirmed   int                   `json:"confirmed"`
	Refuted     int                   `json:"refuted"`
	Cycles      []service.CycleReport `json:"cycles"`
	Sources     []SourceLine          `json:"sources"`
	Violations  []Violation           `json:"violations"`
	StartTime   time.Time             `json:"start_time"`
	EndTime     time.Time             `json:"end_time"`
	Duration    time.Duration         `json:"duration_ns"`
}

// OK reports whether every invariant held.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

// Totals sums the per-cycle counters.
func (r *Report) Totals() service.CycleReport {
	var t service.CycleReport
	for _, c := range r.Cycles {
		t.Polled += c.Polled
		t.Fetched += c.Fetched
		t.Duplicates += c.Duplicates
		t.Classified += c.Classified
		t.Relevant += c.Relevant
		t.Created += c.Created
		t.Merged += c.Merged
		t.FuzzyMerged += c.FuzzyMerged
		t.Ambiguous += c.Ambiguous
		t.Published += c.Published
	}
	return t
}

// clock is the simulated time shared with the pipeline.
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

// Run executes a complete replay against a fresh in-memory pipeline.
func Run(ctx context.Context, cfg Config, log logger.Logger) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	rep := &Report{Seed: cfg.Seed, StartTime: time.Now()}

	log.Info(ctx, "starting replay",
		logger.Int64("seed", cfg.Seed),
		logger.Int("sources", cfg.Sources),
		logger.Int("transfers", cfg.Transfers),
		logger.Int("cycles", cfg.Cycles),
		logger.Duration("step", cfg.Step),
	)

	sources := buildSources(cfg.Sources)
	gen := newGenerator(cfg, sources)
	clk := &clock{t: windowOpens}

	pipelineLog := logger.Nop()
	if cfg.Verbose {
		pipelineLog = log.Named("pipeline")
	}

	// Step 1: Build an isolated pipeline
	svc, err := service.New(
		service.WithSources(sources),
		service.WithClock(clk.Now),
		service.WithSeed(cfg.Seed),
		service.WithCycleInterval(0),
		service.WithWorkerCount(cfg.Workers),
		service.WithPushCapacity(pushCapacity),
		service.WithLogger(pipelineLog),
	)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	var published atomic.Int64
	svc.OnStoryPublished(func(model.Story) { published.Add(1) })

	if err := svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}
	defer func() {
		if err := svc.Stop(context.WithoutCancel(ctx)); err != nil {
			log.Warn(ctx, "pipeline stop failed", logger.Error(err))
		}
	}()

	v := newVerifier()
	cycle := func(n int) error {
		cr, err := svc.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("cycle %d: %w", n, err)
		}
		rep.Cycles = append(rep.Cycles, cr)
		stories, err := svc.Stories(ctx, story.Filter{})
		if err != nil {
			return fmt.Errorf("list stories: %w", err)
		}
		v.observe(n, stories, scores(svc, sources), gen)
		if cfg.Verbose {
			log.Info(ctx, "cycle complete",
				logger.Int("cycle", n),
				logger.Int("polled", cr.Polled),
				logger.Int("fetched", cr.Fetched),
				logger.Int("created", cr.Created),
				logger.Int("merged", cr.Merged),
				logger.Int("published", cr.Published),
			)
		}
		return nil
	}

	// Step 2: Feed one batch per cycle
	for n := 1; n <= cfg.Cycles; n++ {
		fresh, resent := gen.batch(clk.Now(), cfg.Step)
		rep.Signals += len(fresh)
		rep.Resent += len(resent)
		if batch := append(fresh, resent...); len(batch) > 0 {
			if _, err := svc.IngestSignals(ctx, batch); err != nil {
				return nil, fmt.Errorf("ingest cycle %d: %w", n, err)
			}
		}
		clk.Advance(cfg.Step)
		if err := cycle(n); err != nil {
			return nil, err
		}
	}

	// Step 3: Drain sources whose interval outlasts the last step
	for n := cfg.Cycles + 1; n <= cfg.Cycles+drainCycles; n++ {
		clk.Advance(drainStep)
		if err := cycle(n); err != nil {
			return nil, err
		}
	}

	// Step 4: Resolve outcomes and retract what never happened
	if err := resolve(ctx, svc, gen, rep); err != nil {
		return nil, err
	}
	stories, err := svc.Stories(ctx, story.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	v.observe(len(rep.Cycles)+1, stories, scores(svc, sources), gen)

	// Step 5: Summarise
	for _, st := range stories {
		if st.Status == model.StatusRetracted {
			rep.Retracted++
		}
		if st.NeedsReview {
			rep.NeedsReview++
		}
	}
	rep.Stories = len(stories)
	rep.Published = int(published.Load())
	for _, src := range sources {
		m, _ := svc.Reliability(src.ID)
		rep.Sources = append(rep.Sources, SourceLine{Source: src, Score: svc.ReliabilityScore(src.ID), Metric: m})
	}
	rep.Violations = v.violations

	if cfg.OutputFile != "" {
		if err := saveSignals(cfg.OutputFile, gen.sent); err != nil {
			log.Warn(ctx, "failed to save signals to file", logger.Error(err))
		}
	}

	rep.EndTime = time.Now()
	rep.Duration = rep.EndTime.Sub(rep.StartTime)

	log.Info(ctx, "replay completed",
		logger.Int("stories", rep.Stories),
		logger.Int("published", rep.Published),
		logger.Int("violations", len(rep.Violations)),
		logger.Duration("took", rep.Duration),
	)
	return rep, nil
}

func scores(svc *service.Service, sources []model.Source) map[string]float64 {
	out := make(map[string]float64, len(sources))
	for _, src := range sources {
		out[src.ID] = svc.ReliabilityScore(src.ID)
	}
	return out
}

// resolve confirms completed genuine transfers and refutes the ones that
// never happen. Refuted stories that went out are retracted.
func resolve(ctx context.Context, svc *service.Service, gen *generator, rep *Report) error {
	stories, err := svc.Stories(ctx, story.Filter{})
	if err != nil {
		return fmt.Errorf("list stories: %w", err)
	}
	last := len(ladder) - 1
	for _, st := range stories {
		if st.Status.Superseded() || len(st.SignalIDs) == 0 {
			continue
		}
		t := gen.transferOf(st.SignalIDs[0])
		switch {
		case t == nil:
			continue
		case t.genuine && t.rung == last:
			if err := svc.RecordOutcome(ctx, st.ID, true, time.Time{}); err != nil {
				return fmt.Errorf("confirm %s: %w", st.ID, err)
			}
			rep.Confirmed++
		case !t.genuine:
			if err := svc.RecordOutcome(ctx, st.ID, false, time.Time{}); err != nil {
				return fmt.Errorf("refute %s: %w", st.ID, err)
			}
			rep.Refuted++
			if st.Status == model.StatusPublished {
				if _, err := svc.Retract(ctx, st.ID); err != nil {
					return fmt.Errorf("retract %s: %w", st.ID, err)
				}
			}
		}
	}
	return nil
}

// saveSignals writes the generated signals to a JSON file.
func saveSignals(filename string, signals []model.Signal) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	sorted := slices.Clone(signals)
	slices.SortStableFunc(sorted, func(a, b model.Signal) int { return a.ObservedAt.Compare(b.ObservedAt) })
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
