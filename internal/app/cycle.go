package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/transferwire/internal/adapters/mq/queue"
	"github.com/okian/transferwire/internal/domain/classify"
	"github.com/okian/transferwire/internal/domain/gate"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/story"
	"github.com/okian/transferwire/pkg/errs"
	"github.com/okian/transferwire/pkg/logger"
	"github.com/okian/transferwire/pkg/metrics"
)

// CycleReport summarises one pipeline cycle.
type CycleReport struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Cancelled bool          `json:"cancelled,omitempty"`

	Due      int `json:"due"`
	Rejected int `json:"rejected"`
	Polled   int `json:"polled"`
	Failed   int `json:"failed"`

	Fetched    int `json:"fetched"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
	Classified int `json:"classified"`
	Relevant   int `json:"relevant"`

	Created     int `json:"created"`
	Merged      int `json:"merged"`
	FuzzyMerged int `json:"fuzzy_merged"`
	Ambiguous   int `json:"ambiguous"`
	Published   int `json:"published"`
}

// pollResult is what one worker learned about one source.
type pollResult struct {
	source     model.Source
	polled     bool
	drained    []model.Signal // push signals, requeued if the cycle is abandoned
	signals    []model.Signal // classified, in fetch order
	recorded   []string       // ids added to the idempotency filter
	fetched    int
	duplicates int
	invalid    int
	err        error
}

type cycle struct {
	id  string
	ctx context.Context //nolint:containedctx // jobs run under the cycle's context

	wg      sync.WaitGroup
	mu      sync.Mutex
	results []pollResult
	slots   map[string]int
}

func (c *cycle) set(jobID string, r pollResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.slots[jobID]; ok {
		c.results[i] = r
	}
}

// RunCycle polls every due source, classifies and merges what they returned
// and gates the affected stories. A cycle cancelled before its polls finish
// leaves no trace: its signal ids are forgotten and pushed signals requeued.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	s.mu.RLock()
	started, q := s.started, s.queue
	s.mu.RUnlock()
	if !started {
		return CycleReport{}, ErrNotStarted
	}

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	begin := time.Now()
	now := s.now()
	rep := CycleReport{ID: fmt.Sprintf("cycle-%d", s.cycleSeq.Add(1)), StartedAt: now}

	due := s.scheduler.Due(ctx, now)
	rep.Due = len(due)

	c := &cycle{id: rep.ID, ctx: ctx, results: make([]pollResult, len(due)), slots: make(map[string]int, len(due))}
	s.cycles.Store(c.id, c)
	defer s.cycles.Delete(c.id)

	jobs := make([]queue.Job, len(due))
	for i, src := range due {
		jobs[i] = queue.Job{ID: c.id + "/" + src.ID, CycleID: c.id, Source: src, EnqueuedAt: now}
		c.slots[jobs[i].ID] = i
		c.results[i].source = src
	}
	for _, j := range jobs {
		c.wg.Add(1)
		if !q.Enqueue(ctx, j) {
			c.wg.Done()
			rep.Rejected++
			s.logger.Warn(ctx, "poll rejected by queue", logger.String("source_id", j.Source.ID))
		}
	}
	c.wg.Wait()

	if err := ctx.Err(); err != nil {
		s.abandon(ctx, c.results)
		rep.Cancelled = true
		rep.Duration = time.Since(begin)
		s.logger.Info(ctx, "cycle cancelled, nothing recorded", logger.String("cycle_id", rep.ID))
		return rep, errs.Wrap("service.cycle", errs.KindIngestion, err)
	}

	// Committed from here on: finish even if the caller goes away.
	err := s.commit(context.WithoutCancel(ctx), c.results, &rep)
	s.classifier.Reset()

	rep.Duration = time.Since(begin)
	metrics.RecordCycleLatency(float64(rep.Duration.Milliseconds()))
	s.lastCycle.Store(&rep)
	s.logger.Info(ctx, "cycle complete",
		logger.String("cycle_id", rep.ID),
		logger.Int("due", rep.Due),
		logger.Int("polled", rep.Polled),
		logger.Int("failed", rep.Failed),
		logger.Int("relevant", rep.Relevant),
		logger.Int("created", rep.Created),
		logger.Int("merged", rep.Merged),
		logger.Int("published", rep.Published),
		logger.Duration("took", rep.Duration),
	)
	return rep, err
}

// handlePoll runs on a pool worker.
func (s *Service) handlePoll(_ context.Context, j queue.Job) error {
	v, ok := s.cycles.Load(j.CycleID)
	if !ok {
		return nil
	}
	c, _ := v.(*cycle)
	defer c.wg.Done()
	c.set(j.ID, s.poll(c.ctx, j.Source))
	return nil
}

func (s *Service) poll(ctx context.Context, src model.Source) pollResult {
	start := time.Now()
	res := pollResult{source: src, polled: true}

	pctx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	signals, err := s.fetcher.Fetch(pctx, src)
	if src.Kind == model.SourceKindPush {
		res.drained = signals
	}
	if err != nil {
		res.err = err
		s.pollFailed(ctx, src, err, start)
		return res
	}
	res.fetched = len(signals)
	metrics.RecordSignalsFetched(len(signals))

	cctx := classify.WithSource(pctx, src.ID)
	for _, sig := range signals {
		sig.SourceID = src.ID
		if sig.ObservedAt.IsZero() {
			sig.ObservedAt = s.now()
		}
		if err := sig.Validate(); err != nil {
			res.invalid++
			s.logger.Debug(ctx, "dropping invalid signal", logger.String("source_id", src.ID), logger.Error(err))
			continue
		}
		if s.deduper.SeenAndRecord(ctx, sig.ID) {
			res.duplicates++
			metrics.RecordSignalDuplicate()
			continue
		}
		res.recorded = append(res.recorded, sig.ID)

		r, err := s.classifier.Classify(cctx, sig.Text)
		if err != nil {
			s.abandon(ctx, []pollResult{res})
			res.err = errs.Wrap("service.poll", errs.KindClassification, err)
			res.recorded, res.drained, res.signals = nil, nil, nil
			s.pollFailed(ctx, src, res.err, start)
			return res
		}
		res.signals = append(res.signals, sig.Classified(r.IsTransferRelated, r.Confidence))
	}

	metrics.RecordPoll("ok", float64(time.Since(start).Milliseconds()))
	return res
}

func (s *Service) pollFailed(ctx context.Context, src model.Source, err error, start time.Time) {
	if ctx.Err() != nil {
		return
	}
	kind := errs.KindOf(err)
	if kind == errs.KindUnknown {
		kind = errs.KindIngestion
	}
	metrics.RecordPoll("error", float64(time.Since(start).Milliseconds()))
	metrics.RecordError(string(kind), "poll")
	s.logger.Warn(ctx, "poll failed, skipping source this cycle",
		logger.String("kind", string(kind)),
		logger.String("source_id", src.ID),
		logger.Error(err),
	)
}

// abandon forgets recorded ids and gives pushed signals back to the buffer.
func (s *Service) abandon(ctx context.Context, results []pollResult) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range results {
		for _, id := range r.recorded {
			s.deduper.Unrecord(ctx, id)
		}
		s.push.Requeue(r.drained)
	}
}

func (s *Service) commit(ctx context.Context, results []pollResult, rep *CycleReport) error {
	now := s.now()
	var polled []pollResult

	for _, r := range results {
		if !r.polled {
			continue
		}
		s.scheduler.MarkPolled(r.source.ID, now)
		if r.err != nil {
			rep.Failed++
			continue
		}
		rep.Polled++
		rep.Fetched += r.fetched
		rep.Duplicates += r.duplicates
		rep.Invalid += r.invalid
		polled = append(polled, r)
	}

	// Nothing is tracked until every signal is stored and merged; a failure
	// before that hands the signals back for the next cycle.
	var cands []story.Candidate
	for _, r := range polled {
		for _, sig := range r.signals {
			if err := s.store.SaveSignal(ctx, sig); err != nil {
				s.abandon(ctx, polled)
				return errs.Wrap("service.commit", errs.KindIngestion, err)
			}
			if sig.IsTransferRelated {
				cands = append(cands, story.NewCandidate(s.extractor, sig))
			}
		}
	}

	var outcomes []story.Outcome
	if len(cands) > 0 {
		var err error
		if outcomes, err = s.matcher.MergeBatch(ctx, cands); err != nil {
			s.abandon(ctx, polled)
			return err
		}
	}

	for _, r := range polled {
		for _, sig := range r.signals {
			s.tracker.RecordSignal(ctx, sig.SourceID, sig.IsTransferRelated, sig.Confidence, sig.ObservedAt)
			rep.Classified++
			if sig.IsTransferRelated {
				rep.Relevant++
			}
		}
		metrics.UpdateSourceScore(r.source.ID, s.tracker.Score(r.source.ID))
	}

	var published []model.Story
	if len(outcomes) > 0 {
		affected := tally(outcomes, rep)
		for _, id := range affected {
			st, ok, err := s.evaluate(ctx, id)
			if err != nil {
				s.logger.Error(ctx, "gate evaluation failed",
					logger.String("kind", string(errs.KindGate)),
					logger.String("story_id", id),
					logger.Error(err),
				)
				metrics.RecordError(string(errs.KindGate), "gate")
				continue
			}
			if ok {
				published = append(published, st)
			}
		}
	}
	rep.Published = len(published)

	for _, p := range s.tracker.Profiles() {
		metrics.UpdateRegionCoverage(string(p.Region), p.CoverageQuality)
	}
	if n, err := s.store.Count(ctx); err == nil {
		metrics.UpdateStoryCount(n)
	}
	for _, st := range published {
		s.notifyPublished(ctx, st)
	}
	return nil
}

// evaluate runs the gate on a story under its key lock. It reports whether
// the story has just been published.
func (s *Service) evaluate(ctx context.Context, storyID string) (model.Story, bool, error) {
	view := sourceView{reg: s.registry, tr: s.tracker}
	var (
		d      gate.Decision
		before model.Status
	)
	st, err := s.matcher.Update(ctx, storyID, func(st *model.Story) (bool, error) {
		before = st.Status
		d = s.gate.Evaluate(*st, view)
		if !d.Changed(st.Status) {
			return false, nil
		}
		return st.SetStatus(d.Status), nil
	})
	if err != nil {
		return model.Story{}, false, err
	}
	if d.Action == gate.ActionDrop {
		s.logger.Debug(ctx, "story below reliability floor, kept as draft",
			logger.String("story_id", storyID),
			logger.Float64("average_reliability", d.AverageReliability),
		)
	}
	if st.Status == model.StatusPublished && before != model.StatusPublished {
		metrics.RecordPublished()
		s.logger.Info(ctx, "story published",
			logger.String("story_id", st.ID),
			logger.String("headline", st.Headline),
			logger.Int("update_count", st.UpdateCount),
			logger.String("reason", d.Reason),
		)
		return st, true, nil
	}
	return st, false, nil
}

// tally counts stories, not signals: a story created from three signals is
// one creation. It returns the touched story ids in first-seen order.
func tally(outcomes []story.Outcome, rep *CycleReport) []string {
	var affected []string
	seen := make(map[string]bool)
	for _, o := range outcomes {
		if o.Action == story.ActionDuplicate || seen[o.StoryID] {
			continue
		}
		seen[o.StoryID] = true
		affected = append(affected, o.StoryID)
		switch o.Action {
		case story.ActionCreated:
			rep.Created++
			if o.NeedsReview {
				rep.Ambiguous++
			}
		case story.ActionMerged:
			rep.Merged++
		case story.ActionFuzzyMerged:
			rep.FuzzyMerged++
		}
	}
	return affected
}
