// Package service wires the transfer pipeline: scheduling, polling,
// classification, story matching, reliability tracking and publication.
package service

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/transferwire/internal/adapters/ingest"
	"github.com/okian/transferwire/internal/adapters/mq/queue"
	"github.com/okian/transferwire/internal/adapters/mq/worker"
	"github.com/okian/transferwire/internal/adapters/repository"
	"github.com/okian/transferwire/internal/domain/canonical"
	"github.com/okian/transferwire/internal/domain/classify"
	"github.com/okian/transferwire/internal/domain/dedupe"
	"github.com/okian/transferwire/internal/domain/gate"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/registry"
	"github.com/okian/transferwire/internal/domain/reliability"
	"github.com/okian/transferwire/internal/domain/schedule"
	"github.com/okian/transferwire/internal/domain/story"
	"github.com/okian/transferwire/pkg/logger"
)

// Service runs the pipeline. Domain state lives in the injected store and in
// the components the service owns; nothing is global.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	ownsStore  bool
	registry   *registry.Registry
	deduper    dedupe.Deduper
	tracker    *reliability.Tracker
	classifier *classify.Gate
	extractor  *canonical.Extractor
	matcher    *story.Matcher
	gate       *gate.Gate
	scheduler  *schedule.Scheduler
	fetcher    ingest.Fetcher
	push       *ingest.PushBuffer

	// Poll fan-out, rebuilt on every Start
	queue *queue.InMemoryQueue
	pool  *worker.Pool

	// Configuration
	sources        []model.Source
	fetchers       map[model.SourceKind]ingest.Fetcher
	baseClassifier classify.Classifier
	workerCount    int
	queueSize      int
	dedupeSize     int
	pushCapacity   int
	cycleInterval  time.Duration
	pollTimeout    time.Duration
	seed           int64
	rnd            schedule.Rand
	now            func() time.Time

	fuzzyThreshold, ambiguityMargin, headlineFloor float64

	clubAliases  map[string]string
	thresholds   *gate.Thresholds
	regions      map[model.Region]reliability.RegionConfig
	retryOpts    []ingest.RetryOption
	rssOpts      []ingest.RSSOption
	gateOpts     []classify.GateOption
	trackerOpts  []reliability.Option
	scheduleOpts []schedule.Option

	// Cycles
	cycleMu   sync.Mutex
	cycles    sync.Map // cycle id -> *cycle
	cycleSeq  atomic.Int64
	lastCycle atomic.Pointer[CycleReport]

	subMu       sync.RWMutex
	subscribers []func(model.Story)

	// State
	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	// Logging
	logger logger.Logger
}

// New constructs a Service. Components are built eagerly so queries work
// before Start; Start loads persisted state and begins polling.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		store:         repository.NewMemoryStore(),
		ownsStore:     true,
		fetchers:      make(map[model.SourceKind]ingest.Fetcher),
		workerCount:   defaultWorkerCount,
		queueSize:     defaultQueueSize,
		dedupeSize:    defaultDedupeSize,
		pushCapacity:  defaultPushCapacity,
		cycleInterval: defaultCycleInterval,
		pollTimeout:   defaultPollTimeout,
		seed:          defaultSeed,
		now:           time.Now,

		fuzzyThreshold:  story.DefaultFuzzyThreshold,
		ambiguityMargin: story.DefaultAmbiguityMargin,
		headlineFloor:   story.DefaultHeadlineFloor,

		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	reg, err := registry.New(s.sources)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	s.registry = reg

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	s.tracker = reliability.NewTracker(append([]reliability.Option{
		reliability.WithStore(s.store),
		reliability.WithCatalog(reg),
		reliability.WithRegions(s.regions),
		reliability.WithClock(s.now),
		reliability.WithLogger(s.logger.Named("reliability")),
	}, s.trackerOpts...)...)

	if s.baseClassifier == nil {
		s.baseClassifier = classify.NewRuleClassifier(classify.WithSeed(s.seed))
	}
	s.classifier = classify.NewGate(
		classify.NewWeighted(s.baseClassifier, s.tracker),
		append([]classify.GateOption{classify.WithLogger(s.logger.Named("classifier"))}, s.gateOpts...)...,
	)

	s.extractor = canonical.NewExtractor(canonical.NewGazetteer(s.clubAliases))
	s.matcher, err = story.NewMatcher(s.store,
		story.WithFuzzyThreshold(s.fuzzyThreshold),
		story.WithAmbiguityMargin(s.ambiguityMargin),
		story.WithHeadlineFloor(s.headlineFloor),
		story.WithClock(s.now),
		story.WithLogger(s.logger.Named("matcher")),
	)
	if err != nil {
		return nil, fmt.Errorf("build matcher: %w", err)
	}

	gateOpts := []gate.Option{gate.WithLogger(s.logger.Named("gate"))}
	if s.thresholds != nil {
		gateOpts = append(gateOpts, gate.WithThresholds(*s.thresholds))
	}
	s.gate = gate.New(gateOpts...)

	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(s.seed)) //nolint:gosec // scheduling jitter, not security
	}
	s.scheduler = schedule.New(reg, s.tracker, append([]schedule.Option{
		schedule.WithRand(s.rnd),
		schedule.WithLogger(s.logger.Named("scheduler")),
	}, s.scheduleOpts...)...)

	s.push = ingest.NewPushBuffer(s.pushCapacity)
	s.fetcher = s.buildFetcher()

	return s, nil
}

func (s *Service) buildFetcher() ingest.Fetcher {
	retry := append([]ingest.RetryOption{ingest.WithRetryLogger(s.logger.Named("ingest"))}, s.retryOpts...)
	mux := ingest.NewMux().Handle(model.SourceKindPush, s.push)

	rss, ok := s.fetchers[model.SourceKindRSS]
	if !ok {
		rss = ingest.NewRSSFetcher(append([]ingest.RSSOption{
			ingest.WithFetchClock(s.now),
			ingest.WithFetchLogger(s.logger.Named("rss")),
		}, s.rssOpts...)...)
	}
	mux.Handle(model.SourceKindRSS, ingest.NewRetrying(rss, retry...))

	static, ok := s.fetchers[model.SourceKindStatic]
	if !ok {
		static = ingest.NewStatic()
	}
	mux.Handle(model.SourceKindStatic, ingest.NewRetrying(static, retry...))

	for kind, f := range s.fetchers {
		if kind == model.SourceKindRSS || kind == model.SourceKindStatic {
			continue
		}
		if kind == model.SourceKindPush {
			mux.Handle(kind, f)
			continue
		}
		mux.Handle(kind, ingest.NewRetrying(f, retry...))
	}
	return mux
}

// Start loads persisted state, starts the poll workers and, when a cycle
// interval is set, the background loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting transferwire service...")

	if err := s.restore(ctx); err != nil {
		return err
	}

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, worker.HandlerFunc(s.handlePoll),
		worker.WithLogger(s.logger.Named("worker")))

	// Workers stop when the queue closes, so jobs already queued by a
	// cancelled cycle still drain.
	s.pool.Start(context.WithoutCancel(ctx))
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.loopDone = make(chan struct{})
	if s.cycleInterval > 0 {
		go s.loop(runCtx, s.loopDone)
	} else {
		close(s.loopDone)
	}

	s.started = true
	s.logger.Info(ctx, "transferwire service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("sources", s.registry.Len()),
		logger.Duration("cycleInterval", s.cycleInterval),
	)
	return nil
}

// restore merges the stored catalogue into the registry, persists the
// configured one and warms the tracker and the idempotency filter.
func (s *Service) restore(ctx context.Context) error {
	stored, err := s.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	for _, src := range stored {
		if _, ok := s.registry.Get(src.ID); ok {
			continue
		}
		if err := s.registry.Upsert(src); err != nil {
			s.logger.Warn(ctx, "skipping stored source", logger.String("source_id", src.ID), logger.Error(err))
		}
	}
	for _, src := range s.registry.Sources() {
		if err := s.store.SaveSource(ctx, src); err != nil {
			return fmt.Errorf("save source %s: %w", src.ID, err)
		}
	}

	if err := s.tracker.Load(ctx); err != nil {
		return fmt.Errorf("load reliability: %w", err)
	}
	ids, err := s.store.SignalIDs(ctx)
	if err != nil {
		return fmt.Errorf("load signal ids: %w", err)
	}
	s.deduper.Preload(ctx, ids)
	return nil
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cycleInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error(ctx, "cycle failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels any running cycle, drains the workers and closes an owned store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel, loopDone, pool := s.cancel, s.loopDone, s.pool
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping transferwire service...")
	cancel()
	<-loopDone

	var firstErr error
	if err := pool.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if s.ownsStore {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info(ctx, "transferwire service stopped")
	return firstErr
}

// Started reports whether the service is running.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// OnStoryPublished registers fn to run, synchronously and in registration
// order, whenever a story becomes published.
func (s *Service) OnStoryPublished(fn func(model.Story)) {
	if fn == nil {
		return
	}
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

func (s *Service) notifyPublished(ctx context.Context, st model.Story) {
	s.subMu.RLock()
	subs := slices.Clone(s.subscribers)
	s.subMu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error(ctx, "story subscriber panicked",
						logger.String("story_id", st.ID), logger.Any("panic", r))
				}
			}()
			fn(st.Clone())
		}()
	}
}

// sourceView feeds registry tiers and tracker scores to the gate.
type sourceView struct {
	reg *registry.Registry
	tr  *reliability.Tracker
}

func (v sourceView) Score(id string) float64 { return v.tr.Score(id) }

func (v sourceView) Tier(id string) (int, bool) {
	src, ok := v.reg.Get(id)
	return src.Tier, ok
}
