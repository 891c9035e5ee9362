// Package story merges classified signals into canonical stories.
package story

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/transferwire/internal/domain/canonical"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/errs"
	"github.com/okian/transferwire/pkg/logger"
	"github.com/okian/transferwire/pkg/metrics"
)

const headlineMaxRunes = 280

// Action is what a merge did with a signal.
type Action string

const (
	ActionCreated     Action = "created"
	ActionMerged      Action = "merged"
	ActionFuzzyMerged Action = "fuzzy_merged"
	ActionDuplicate   Action = "duplicate"
)

// Candidate is a relevant signal with its canonical key.
type Candidate struct {
	Signal model.Signal
	Key    canonical.Key
}

// NewCandidate extracts the key of sig with ex.
func NewCandidate(ex *canonical.Extractor, sig model.Signal) Candidate {
	return Candidate{Signal: sig, Key: ex.Extract(sig.Text)}
}

// Outcome reports the merge result for one signal.
type Outcome struct {
	SignalID    string `json:"signal_id"`
	StoryID     string `json:"story_id"`
	Hash        string `json:"canonical_hash"`
	Action      Action `json:"action"`
	NeedsReview bool   `json:"needs_review,omitempty"`
}

// Matcher owns canonical-hash lookup and merge semantics. Merges for one
// canonical hash are serialised; different hashes proceed in parallel.
type Matcher struct {
	store Store
	locks *KeyedMutex

	fuzzyThreshold  float64
	ambiguityMargin float64
	headlineFloor   float64
	concurrency     int

	now   func() time.Time
	newID func() string
	log   logger.Logger
}

// NewMatcher returns a Matcher over store.
func NewMatcher(store Store, opts ...Option) (*Matcher, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	m := &Matcher{
		store:           store,
		locks:           NewKeyedMutex(),
		fuzzyThreshold:  DefaultFuzzyThreshold,
		ambiguityMargin: DefaultAmbiguityMargin,
		headlineFloor:   DefaultHeadlineFloor,
		concurrency:     defaultConcurrency,
		now:             time.Now,
		newID:           uuid.NewString,
		log:             logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Merge merges a single candidate.
func (m *Matcher) Merge(ctx context.Context, c Candidate) (Outcome, error) {
	out, err := m.MergeBatch(ctx, []Candidate{c})
	if err != nil {
		return Outcome{}, err
	}
	return out[0], nil
}

// MergeBatch merges one processing batch. Candidates are grouped by exact
// hash in the order they were classified; each group is applied under its
// key lock. Groups that hit a stored story or corroborate their own key run
// in parallel first. Lone keys that need a fuzzy lookup run after them, one
// at a time in batch order, so they see every story the batch created.
// Outcomes are returned in input order.
func (m *Matcher) MergeBatch(ctx context.Context, cands []Candidate) ([]Outcome, error) {
	const op = "story.merge_batch"
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(op, errs.KindDedup, err)
	}
	for _, c := range cands {
		if !c.Signal.IsTransferRelated {
			return nil, errs.Wrap(op, errs.KindDedup, fmt.Errorf("%w: %s", ErrNotRelevant, c.Signal.ID))
		}
	}

	order, groups := groupByHash(cands)
	outcomes := make([]Outcome, len(cands))
	lone := make([]bool, len(order))

	run := func(ctx context.Context, hash string, fuzzy bool) (bool, error) {
		idx := groups[hash]
		group := make([]Candidate, len(idx))
		for i, j := range idx {
			group[i] = cands[j]
		}
		res, deferred, err := m.mergeGroup(ctx, hash, group, fuzzy)
		if err != nil || deferred {
			return deferred, err
		}
		for i, j := range idx {
			outcomes[j] = res[i]
		}
		return false, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, hash := range order {
		g.Go(func() error {
			deferred, err := run(gctx, hash, false)
			lone[i] = deferred
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.Wrap(op, errs.KindDedup, err)
	}
	for i, hash := range order {
		if !lone[i] {
			continue
		}
		if _, err := run(ctx, hash, true); err != nil {
			return nil, errs.Wrap(op, errs.KindDedup, err)
		}
	}

	for _, o := range outcomes {
		if o.Action == ActionDuplicate {
			metrics.RecordMergeIdempotent()
		}
	}
	return outcomes, nil
}

// Update applies fn to a story under its key lock and saves it when fn
// reports a change.
func (m *Matcher) Update(ctx context.Context, storyID string, fn func(*model.Story) (bool, error)) (model.Story, error) {
	const op = "story.update"
	st, ok, err := m.store.Get(ctx, storyID)
	if err != nil {
		return model.Story{}, errs.Wrap(op, errs.KindDedup, err)
	}
	if !ok {
		return model.Story{}, errs.Wrap(op, errs.KindDedup, fmt.Errorf("%w: %s: %w", ErrNotFound, storyID, errs.ErrNotFound))
	}

	unlock := m.locks.Lock(st.CanonicalHash)
	defer unlock()

	// Re-read under the lock.
	st, _, err = m.store.Get(ctx, storyID)
	if err != nil {
		return model.Story{}, errs.Wrap(op, errs.KindDedup, err)
	}
	changed, err := fn(&st)
	if err != nil {
		return model.Story{}, err
	}
	if changed {
		if err := m.store.Save(ctx, st); err != nil {
			return model.Story{}, errs.Wrap(op, errs.KindDedup, err)
		}
	}
	return st, nil
}

func groupByHash(cands []Candidate) ([]string, map[string][]int) {
	var order []string
	groups := make(map[string][]int)
	for i, c := range cands {
		h := c.Key.Hash()
		if _, ok := groups[h]; !ok {
			order = append(order, h)
		}
		groups[h] = append(groups[h], i)
	}
	return order, groups
}

// mergeGroup applies one hash group. Without fuzzy it reports deferred,
// and changes nothing, for a lone key that would need a fuzzy lookup.
func (m *Matcher) mergeGroup(ctx context.Context, hash string, group []Candidate, fuzzy bool) ([]Outcome, bool, error) {
	unlock := m.locks.Lock(hash)
	defer func() { unlock() }()

	outcomes := make([]Outcome, len(group))
	fresh, err := m.unmerged(ctx, group, outcomes)
	if err != nil || len(fresh) == 0 {
		return outcomes, false, err
	}
	pending := make([]Candidate, len(fresh))
	for i, j := range fresh {
		pending[i] = group[j]
	}

	var (
		st     model.Story
		action Action
	)
	existing, found, err := m.store.ActiveByHash(ctx, hash)
	switch {
	case err != nil:
		return nil, false, err
	case found:
		st, action = existing, ActionMerged
		m.apply(&st, pending)
	case len(pending) > 1:
		// The exact key is corroborated inside the batch; no fuzzy lookup.
		st, action = m.create(hash, pending, false), ActionCreated
	case !fuzzy:
		return nil, true, nil
	default:
		target, ambiguous, err := m.fuzzyTarget(ctx, hash, pending[0].Key)
		if err != nil {
			return nil, false, err
		}
		if target == nil {
			st, action = m.create(hash, pending, ambiguous), ActionCreated
			break
		}

		unlock()
		unlock = m.locks.LockAll(hash, target.CanonicalHash)
		st, action, err = m.fuzzyMerge(ctx, hash, target.ID, pending)
		if err != nil {
			return nil, false, err
		}
	}

	if err := m.store.Save(ctx, st); err != nil {
		return nil, false, err
	}
	m.record(ctx, st, action, len(pending))

	for i, j := range fresh {
		outcomes[j] = Outcome{
			SignalID:    pending[i].Signal.ID,
			StoryID:     st.ID,
			Hash:        st.CanonicalHash,
			Action:      action,
			NeedsReview: st.NeedsReview,
		}
	}
	return outcomes, false, nil
}

// fuzzyMerge runs with both hash locks held. Either key may have changed
// while the locks were swapped, so both are re-read.
func (m *Matcher) fuzzyMerge(ctx context.Context, hash, targetID string, pending []Candidate) (model.Story, Action, error) {
	if st, found, err := m.store.ActiveByHash(ctx, hash); err != nil {
		return model.Story{}, "", err
	} else if found {
		m.apply(&st, pending)
		return st, ActionMerged, nil
	}
	st, ok, err := m.store.Get(ctx, targetID)
	if err != nil {
		return model.Story{}, "", err
	}
	if !ok || st.Status.Superseded() {
		return m.create(hash, pending, false), ActionCreated, nil
	}
	m.apply(&st, pending)
	return st, ActionFuzzyMerged, nil
}

// unmerged marks signals already in a story, or repeated in the group, as
// duplicates and returns the indices left to merge.
func (m *Matcher) unmerged(ctx context.Context, group []Candidate, outcomes []Outcome) ([]int, error) {
	fresh := make([]int, 0, len(group))
	inGroup := make(map[string]struct{}, len(group))
	for i, c := range group {
		id := c.Signal.ID
		if _, dup := inGroup[id]; dup {
			outcomes[i] = Outcome{SignalID: id, Action: ActionDuplicate}
			continue
		}
		inGroup[id] = struct{}{}

		storyID, merged, err := m.store.StoryIDForSignal(ctx, id)
		if err != nil {
			return nil, err
		}
		if merged {
			outcomes[i] = Outcome{SignalID: id, StoryID: storyID, Action: ActionDuplicate}
			continue
		}
		fresh = append(fresh, i)
	}
	return fresh, nil
}

// fuzzyTarget finds the single story a lone key loosely matches. It returns
// ambiguous when the runner-up is within the ambiguity margin of the best.
func (m *Matcher) fuzzyTarget(ctx context.Context, hash string, key canonical.Key) (*model.Story, bool, error) {
	if key.Player == "" {
		return nil, false, nil
	}
	stories, err := m.store.Active(ctx)
	if err != nil {
		return nil, false, err
	}

	var (
		best, second float64
		bestIdx      = -1
		near         []string
	)
	for i := range stories {
		st := &stories[i]
		if st.CanonicalHash == hash {
			continue
		}
		sim := canonical.Similarity(key, canonical.Key{Player: st.Player, Clubs: st.Clubs})
		if sim < m.fuzzyThreshold {
			continue
		}
		near = append(near, st.ID)
		switch {
		case sim > best:
			second, best, bestIdx = best, sim, i
		case sim > second:
			second = sim
		}
	}
	if bestIdx < 0 {
		return nil, false, nil
	}
	if len(near) > 1 && best-second <= m.ambiguityMargin {
		metrics.RecordDedupAmbiguous()
		m.log.Warn(ctx, "ambiguous fuzzy match, creating story for review",
			logger.String("kind", string(errs.KindDedup)),
			logger.String("hash", hash),
			logger.String("player", key.Player),
			logger.Strings("candidates", near),
			logger.Float64("best", best),
			logger.Float64("runner_up", second),
		)
		return nil, true, nil
	}
	return &stories[bestIdx], false, nil
}

func (m *Matcher) create(hash string, pending []Candidate, needsReview bool) model.Story {
	first := pending[0]
	now := m.now()
	st := model.Story{
		ID:                 m.newID(),
		CanonicalHash:      hash,
		Headline:           headline(first.Signal.Text),
		HeadlineConfidence: first.Signal.Confidence,
		HeadlineAt:         first.Signal.ObservedAt,
		Player:             first.Key.Player,
		Clubs:              append([]string(nil), first.Key.Clubs...),
		Stage:              first.Key.Stage,
		SignalIDs:          []string{first.Signal.ID},
		SourceIDs:          []string{first.Signal.SourceID},
		CreatedAt:          now,
		LastCheckedAt:      now,
		Status:             model.StatusDraft,
		NeedsReview:        needsReview,
	}
	if len(pending) > 1 {
		m.apply(&st, pending[1:])
	}
	return st
}

// apply is one merge: every candidate is appended in order and UpdateCount
// grows by one.
func (m *Matcher) apply(st *model.Story, cands []Candidate) {
	for _, c := range cands {
		st.SignalIDs = append(st.SignalIDs, c.Signal.ID)
		if !st.HasSource(c.Signal.SourceID) {
			st.SourceIDs = append(st.SourceIDs, c.Signal.SourceID)
		}
		// Conflicting stages escalate; every signal stays attached.
		st.Stage = st.Stage.Max(c.Key.Stage)
		m.refreshHeadline(st, c.Signal)
	}
	st.UpdateCount++
	st.LastCheckedAt = m.now()
}

// refreshHeadline lets the most recent high-confidence signal own the
// headline. Below the floor a signal only wins against a weaker headline.
func (m *Matcher) refreshHeadline(st *model.Story, sig model.Signal) {
	newHigh := sig.Confidence >= m.headlineFloor
	curHigh := st.HeadlineConfidence >= m.headlineFloor
	switch {
	case newHigh && (!curHigh || !sig.ObservedAt.Before(st.HeadlineAt)):
	case !newHigh && !curHigh && sig.Confidence > st.HeadlineConfidence:
	default:
		return
	}
	st.Headline = headline(sig.Text)
	st.HeadlineConfidence = sig.Confidence
	st.HeadlineAt = sig.ObservedAt
}

func (m *Matcher) record(ctx context.Context, st model.Story, action Action, n int) {
	switch action {
	case ActionCreated:
		metrics.RecordStoryCreated()
		if n > 1 {
			metrics.RecordStoryMerge("exact")
		}
	case ActionMerged:
		metrics.RecordStoryMerge("exact")
	case ActionFuzzyMerged:
		metrics.RecordStoryMerge("fuzzy")
		m.log.Info(ctx, "fuzzy merge",
			logger.String("story_id", st.ID),
			logger.String("hash", st.CanonicalHash),
			logger.Int("signals", n),
		)
	}
	m.log.Debug(ctx, "story merged",
		logger.String("story_id", st.ID),
		logger.String("action", string(action)),
		logger.Int("update_count", st.UpdateCount),
		logger.String("stage", st.Stage.String()),
	)
}

func headline(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= headlineMaxRunes {
		return text
	}
	r := []rune(text)
	return string(r[:headlineMaxRunes-1]) + "…"
}
