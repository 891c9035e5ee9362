package story_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/transferwire/internal/adapters/repository"
	"github.com/okian/transferwire/internal/domain/canonical"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/story"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func signal(id, source, text string, confidence float64, at time.Time) model.Signal {
	return model.Signal{ID: id, SourceID: source, Text: text, ObservedAt: at, IsTransferRelated: true, Confidence: confidence}
}

func candidate(sig model.Signal) story.Candidate {
	return story.NewCandidate(canonical.NewExtractor(nil), sig)
}

func newMatcher(store story.Store, opts ...story.Option) *story.Matcher {
	var n atomic.Int64
	opts = append([]story.Option{
		story.WithClock(func() time.Time { return t0 }),
		story.WithIDGenerator(func() string { return fmt.Sprintf("story-%d", n.Add(1)) }),
	}, opts...)
	m, err := story.NewMatcher(store, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func TestMergeBatch(t *testing.T) {
	Convey("Given a matcher over an empty store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		m := newMatcher(store)

		Convey("When two sources report the same transfer in one cycle", func() {
			a := signal("x-1", "x", "Arsenal agree £65m for Declan Rice", 0.95, t0)
			b := signal("y-1", "y", "Rice to Arsenal, fee £65m, here we go", 0.9, t0.Add(time.Minute))
			out, err := m.MergeBatch(ctx, []story.Candidate{candidate(a), candidate(b)})

			Convey("Then they merge into one story with one update", func() {
				So(err, ShouldBeNil)
				So(out[0].StoryID, ShouldEqual, out[1].StoryID)
				So(out[0].Action, ShouldEqual, story.ActionCreated)

				st, ok, _ := store.Get(ctx, out[0].StoryID)
				So(ok, ShouldBeTrue)
				So(st.UpdateCount, ShouldEqual, 1)
				So(st.SignalIDs, ShouldResemble, []string{"x-1", "y-1"})
				So(st.SourceIDs, ShouldResemble, []string{"x", "y"})
				So(st.Status, ShouldEqual, model.StatusDraft)
			})

			Convey("And the most advanced stage and latest strong headline win", func() {
				st, _, _ := store.Get(ctx, out[0].StoryID)
				So(st.Stage, ShouldEqual, model.StageHereWeGo)
				So(st.Headline, ShouldEqual, "Rice to Arsenal, fee £65m, here we go")
			})
		})

		Convey("When the same signal is merged twice", func() {
			sig := signal("x-1", "x", "Chelsea bid for Caicedo", 0.8, t0)
			first, _ := m.Merge(ctx, candidate(sig))
			second, err := m.Merge(ctx, candidate(sig))

			Convey("Then the second merge is a no-op", func() {
				So(err, ShouldBeNil)
				So(second.Action, ShouldEqual, story.ActionDuplicate)
				So(second.StoryID, ShouldEqual, first.StoryID)
				st, _, _ := store.Get(ctx, first.StoryID)
				So(st.UpdateCount, ShouldEqual, 0)
				So(st.SignalIDs, ShouldResemble, []string{"x-1"})
			})
		})

		Convey("When a signal repeats inside one batch", func() {
			sig := signal("x-1", "x", "Chelsea bid for Caicedo", 0.8, t0)
			out, _ := m.MergeBatch(ctx, []story.Candidate{candidate(sig), candidate(sig)})

			Convey("Then only the first copy is merged", func() {
				So(out[0].Action, ShouldEqual, story.ActionCreated)
				So(out[1].Action, ShouldEqual, story.ActionDuplicate)
				st, _, _ := store.Get(ctx, out[0].StoryID)
				So(st.SignalIDs, ShouldHaveLength, 1)
				So(st.UpdateCount, ShouldEqual, 0)
			})
		})

		Convey("When later updates arrive over several cycles", func() {
			_, _ = m.Merge(ctx, candidate(signal("1", "x", "Chelsea bid for Caicedo", 0.8, t0)))
			_, _ = m.Merge(ctx, candidate(signal("2", "y", "Chelsea agree fee for Caicedo", 0.85, t0.Add(time.Hour))))
			out, _ := m.MergeBatch(ctx, []story.Candidate{
				candidate(signal("3", "z", "Caicedo medical at Chelsea", 0.9, t0.Add(2*time.Hour))),
				candidate(signal("4", "x", "Caicedo to Chelsea: here we go", 0.95, t0.Add(3*time.Hour))),
			})

			Convey("Then each merge counts once and the count never decreases", func() {
				st, _, _ := store.Get(ctx, out[0].StoryID)
				So(st.UpdateCount, ShouldEqual, 2)
				So(st.SignalIDs, ShouldResemble, []string{"1", "2", "3", "4"})
				So(st.Stage, ShouldEqual, model.StageHereWeGo)
				n, _ := store.Count(ctx)
				So(n, ShouldEqual, 1)
			})
		})

		Convey("When a weaker signal arrives after a strong headline", func() {
			_, _ = m.Merge(ctx, candidate(signal("1", "x", "Chelsea agree deal for Caicedo", 0.9, t0)))
			out, _ := m.Merge(ctx, candidate(signal("2", "y", "Caicedo Chelsea bid rumour", 0.6, t0.Add(time.Hour))))

			Convey("Then the strong headline is kept", func() {
				st, _, _ := store.Get(ctx, out.StoryID)
				So(st.Headline, ShouldEqual, "Chelsea agree deal for Caicedo")
				So(st.Stage, ShouldEqual, model.StageAgreed)
			})
		})

		Convey("When a candidate is not transfer related", func() {
			sig := signal("1", "x", "Chelsea bid for Caicedo", 0.8, t0)
			sig.IsTransferRelated = false
			_, err := m.Merge(ctx, candidate(sig))
			So(err, ShouldNotBeNil)
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := m.Merge(cctx, candidate(signal("1", "x", "Chelsea bid for Caicedo", 0.8, t0)))

			Convey("Then nothing is stored", func() {
				So(err, ShouldNotBeNil)
				n, _ := store.Count(ctx)
				So(n, ShouldEqual, 0)
			})
		})
	})
}

func TestFuzzyMatching(t *testing.T) {
	Convey("Given an existing story", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		m := newMatcher(store)
		base, _ := m.Merge(ctx, candidate(signal("1", "x", "Arsenal bid for Declan Rice", 0.8, t0)))

		Convey("When a lone signal misspells the player", func() {
			out, err := m.Merge(ctx, candidate(signal("2", "y", "Arsenal agree deal for Declan Ryce", 0.8, t0)))

			Convey("Then it joins the existing story", func() {
				So(err, ShouldBeNil)
				So(out.Action, ShouldEqual, story.ActionFuzzyMerged)
				So(out.StoryID, ShouldEqual, base.StoryID)
				st, _, _ := store.Get(ctx, base.StoryID)
				So(st.UpdateCount, ShouldEqual, 1)
				So(st.Stage, ShouldEqual, model.StageAgreed)
			})
		})

		Convey("When the misspelt key is corroborated inside the batch", func() {
			out, _ := m.MergeBatch(ctx, []story.Candidate{
				candidate(signal("2", "y", "Arsenal agree deal for Declan Ryce", 0.8, t0)),
				candidate(signal("3", "z", "Ryce: Arsenal have agreed terms", 0.8, t0)),
			})

			Convey("Then the stricter key starts its own story", func() {
				So(out[0].Action, ShouldEqual, story.ActionCreated)
				So(out[0].StoryID, ShouldNotEqual, base.StoryID)
				So(out[1].StoryID, ShouldEqual, out[0].StoryID)
			})
		})

		Convey("When two stories are equally close", func() {
			// Two corroborating signals create the second story without a fuzzy lookup.
			_, _ = m.MergeBatch(ctx, []story.Candidate{
				candidate(signal("2a", "y", "Arsenal bid for Declan Rica", 0.8, t0)),
				candidate(signal("2b", "w", "Arsenal bid for Declan Rica", 0.8, t0)),
			})
			out, err := m.Merge(ctx, candidate(signal("3", "z", "Arsenal bid for Declan Ric", 0.8, t0)))

			Convey("Then a new story is created and flagged for review", func() {
				So(err, ShouldBeNil)
				So(out.Action, ShouldEqual, story.ActionCreated)
				So(out.NeedsReview, ShouldBeTrue)
				flagged, _ := store.List(ctx, story.Filter{NeedsReview: true})
				So(flagged, ShouldHaveLength, 1)
			})
		})

		Convey("When the key differs too much", func() {
			out, _ := m.Merge(ctx, candidate(signal("2", "y", "Arsenal bid for Bukayo Saka", 0.8, t0)))
			So(out.Action, ShouldEqual, story.ActionCreated)
			So(out.NeedsReview, ShouldBeFalse)
		})
	})
}

// slowStore delays every read of the active set.
type slowStore struct {
	*repository.MemoryStore
}

func (s slowStore) Active(ctx context.Context) ([]model.Story, error) {
	active, err := s.MemoryStore.Active(ctx)
	time.Sleep(2 * time.Millisecond)
	return active, err
}

func TestBatchOrdering(t *testing.T) {
	Convey("Given a store with slow reads", t, func() {
		ctx := context.Background()

		Convey("When two lone spellings of one transfer share a batch", func() {
			for range 20 {
				store := slowStore{repository.NewMemoryStore()}
				m := newMatcher(store, story.WithConcurrency(4))
				out, err := m.MergeBatch(ctx, []story.Candidate{
					candidate(signal("1", "x", "Frenkie de Jong to Man Utd talks", 0.8, t0)),
					candidate(signal("2", "y", "Man Utd bid for Frenkie Dejong", 0.8, t0)),
				})
				So(err, ShouldBeNil)
				So(out[0].Action, ShouldEqual, story.ActionCreated)
				So(out[1].Action, ShouldEqual, story.ActionFuzzyMerged)
				So(out[1].StoryID, ShouldEqual, out[0].StoryID)
				n, _ := store.Count(ctx)
				So(n, ShouldEqual, 1)
			}
		})

		Convey("When a lone key comes before a corroborated one", func() {
			store := slowStore{repository.NewMemoryStore()}
			m := newMatcher(store, story.WithConcurrency(4))
			out, err := m.MergeBatch(ctx, []story.Candidate{
				candidate(signal("1", "x", "Arsenal agree deal for Declan Ryce", 0.8, t0)),
				candidate(signal("2", "y", "Arsenal bid for Declan Rice", 0.8, t0)),
				candidate(signal("3", "z", "Arsenal bid for Declan Rice", 0.8, t0)),
			})

			Convey("Then the lone key joins the story the batch created", func() {
				So(err, ShouldBeNil)
				So(out[1].Action, ShouldEqual, story.ActionCreated)
				So(out[0].Action, ShouldEqual, story.ActionFuzzyMerged)
				So(out[0].StoryID, ShouldEqual, out[1].StoryID)
				st, _, _ := store.Get(ctx, out[1].StoryID)
				So(st.SignalIDs, ShouldResemble, []string{"2", "3", "1"})
				So(st.UpdateCount, ShouldEqual, 2)
			})
		})
	})
}

func TestConcurrentMerges(t *testing.T) {
	Convey("Given many concurrent merges for one transfer", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		m := newMatcher(store)

		var wg sync.WaitGroup
		for i := range 40 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sig := signal(fmt.Sprintf("s-%d", i), fmt.Sprintf("src-%d", i%4), "Rice to Arsenal, here we go", 0.9, t0)
				_, _ = m.Merge(ctx, candidate(sig))
			}()
		}
		wg.Wait()

		Convey("Then exactly one story exists with every signal", func() {
			active, _ := store.Active(ctx)
			So(active, ShouldHaveLength, 1)
			So(active[0].SignalIDs, ShouldHaveLength, 40)
			So(active[0].UpdateCount, ShouldEqual, 39)
			So(active[0].SourceIDs, ShouldHaveLength, 4)
		})
	})

	Convey("Given concurrent batches over different keys", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		m := newMatcher(store, story.WithConcurrency(4))
		players := []string{"Rice", "Saka", "Odegaard", "Havertz", "Timber"}

		var wg sync.WaitGroup
		for w := range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var batch []story.Candidate
				for i, p := range players {
					text := fmt.Sprintf("Arsenal bid for %s", p)
					batch = append(batch, candidate(signal(fmt.Sprintf("w%d-%d", w, i), "x", text, 0.8, t0)))
				}
				_, _ = m.MergeBatch(ctx, batch)
			}()
		}
		wg.Wait()

		Convey("Then canonical hashes stay unique", func() {
			active, _ := store.Active(ctx)
			So(active, ShouldHaveLength, len(players))
			seen := map[string]bool{}
			for _, st := range active {
				So(seen[st.CanonicalHash], ShouldBeFalse)
				seen[st.CanonicalHash] = true
			}
		})
	})
}

func TestUpdate(t *testing.T) {
	Convey("Given a stored story", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		m := newMatcher(store)
		out, _ := m.Merge(ctx, candidate(signal("1", "x", "Chelsea bid for Caicedo", 0.8, t0)))

		Convey("When it is retracted through Update", func() {
			st, err := m.Update(ctx, out.StoryID, func(s *model.Story) (bool, error) {
				return s.SetStatus(model.StatusRetracted), nil
			})

			Convey("Then the hash is released for a new story", func() {
				So(err, ShouldBeNil)
				So(st.Status, ShouldEqual, model.StatusRetracted)
				next, _ := m.Merge(ctx, candidate(signal("2", "y", "Chelsea bid for Caicedo again", 0.8, t0)))
				So(next.Action, ShouldEqual, story.ActionCreated)
				So(next.StoryID, ShouldNotEqual, out.StoryID)
			})
		})

		Convey("When the story does not exist", func() {
			_, err := m.Update(ctx, "missing", func(*model.Story) (bool, error) { return false, nil })
			So(err, ShouldNotBeNil)
		})
	})
}

func TestKeyedMutex(t *testing.T) {
	Convey("Given a keyed mutex", t, func() {
		km := story.NewKeyedMutex()

		Convey("When one key is contended", func() {
			var (
				wg      sync.WaitGroup
				inside  atomic.Int32
				overlap atomic.Bool
			)
			for range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock := km.Lock("k")
					if inside.Add(1) > 1 {
						overlap.Store(true)
					}
					time.Sleep(time.Millisecond)
					inside.Add(-1)
					unlock()
				}()
			}
			wg.Wait()

			Convey("Then holders never overlap and entries are released", func() {
				So(overlap.Load(), ShouldBeFalse)
				So(km.Len(), ShouldEqual, 0)
			})
		})

		Convey("When locking several keys in opposite orders", func() {
			done := make(chan struct{})
			go func() {
				var wg sync.WaitGroup
				for i := range 50 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						var unlock func()
						if i%2 == 0 {
							unlock = km.LockAll("a", "b")
						} else {
							unlock = km.LockAll("b", "a", "b")
						}
						unlock()
					}()
				}
				wg.Wait()
				close(done)
			}()

			Convey("Then no deadlock occurs", func() {
				select {
				case <-done:
					So(km.Len(), ShouldEqual, 0)
				case <-time.After(5 * time.Second):
					So("deadlock", ShouldBeEmpty)
				}
			})
		})
	})
}
