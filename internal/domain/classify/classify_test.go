package classify_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/transferwire/internal/domain/classify"
	. "github.com/smartystreets/goconvey/convey"
)

type fixedScores map[string]float64

func (f fixedScores) Score(id string) float64 {
	if s, ok := f[id]; ok {
		return s
	}
	return 0.5
}

func constant(relevant bool, confidence float64) classify.Func {
	return func(context.Context, string) (classify.Result, error) {
		return classify.Result{IsTransferRelated: relevant, Confidence: confidence}, nil
	}
}

func TestRuleClassifier(t *testing.T) {
	Convey("Given the rule classifier", t, func() {
		c := classify.NewRuleClassifier()
		ctx := context.Background()

		Convey("When the text reports a transfer with a fee", func() {
			r, err := c.Classify(ctx, "Arsenal agree £65m for Declan Rice")

			Convey("Then it is relevant with high confidence", func() {
				So(err, ShouldBeNil)
				So(r.IsTransferRelated, ShouldBeTrue)
				So(r.Confidence, ShouldBeGreaterThanOrEqualTo, 0.8)
				So(r.Confidence, ShouldBeLessThanOrEqualTo, 1.0)
			})
		})

		Convey("When the text is a match report", func() {
			r, err := c.Classify(ctx, "Match report: Arsenal 2-1 Chelsea, Rice scores late")

			Convey("Then it is not relevant", func() {
				So(err, ShouldBeNil)
				So(r.IsTransferRelated, ShouldBeFalse)
				So(r.Confidence, ShouldBeGreaterThanOrEqualTo, 0.0)
			})
		})

		Convey("When many cues stack", func() {
			r, _ := c.Classify(ctx, "Here we go! Official: medical done, deal done, signs contract, £80m transfer fee agreed")

			Convey("Then confidence is clamped", func() {
				So(r.Confidence, ShouldEqual, 1.0)
			})
		})

		Convey("When the text is empty", func() {
			_, err := c.Classify(ctx, "   ")
			So(errors.Is(err, classify.ErrEmptyText), ShouldBeTrue)
		})

		Convey("When classifying the same text twice", func() {
			a, _ := c.Classify(ctx, "Spurs in talks over Maddison")
			b, _ := c.Classify(ctx, "Spurs in talks over Maddison")
			So(a, ShouldResemble, b)
		})

		Convey("When a custom cue is added", func() {
			custom := classify.NewRuleClassifier(classify.WithCue("pre-contract", 0.5))
			r, _ := custom.Classify(ctx, "Pre-contract for Kimmich")
			So(r.IsTransferRelated, ShouldBeTrue)
		})

		Convey("When latency is simulated and the context expires", func() {
			slow := classify.NewRuleClassifier(classify.WithLatencyRange(50*time.Millisecond, 60*time.Millisecond), classify.WithSeed(7))
			cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
			defer cancel()
			_, err := slow.Classify(cctx, "bid for Rice")
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})
	})
}

func TestGate(t *testing.T) {
	Convey("Given a confidence gate", t, func() {
		ctx := context.Background()

		Convey("When confidence is below the pipeline minimum", func() {
			g := classify.NewGate(constant(true, 0.3), classify.WithMinConfidence(0.6))
			r, err := g.Classify(ctx, "low confidence rumour")

			Convey("Then the signal is not relevant regardless of the flag", func() {
				So(err, ShouldBeNil)
				So(r.IsTransferRelated, ShouldBeFalse)
				So(r.Verdict, ShouldEqual, classify.VerdictLowConfidence)
			})
		})

		Convey("When the classifier fails", func() {
			g := classify.NewGate(classify.Func(func(context.Context, string) (classify.Result, error) {
				return classify.Result{IsTransferRelated: true, Confidence: 1}, errors.New("model offline")
			}))
			r, err := g.Classify(ctx, "anything")

			Convey("Then it fails closed", func() {
				So(err, ShouldBeNil)
				So(r.IsTransferRelated, ShouldBeFalse)
				So(r.Verdict, ShouldEqual, classify.VerdictFailed)
			})
		})

		Convey("When the classifier panics", func() {
			g := classify.NewGate(classify.Func(func(context.Context, string) (classify.Result, error) {
				panic("nil model")
			}))

			Convey("Then the panic is contained", func() {
				var r classify.Result
				So(func() { r, _ = g.Classify(ctx, "anything") }, ShouldNotPanic)
				So(r.Verdict, ShouldEqual, classify.VerdictFailed)
			})
		})

		Convey("When the context is cancelled", func() {
			g := classify.NewGate(classify.Func(func(c context.Context, _ string) (classify.Result, error) {
				return classify.Result{}, c.Err()
			}))
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := g.Classify(cctx, "anything")

			Convey("Then cancellation is returned", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})

		Convey("When the same text is classified twice in a run", func() {
			var calls atomic.Int32
			g := classify.NewGate(classify.Func(func(context.Context, string) (classify.Result, error) {
				n := calls.Add(1)
				return classify.Result{IsTransferRelated: true, Confidence: 0.6 + 0.1*float64(n)}, nil
			}))
			a, _ := g.Classify(ctx, "Rice bid")
			b, _ := g.Classify(ctx, "Rice bid")

			Convey("Then the memoised answer is reused", func() {
				So(a, ShouldResemble, b)
				So(calls.Load(), ShouldEqual, 1)
			})

			Convey("And Reset starts a new run", func() {
				g.Reset()
				c, _ := g.Classify(ctx, "Rice bid")
				So(calls.Load(), ShouldEqual, 2)
				So(c.Confidence, ShouldBeGreaterThan, a.Confidence)
			})
		})
	})
}

func TestWeighted(t *testing.T) {
	Convey("Given reliability weighting", t, func() {
		scores := fixedScores{"trusted": 0.99, "noisy": 0.1}
		w := classify.NewWeighted(constant(true, 0.7), scores)

		Convey("When the source is unknown", func() {
			r, _ := w.Classify(classify.WithSource(context.Background(), "new"), "x")
			So(r.Confidence, ShouldAlmostEqual, 0.7, 1e-9)
		})

		Convey("When the source is trusted", func() {
			r, _ := w.Classify(classify.WithSource(context.Background(), "trusted"), "x")
			So(r.Confidence, ShouldBeGreaterThan, 0.7)
		})

		Convey("When the source is noisy", func() {
			r, _ := w.Classify(classify.WithSource(context.Background(), "noisy"), "x")
			So(r.Confidence, ShouldBeLessThan, 0.7)
		})

		Convey("When weighting would exceed one", func() {
			hi := classify.NewWeighted(constant(true, 0.95), scores)
			r, _ := hi.Classify(classify.WithSource(context.Background(), "trusted"), "x")
			So(r.Confidence, ShouldEqual, 1.0)
		})

		Convey("Then the weight is neutral at 0.5", func() {
			So(classify.Weight(0.5), ShouldAlmostEqual, 1.0, 1e-9)
		})
	})
}
