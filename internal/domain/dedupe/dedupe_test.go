package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/okian/transferwire/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given an in-memory deduper", t, func() {
		ctx := context.Background()

		Convey("When a signal id is new", func() {
			d := dedupe.NewInMemoryDeduper()
			seen := d.SeenAndRecord(ctx, "sig-1")

			Convey("Then it is recorded", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same id arrives twice", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "sig-1")

			Convey("Then the second arrival is a duplicate", func() {
				So(d.SeenAndRecord(ctx, "sig-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a cancelled cycle unrecords its ids", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "sig-1")
			d.Unrecord(ctx, "sig-1")
			d.Unrecord(ctx, "never-seen")

			Convey("Then the id can be ingested again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "sig-1"), ShouldBeFalse)
			})
		})

		Convey("When the bound is reached", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := range 4 {
				d.SeenAndRecord(ctx, fmt.Sprintf("sig-%d", i))
			}

			Convey("Then the oldest id is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "sig-3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "sig-0"), ShouldBeFalse)
			})
		})

		Convey("When unbounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			for i := range 100 {
				d.SeenAndRecord(ctx, fmt.Sprintf("sig-%d", i))
			}
			So(d.Size(), ShouldEqual, 100)
		})

		Convey("When ids are preloaded from storage", func() {
			d := dedupe.NewInMemoryDeduper()
			d.Preload(ctx, []string{"a", "b", "a"})

			Convey("Then they count as seen", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, "b"), ShouldBeTrue)
			})
		})

		Convey("When many goroutines race on one id", func() {
			d := dedupe.NewInMemoryDeduper()
			var fresh atomic.Int32
			var wg sync.WaitGroup
			for range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if !d.SeenAndRecord(ctx, "hot") {
						fresh.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one wins", func() {
				So(fresh.Load(), ShouldEqual, 1)
			})
		})
	})
}
