package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/okian/transferwire/pkg/errs"
	. "github.com/smartystreets/goconvey/convey"
)

func TestError(t *testing.T) {
	Convey("Given pipeline errors", t, func() {
		Convey("When wrapping a nil error", func() {
			So(errs.Wrap("op", errs.KindGate, nil), ShouldBeNil)
			So(errs.Transient("op", errs.KindIngestion, nil), ShouldBeNil)
		})

		Convey("When wrapping a cause", func() {
			cause := errors.New("boom")
			err := errs.Wrap("story.merge", errs.KindDedup, cause)

			Convey("Then the kind and cause are preserved", func() {
				So(errs.KindOf(err), ShouldEqual, errs.KindDedup)
				So(errors.Is(err, cause), ShouldBeTrue)
				So(err.Error(), ShouldEqual, "story.merge [dedup]: boom")
			})
		})

		Convey("When nesting errors of different kinds", func() {
			inner := errs.New("classify", errs.KindClassification, "model offline")
			outer := errs.Wrap("service.cycle", errs.KindUnknown, fmt.Errorf("poll: %w", inner))

			Convey("Then the innermost kind wins", func() {
				So(errs.KindOf(outer), ShouldEqual, errs.KindClassification)
			})
		})

		Convey("When marking an error transient", func() {
			err := errs.Transient("fetch", errs.KindIngestion, errors.New("timeout"))

			Convey("Then it is detected as transient", func() {
				So(errs.IsTransient(err), ShouldBeTrue)
				So(errs.KindOf(err), ShouldEqual, errs.KindIngestion)
				So(errs.IsTransient(errors.New("plain")), ShouldBeFalse)
			})
		})

		Convey("When the error has no kind", func() {
			So(errs.KindOf(errors.New("plain")), ShouldEqual, errs.KindUnknown)
		})
	})
}
