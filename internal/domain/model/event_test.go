package model_test

import (
	"testing"
	"time"

	model "github.com/okian/burnrank/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestExerciseEvent(t *testing.T) {
	convey.Convey("Given an ExerciseEvent", t, func() {
		date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		event := model.ExerciseEvent{
			EventID:  "log-1",
			UserID:   7,
			Calories: 300,
			Category: "student",
			Date:     date,
		}

		convey.Convey("Then it carries the logged values", func() {
			convey.So(event.UserID, convey.ShouldEqual, 7)
			convey.So(event.Calories, convey.ShouldEqual, 300.0)
			convey.So(event.Category, convey.ShouldEqual, "student")
			convey.So(event.Date, convey.ShouldEqual, date)
		})

		convey.Convey("When the category is omitted", func() {
			event.Category = ""

			convey.Convey("Then it is the zero value", func() {
				convey.So(event.Category, convey.ShouldBeEmpty)
			})
		})
	})
}
