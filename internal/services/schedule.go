package services

import (
	"time"

	"github.com/agenthub/backend/internal/models"
	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field cron expressions, with an optional
// leading seconds field and @-descriptors. NextFireTime and IsValidSchedule
// both go through this parser, so the grammar they accept can never diverge.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextFireTime computes the next fire time strictly after from, or nil when
// the schedule will never fire again (unparseable cron expression,
// non-positive interval, or a one-shot timestamp that is not in the future).
func NextFireTime(scheduleType, expr string, everyMs, atMs int64, from time.Time) *time.Time {
	switch scheduleType {
	case models.ScheduleTypeCron:
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return nil
		}
		next := sched.Next(from)
		if next.IsZero() {
			return nil
		}
		return &next

	case models.ScheduleTypeEvery:
		if everyMs <= 0 {
			return nil
		}
		next := from.Add(time.Duration(everyMs) * time.Millisecond)
		return &next

	case models.ScheduleTypeAt:
		at := time.UnixMilli(atMs)
		if atMs <= 0 || !at.After(from) {
			return nil
		}
		return &at

	default:
		return nil
	}
}

// IsValidSchedule reports whether the schedule inputs are acceptable for the
// given type. It accepts exactly what NextFireTime can compute a fire time
// for (modulo an "at" timestamp lying in the past, which is a validation
// failure at creation time anyway).
func IsValidSchedule(scheduleType, expr string, everyMs, atMs int64) bool {
	switch scheduleType {
	case models.ScheduleTypeCron:
		_, err := cronParser.Parse(expr)
		return err == nil
	case models.ScheduleTypeEvery:
		return everyMs > 0
	case models.ScheduleTypeAt:
		return atMs > 0
	default:
		return false
	}
}
