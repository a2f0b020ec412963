package services

import (
	"testing"
	"time"

	"github.com/agenthub/backend/internal/models"
)

func TestNextFireTime_Cron(t *testing.T) {
	from := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	next := NextFireTime(models.ScheduleTypeCron, "0 12 * * *", 0, 0, from)
	if next == nil {
		t.Fatal("expected a fire time for a valid cron expression")
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, expected %v", next, want)
	}
}

func TestNextFireTime_CronStrictlyAfter(t *testing.T) {
	// From exactly on a match: the next fire is the following match, not
	// the current instant.
	from := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	next := NextFireTime(models.ScheduleTypeCron, "0 12 * * *", 0, 0, from)
	if next == nil {
		t.Fatal("expected a fire time")
	}
	want := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, expected %v", next, want)
	}
}

func TestNextFireTime_CronSixFields(t *testing.T) {
	from := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	next := NextFireTime(models.ScheduleTypeCron, "30 * * * * *", 0, 0, from)
	if next == nil {
		t.Fatal("expected a fire time for a 6-field expression")
	}
	want := time.Date(2024, 3, 1, 10, 30, 30, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, expected %v", next, want)
	}
}

func TestNextFireTime_Every(t *testing.T) {
	from := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	next := NextFireTime(models.ScheduleTypeEvery, "", 60000, 0, from)
	if next == nil {
		t.Fatal("expected a fire time for an interval schedule")
	}
	if !next.Equal(from.Add(time.Minute)) {
		t.Errorf("next = %v, expected %v", next, from.Add(time.Minute))
	}
}

func TestNextFireTime_At(t *testing.T) {
	from := time.Now()
	atMs := from.Add(time.Hour).UnixMilli()

	next := NextFireTime(models.ScheduleTypeAt, "", 0, atMs, from)
	if next == nil {
		t.Fatal("expected a fire time for a future one-shot")
	}
	if next.UnixMilli() != atMs {
		t.Errorf("next = %d, expected %d", next.UnixMilli(), atMs)
	}

	// Once the timestamp has passed, the job never fires again.
	if next := NextFireTime(models.ScheduleTypeAt, "", 0, atMs, from.Add(2*time.Hour)); next != nil {
		t.Errorf("past one-shot should return nil, got %v", next)
	}
}

// Invalid schedules must be rejected consistently: whenever IsValidSchedule
// says no, NextFireTime must say never.
func TestScheduleValidation_NeverDisagrees(t *testing.T) {
	from := time.Now()

	cases := []struct {
		scheduleType string
		expr         string
		everyMs      int64
		atMs         int64
	}{
		{models.ScheduleTypeCron, "", 0, 0},
		{models.ScheduleTypeCron, "not a cron", 0, 0},
		{models.ScheduleTypeCron, "61 * * * *", 0, 0},
		{models.ScheduleTypeCron, "* * * *", 0, 0},
		{models.ScheduleTypeCron, "* * * * * * *", 0, 0},
		{models.ScheduleTypeCron, "@nonsense", 0, 0},
		{models.ScheduleTypeEvery, "", 0, 0},
		{models.ScheduleTypeEvery, "", -500, 0},
		{models.ScheduleTypeAt, "", 0, 0},
		{models.ScheduleTypeAt, "", 0, -1},
		{"weekly", "0 0 * * 0", 0, 0},
		{"", "", 0, 0},
	}

	for _, tc := range cases {
		valid := IsValidSchedule(tc.scheduleType, tc.expr, tc.everyMs, tc.atMs)
		next := NextFireTime(tc.scheduleType, tc.expr, tc.everyMs, tc.atMs, from)

		if valid {
			t.Errorf("IsValidSchedule(%q, %q, %d, %d) = true, expected false",
				tc.scheduleType, tc.expr, tc.everyMs, tc.atMs)
		}
		if next != nil {
			t.Errorf("NextFireTime(%q, %q, %d, %d) = %v, expected nil for invalid schedule",
				tc.scheduleType, tc.expr, tc.everyMs, tc.atMs, next)
		}
	}
}

func TestScheduleValidation_AcceptsWhatFires(t *testing.T) {
	from := time.Now()

	valid := []struct {
		scheduleType string
		expr         string
		everyMs      int64
		atMs         int64
	}{
		{models.ScheduleTypeCron, "*/5 * * * *", 0, 0},
		{models.ScheduleTypeCron, "0 0 1 1 *", 0, 0},
		{models.ScheduleTypeCron, "@daily", 0, 0},
		{models.ScheduleTypeCron, "0 30 9 * * 1-5", 0, 0},
		{models.ScheduleTypeEvery, "", 1000, 0},
		{models.ScheduleTypeAt, "", 0, from.Add(time.Minute).UnixMilli()},
	}

	for _, tc := range valid {
		if !IsValidSchedule(tc.scheduleType, tc.expr, tc.everyMs, tc.atMs) {
			t.Errorf("IsValidSchedule(%q, %q) = false, expected true", tc.scheduleType, tc.expr)
		}
		if next := NextFireTime(tc.scheduleType, tc.expr, tc.everyMs, tc.atMs, from); next == nil {
			t.Errorf("NextFireTime(%q, %q) = nil, expected a fire time", tc.scheduleType, tc.expr)
		}
	}
}
