package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestHolidayCalendar(t *testing.T) {
	us, err := NewHolidayCalendar("us", []string{"03-17"})
	if err != nil {
		t.Fatalf("NewHolidayCalendar failed: %v", err)
	}
	none, err := NewHolidayCalendar("", nil)
	if err != nil {
		t.Fatalf("NewHolidayCalendar failed: %v", err)
	}

	tests := []struct {
		name     string
		cal      *HolidayCalendar
		date     time.Time
		expected bool
	}{
		{"US ordinary tuesday", us, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), true},
		{"US thanksgiving", us, time.Date(2026, 11, 26, 9, 0, 0, 0, time.UTC), false},
		{"US saturday", us, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), false},
		{"US custom holiday", us, time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC), false},
		{"NONE weekday on a US holiday", none, time.Date(2026, 12, 25, 9, 0, 0, 0, time.UTC), true},
		{"NONE sunday", none, time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cal.IsWorkday(tt.date); got != tt.expected {
				t.Errorf("IsWorkday(%s) = %v, expected %v", tt.date.Format("2006-01-02"), got, tt.expected)
			}
		})
	}
}

func TestHolidayCalendar_Errors(t *testing.T) {
	if _, err := NewHolidayCalendar("XX", nil); err == nil {
		t.Error("unknown country should fail")
	}
	if _, err := NewHolidayCalendar("NONE", []string{"2026-12-24"}); err == nil {
		t.Error("custom holiday in the wrong format should fail")
	}
	if len(SupportedCountries()) < 2 {
		t.Error("SupportedCountries should list NONE and at least one country")
	}
}

func TestTryLock_OneInstancePerOccurrence(t *testing.T) {
	db := newTestDB(t)
	a := NewScheduler(db, time.UTC, nil)
	b := NewScheduler(db, time.UTC, nil)

	ok, err := a.TryLock(context.Background(), "escalation", "2026-10-16T09:00:00Z")
	if err != nil || !ok {
		t.Fatalf("first lock = %v, %v, expected success", ok, err)
	}
	ok, err = b.TryLock(context.Background(), "escalation", "2026-10-16T09:00:00Z")
	if err != nil || ok {
		t.Errorf("second lock = %v, %v, expected refusal", ok, err)
	}
	ok, _ = b.TryLock(context.Background(), "summary", "2026-10-16T09:00:00Z")
	if !ok {
		t.Error("a different job should lock independently")
	}
	ok, _ = b.TryLock(context.Background(), "escalation", "2026-10-17T09:00:00Z")
	if !ok {
		t.Error("the next occurrence should lock independently")
	}
}

func TestPurgeLocks(t *testing.T) {
	db := newTestDB(t)
	s := NewScheduler(db, time.UTC, nil)
	s.lockTTL = -time.Minute
	s.TryLock(context.Background(), "escalation", "old")

	n, err := s.PurgeLocks(context.Background())
	if err != nil || n != 1 {
		t.Errorf("PurgeLocks = %d, %v, expected 1 row removed", n, err)
	}
}

func TestTrigger(t *testing.T) {
	db := newTestDB(t)
	holidays, _ := NewHolidayCalendar("NONE", nil)
	a := NewScheduler(db, time.UTC, holidays)
	b := NewScheduler(db, time.UTC, holidays)

	var runs int32
	job := ScheduledJob{Name: "summary", Workdays: true, Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}

	monday := time.Date(2026, 10, 12, 9, 0, 5, 0, time.UTC)
	a.trigger(job, monday)
	b.trigger(job, monday.Add(20*time.Second))
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Errorf("runs = %d, expected 1 across two instances", got)
	}

	sunday := time.Date(2026, 10, 11, 9, 0, 0, 0, time.UTC)
	a.trigger(job, sunday)
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Errorf("runs = %d, workday job should skip sunday", got)
	}

	failing := ScheduledJob{Name: "escalation", Run: func(ctx context.Context) error { return errors.New("boom") }}
	a.trigger(failing, sunday)
}

func TestSchedulerAdd(t *testing.T) {
	s := NewScheduler(newTestDB(t), time.UTC, nil)
	noop := func(ctx context.Context) error { return nil }

	if err := s.Add(ScheduledJob{Name: "off", Spec: "", Run: noop}); err != nil {
		t.Errorf("empty spec should disable the job, got %v", err)
	}
	if err := s.Add(ScheduledJob{Name: "bad", Spec: "every tuesday", Run: noop}); err == nil {
		t.Error("invalid cron spec should fail")
	}
	if err := s.Add(ScheduledJob{Name: "ok", Spec: "0 9 * * 1", Run: noop}); err != nil {
		t.Errorf("valid spec failed: %v", err)
	}
	s.Start()
	s.Stop()
}
