package domain_test

import (
	"testing"
	"time"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

func newJob(now time.Time) *domain.NotificationJob {
	return &domain.NotificationJob{
		ID:           "job-1",
		Status:       domain.JobPending,
		MaxAttempts:  domain.DefaultMaxAttempts,
		ScheduledFor: now,
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.JobStatus
		want     bool
	}{
		{domain.JobPending, domain.JobInProgress, true},
		{domain.JobPending, domain.JobCancelled, true},
		{domain.JobPending, domain.JobDelivered, false},
		{domain.JobPending, domain.JobFailed, false},
		{domain.JobInProgress, domain.JobDelivered, true},
		{domain.JobInProgress, domain.JobPending, true},
		{domain.JobInProgress, domain.JobFailed, true},
		{domain.JobInProgress, domain.JobCancelled, true},
		{domain.JobDelivered, domain.JobPending, false},
		{domain.JobFailed, domain.JobPending, false},
		{domain.JobCancelled, domain.JobInProgress, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := domain.CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNotificationJob_RetryUntilExhausted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := newJob(now)

	for attempt := 1; attempt <= 2; attempt++ {
		if err := j.Start(now); err != nil {
			t.Fatalf("attempt %d: start: %v", attempt, err)
		}
		requeued, err := j.Retry("timeout", now.Add(domain.RetryDelay), now)
		if err != nil {
			t.Fatalf("attempt %d: retry: %v", attempt, err)
		}
		if !requeued || j.Status != domain.JobPending {
			t.Fatalf("attempt %d: expected pending, got %s", attempt, j.Status)
		}
		if !j.ScheduledFor.Equal(now.Add(5 * time.Minute)) {
			t.Fatalf("attempt %d: expected scheduled_for +5m, got %s", attempt, j.ScheduledFor)
		}
	}
	if j.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", j.Attempts)
	}

	_ = j.Start(now)
	requeued, err := j.Retry("timeout", now.Add(domain.RetryDelay), now)
	if err != nil {
		t.Fatalf("third retry: %v", err)
	}
	if requeued || j.Status != domain.JobFailed {
		t.Fatalf("expected failed after third attempt, got %s", j.Status)
	}
}

func TestNotificationJob_IllegalTransitions(t *testing.T) {
	now := time.Now()

	j := newJob(now)
	if err := j.Deliver("x", now); err != domain.ErrInvalidTransition {
		t.Fatalf("deliver from pending: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := j.Retry("x", now, now); err != domain.ErrInvalidTransition {
		t.Fatalf("retry from pending: expected ErrInvalidTransition, got %v", err)
	}

	_ = j.Start(now)
	_ = j.Deliver("ext-1", now)
	if err := j.Cancel("late", now); err != domain.ErrInvalidTransition {
		t.Fatalf("cancel after delivery: expected ErrInvalidTransition, got %v", err)
	}
	if j.ExternalID == nil || *j.ExternalID != "ext-1" {
		t.Fatal("expected external id to be recorded")
	}
}

func TestNotificationJob_ReleaseKeepsAttemptsAndDueTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := newJob(now)
	due := j.ScheduledFor

	if err := j.Release(now); err != domain.ErrInvalidTransition {
		t.Fatalf("release from pending: expected ErrInvalidTransition, got %v", err)
	}
	_ = j.Start(now)
	if err := j.Release(now.Add(time.Minute)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if j.Status != domain.JobPending || j.Attempts != 0 || !j.ScheduledFor.Equal(due) {
		t.Fatalf("unexpected job after release: %+v", j)
	}
}

func TestDedupKey_SameDay(t *testing.T) {
	morning := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	next := time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)

	a := domain.DedupKey("u1", "item-1", domain.ChangeRestock, domain.ChannelEmail, morning)
	b := domain.DedupKey("u1", "item-1", domain.ChangeRestock, domain.ChannelEmail, evening)
	c := domain.DedupKey("u1", "item-1", domain.ChangeRestock, domain.ChannelEmail, next)

	if a != b {
		t.Fatalf("expected same key within a day: %q vs %q", a, b)
	}
	if a == c {
		t.Fatal("expected different key on the next day")
	}
	if a == domain.DedupKey("u1", "item-1", domain.ChangeRestock, domain.ChannelSMS, morning) {
		t.Fatal("expected channel to be part of the key")
	}
}
