package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_AppendRequiresContactStatusAndSource(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{ToStatus: "called", Source: "dial"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{ContactID: 1, Source: "dial"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{ContactID: 1, ToStatus: "called"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestService_LogTransition(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogTransition(context.Background(), 7, "call-7-1", "called", "callback_scheduled", "tool:schedule_callback", "busy at work"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	_ = svc.LogTransition(context.Background(), 8, "", "pending", "in_progress", "dial", "")

	evs, err := svc.History(context.Background(), 7)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at filled")
	}
	if evs[0].FromStatus != "called" || evs[0].ToStatus != "callback_scheduled" || evs[0].CallID != "call-7-1" {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
	if len(repo.Events()) != 2 {
		t.Fatalf("expected 2 stored events")
	}
}

func TestService_CountTransitionsSkipsSelfMoves(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return base }
	ctx := context.Background()

	_ = svc.LogTransition(ctx, 1, "", "called", "completed", "tool:complete_onboarding", "")
	_ = svc.LogTransition(ctx, 1, "", "completed", "completed", "tool:complete_onboarding", "again")
	_ = svc.LogTransition(ctx, 2, "", "in_progress", "failed", "dial", "")

	n, err := svc.CountTransitions(ctx, "completed", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 completion, got %d", n)
	}
	n, _ = svc.CountTransitions(ctx, "completed", base.Add(time.Minute), base.Add(time.Hour))
	if n != 0 {
		t.Fatalf("expected range to exclude event, got %d", n)
	}
	if _, err := svc.CountTransitions(ctx, "", base, base.Add(time.Hour)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
