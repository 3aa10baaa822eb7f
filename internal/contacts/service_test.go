package contacts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeRecorder struct {
	mu    sync.Mutex
	moves []string
}

func (f *fakeRecorder) LogTransition(ctx context.Context, contactID int64, callID, from, to, source, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, from+"->"+to)
	return nil
}

func newTestService(t *testing.T) (*Service, *MemoryRepo, *fakeRecorder) {
	t.Helper()
	repo := NewMemoryRepo()
	rec := &fakeRecorder{}
	svc := NewService(repo, rec, nil)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	svc.clock = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return svc, repo, rec
}

func TestNextCandidate_FewestAttemptsFirst(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.Put(Contact{Name: "Bob", PhoneNumber: "+15550002", Status: StatusFailed, AttemptCount: 2, LastAttemptedAt: &last})
	jane, err := svc.Add(ctx, "Jane", "+15550001")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got, ok, err := svc.NextCandidate(ctx)
	if err != nil || !ok {
		t.Fatalf("expected candidate, ok=%v err=%v", ok, err)
	}
	if got.ID != jane.ID {
		t.Fatalf("expected Jane to be selected first, got %s", got.Name)
	}

	// Failed dial for Jane.
	if _, err := svc.RecordAttempt(ctx, jane.ID, StatusInProgress, "dialing", false); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if _, err := svc.ApplyOutcome(ctx, jane.ID, StatusFailed, "carrier rejected", false); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}
	after, _ := svc.Get(ctx, jane.ID)
	if after.Status != StatusFailed || after.AttemptCount != 1 {
		t.Fatalf("expected failed/1, got %s/%d", after.Status, after.AttemptCount)
	}
	if !strings.Contains(after.Notes, "carrier rejected") {
		t.Fatalf("expected failure note, got %q", after.Notes)
	}
}

func TestNextCandidate_TieBreakNullThenOldest(t *testing.T) {
	svc, repo, _ := newTestService(t)
	older := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	repo.Put(Contact{ID: 1, Name: "newer", PhoneNumber: "+15550011", Status: StatusFailed, AttemptCount: 1, LastAttemptedAt: &newer})
	repo.Put(Contact{ID: 2, Name: "older", PhoneNumber: "+15550012", Status: StatusFailed, AttemptCount: 1, LastAttemptedAt: &older})

	got, _, _ := svc.NextCandidate(context.Background())
	if got.Name != "older" {
		t.Fatalf("expected earlier last_attempted_at first, got %s", got.Name)
	}

	repo.Put(Contact{ID: 3, Name: "never", PhoneNumber: "+15550013", Status: StatusPending, AttemptCount: 1})
	got, _, _ = svc.NextCandidate(context.Background())
	if got.Name != "never" {
		t.Fatalf("expected null last_attempted_at first, got %s", got.Name)
	}
}

func TestNextCandidate_NeverReturnsCompletedOrNotInterested(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.Put(Contact{Name: "done", PhoneNumber: "+15550021", Status: StatusCompleted, OnboardingCompleted: true})
	repo.Put(Contact{Name: "no", PhoneNumber: "+15550022", Status: StatusNotInterested})

	_, ok, err := svc.NextCandidate(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected no candidate")
	}
}

func TestRecordAttempt_CountsEachAttempt(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Add(ctx, "Jane", "+15550001")

	const n = 4
	for i := 0; i < n; i++ {
		if _, err := svc.RecordAttempt(ctx, c.ID, StatusInProgress, "dialing", false); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if _, err := svc.ApplyOutcome(ctx, c.ID, StatusFailed, "busy", false); err != nil {
			t.Fatalf("outcome %d: %v", i, err)
		}
	}
	got, _ := svc.Get(ctx, c.ID)
	if got.AttemptCount != n {
		t.Fatalf("expected attempt_count %d, got %d", n, got.AttemptCount)
	}
	if got.LastAttemptedAt == nil {
		t.Fatalf("expected last_attempted_at set")
	}
	if lines := strings.Count(got.Notes, "\n") + 1; lines != 2*n {
		t.Fatalf("expected %d note lines, got %d", 2*n, lines)
	}
}

func TestRecordAttempt_UnknownContact(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.RecordAttempt(context.Background(), 99, StatusInProgress, "", false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyOutcome_InvalidTransition(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Add(ctx, "Jane", "+15550001")

	if _, err := svc.ApplyOutcome(ctx, c.ID, StatusCompleted, "", true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(rec.moves) != 0 {
		t.Fatalf("rejected transition must not be audited")
	}
}

func TestApplyOutcome_CompletedIsSticky(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Add(ctx, "Jane", "+15550001")
	_, _ = svc.RecordAttempt(ctx, c.ID, StatusInProgress, "", false)
	_, _ = svc.ApplyOutcome(ctx, c.ID, StatusCalled, "", false)
	done, err := svc.ApplyOutcome(ctx, c.ID, StatusCompleted, "all set", true)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.OnboardingCompleted {
		t.Fatalf("expected onboarding_completed")
	}
	if _, err := svc.ApplyOutcome(ctx, c.ID, StatusCompleted, "again", true); err != nil {
		t.Fatalf("re-applying completed should be idempotent: %v", err)
	}
	if _, err := svc.ApplyOutcome(ctx, c.ID, StatusFailed, "late", false); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected completed to be terminal, got %v", err)
	}
	if len(rec.moves) != 4 {
		t.Fatalf("expected 4 audited moves, got %v", rec.moves)
	}
}

func TestAdd_ValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Add(ctx, "", "+15550001"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty name, got %v", err)
	}
	if _, err := svc.Add(ctx, "Jane", "5550001"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for missing +, got %v", err)
	}
	c, err := svc.Add(ctx, "Jane", "+1 (555) 000-1234")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.PhoneNumber != "+15550001234" || c.Status != StatusPending || c.AttemptCount != 0 {
		t.Fatalf("unexpected contact: %+v", c)
	}
	if _, err := svc.Add(ctx, "Jane again", "+15550001234"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpdateContact_KeepsHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Add(ctx, "Jane", "+15550001")
	_, _ = svc.RecordAttempt(ctx, c.ID, StatusInProgress, "", false)

	got, err := svc.UpdateContact(ctx, c.ID, "Jane Doe", "+15550009")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != "Jane Doe" || got.PhoneNumber != "+15550009" {
		t.Fatalf("unexpected update: %+v", got)
	}
	if got.AttemptCount != 1 || got.Status != StatusInProgress {
		t.Fatalf("update must not touch attempt history: %+v", got)
	}
}

func TestStats(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.Put(Contact{Name: "a", PhoneNumber: "+15550031", Status: StatusPending})
	repo.Put(Contact{Name: "b", PhoneNumber: "+15550032", Status: StatusFailed, AttemptCount: 1})
	repo.Put(Contact{Name: "c", PhoneNumber: "+15550033", Status: StatusCompleted, OnboardingCompleted: true})

	s, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s != (Stats{Total: 3, Pending: 2, Completed: 1, Failed: 1}) {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestImport(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	rows, err := ParseCSV(strings.NewReader("name,phone_number\nJane,+15550001\nBob,bad\nJane dup,+15550001\n\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := svc.Import(ctx, rows)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Added != 1 || res.Skipped != 2 || len(res.Errors) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.HasPrefix(res.Errors[0], "line 3:") {
		t.Fatalf("expected line number in error, got %q", res.Errors[0])
	}
}

func TestParseCSV_NoHeaderAndReorderedHeader(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader("Jane,+15550001\n"))
	if err != nil || len(rows) != 1 || rows[0].Name != "Jane" {
		t.Fatalf("unexpected rows=%v err=%v", rows, err)
	}
	rows, err = ParseCSV(strings.NewReader("phone,name\n+15550001,Jane\n"))
	if err != nil || len(rows) != 1 || rows[0].PhoneNumber != "+15550001" || rows[0].Name != "Jane" {
		t.Fatalf("unexpected rows=%v err=%v", rows, err)
	}
}

func TestNextCandidateExcluding(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.Put(Contact{ID: 1, Name: "a", PhoneNumber: "+15550041", Status: StatusPending})
	repo.Put(Contact{ID: 2, Name: "b", PhoneNumber: "+15550042", Status: StatusPending, AttemptCount: 3})

	got, ok, _ := svc.NextCandidateExcluding(context.Background(), []int64{1})
	if !ok || got.ID != 2 {
		t.Fatalf("expected contact 2, got %+v ok=%v", got, ok)
	}
	if _, ok, _ := svc.NextCandidateExcluding(context.Background(), []int64{1, 2}); ok {
		t.Fatalf("expected no candidate when all are excluded")
	}
}
