package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// TransitionRecorder receives every successful status change. Failures are logged, never returned.
type TransitionRecorder interface {
	LogTransition(ctx context.Context, contactID int64, callID, from, to, source, note string) error
}

// Service is the contact store used by the scheduler, the outcome tools and the CLI.
type Service struct {
	repo  Repository
	rec   TransitionRecorder
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, rec TransitionRecorder, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, rec: rec, log: log.With("component", "contacts"), clock: time.Now}
}

// NextCandidate returns the contact the scheduler should dial next: fewest attempts first,
// then never-attempted or least recently attempted. ok is false when nobody is left.
func (s *Service) NextCandidate(ctx context.Context) (Contact, bool, error) {
	return s.repo.NextCandidate(ctx, []int64{})
}

// NextCandidateExcluding is NextCandidate ignoring contacts already tried in this run.
func (s *Service) NextCandidateExcluding(ctx context.Context, exclude []int64) (Contact, bool, error) {
	if exclude == nil {
		exclude = []int64{}
	}
	return s.repo.NextCandidate(ctx, exclude)
}

func (s *Service) Get(ctx context.Context, id int64) (Contact, error) {
	if id <= 0 {
		return Contact{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, id)
}

// RecordAttempt records one dial attempt: attempt_count+1, last_attempted_at=now,
// the note appended and the status set. It is the only write that counts attempts.
func (s *Service) RecordAttempt(ctx context.Context, id int64, status Status, note string, completed bool) (Contact, error) {
	return s.transition(ctx, id, Transition{
		To:           status,
		Note:         note,
		Completed:    completed,
		CountAttempt: true,
		Source:       "dial",
	})
}

// ApplyOutcome changes status without counting an attempt.
func (s *Service) ApplyOutcome(ctx context.Context, id int64, status Status, note string, completed bool) (Contact, error) {
	return s.transition(ctx, id, Transition{
		To:        status,
		Note:      note,
		Completed: completed,
		Source:    "outcome",
	})
}

// ApplyOutcomeForCall is ApplyOutcome with the call that produced the outcome recorded in the audit trail.
func (s *Service) ApplyOutcomeForCall(ctx context.Context, id int64, callID, source string, status Status, note string, completed bool) (Contact, error) {
	return s.transition(ctx, id, Transition{
		To:        status,
		Note:      note,
		Completed: completed,
		Source:    source,
		CallID:    callID,
	})
}

func (s *Service) transition(ctx context.Context, id int64, t Transition) (Contact, error) {
	if id <= 0 {
		return Contact{}, ErrInvalidArgument
	}
	t.At = s.clock().UTC()
	before, after, err := s.repo.Transition(ctx, id, t)
	if err != nil {
		return Contact{}, err
	}
	if s.rec != nil {
		if err := s.rec.LogTransition(ctx, id, t.CallID, string(before.Status), string(after.Status), t.Source, t.Note); err != nil {
			s.log.Warn("contact transition not audited", "contact_id", id, "err", err)
		}
	}
	return after, nil
}

// Add registers a new pending contact.
func (s *Service) Add(ctx context.Context, name, phone string) (Contact, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Contact{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return Contact{}, err
	}
	return s.repo.Insert(ctx, Contact{
		Name:        name,
		PhoneNumber: normalized,
		Status:      StatusPending,
		CreatedAt:   s.clock().UTC(),
	})
}

// UpdateContact changes name and phone. Status and attempt history are untouched.
func (s *Service) UpdateContact(ctx context.Context, id int64, name, phone string) (Contact, error) {
	if id <= 0 {
		return Contact{}, ErrInvalidArgument
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Contact{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return Contact{}, err
	}
	return s.repo.UpdateDetails(ctx, id, name, normalized, s.clock().UTC())
}

// Import adds rows one by one. Duplicates are skipped; other row errors are collected.
func (s *Service) Import(ctx context.Context, rows []ImportRow) (ImportResult, error) {
	var res ImportResult
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := s.Add(ctx, row.Name, row.PhoneNumber)
		switch {
		case err == nil:
			res.Added++
		case errors.Is(err, ErrAlreadyExists):
			res.Skipped++
		case errors.Is(err, ErrInvalidArgument):
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", row.Line, err))
		default:
			return res, fmt.Errorf("import line %d: %w", row.Line, err)
		}
	}
	return res, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

var e164 = regexp.MustCompile(`^\+[0-9]{8,15}$`)

// NormalizePhone strips common separators and requires a leading + followed by 8-15 digits.
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	if !e164.MatchString(cleaned) {
		return "", fmt.Errorf("%w: phone number %q must be in +<country><number> form", ErrInvalidArgument, phone)
	}
	return cleaned, nil
}
