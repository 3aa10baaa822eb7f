package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByContact(ctx context.Context, contactID int64) ([]Event, error)
	// CountTransitions counts events into toStatus created in [from, to).
	CountTransitions(ctx context.Context, toStatus string, from, to time.Time) (int, error)
}

// Service records contact status transitions.
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.ContactID <= 0 || e.ToStatus == "" || e.Source == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records a contact moving from one status to another.
func (s *Service) LogTransition(ctx context.Context, contactID int64, callID, from, to, source, note string) error {
	return s.Append(ctx, Event{
		ContactID:  contactID,
		CallID:     callID,
		FromStatus: from,
		ToStatus:   to,
		Source:     source,
		Note:       note,
	})
}

// History returns the transitions of one contact, oldest first.
func (s *Service) History(ctx context.Context, contactID int64) ([]Event, error) {
	if contactID <= 0 {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByContact(ctx, contactID)
}

// CountTransitions counts contacts that moved into toStatus within [from, to).
func (s *Service) CountTransitions(ctx context.Context, toStatus string, from, to time.Time) (int, error) {
	if toStatus == "" || !to.After(from) {
		return 0, ErrInvalidEvent
	}
	return s.repo.CountTransitions(ctx, toStatus, from, to)
}
