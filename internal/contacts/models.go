package contacts

import (
	"errors"
	"time"
)

// Contact is a person to be called during onboarding outreach.
//
// Invariants:
// - attempt_count never decreases.
// - status=completed implies onboarding_completed.
// - rows are never deleted.
type Contact struct {
	ID                  int64      `json:"id" db:"id"`
	Name                string     `json:"name" db:"name"`
	PhoneNumber         string     `json:"phone_number" db:"phone_number"`
	Status              Status     `json:"status" db:"status"`
	AttemptCount        int        `json:"attempt_count" db:"attempt_count"`
	LastAttemptedAt     *time.Time `json:"last_attempted_at,omitempty" db:"last_attempted_at"`
	Notes               string     `json:"notes" db:"notes"`
	OnboardingCompleted bool       `json:"onboarding_completed" db:"onboarding_completed"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ImportRow is one line of a bulk contact import.
type ImportRow struct {
	Line        int
	Name        string
	PhoneNumber string
}

type ImportResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

var (
	ErrNotFound          = errors.New("contacts: not found")
	ErrInvalidArgument   = errors.New("contacts: invalid argument")
	ErrInvalidTransition = errors.New("contacts: invalid status transition")
	ErrAlreadyExists     = errors.New("contacts: phone number already registered")
)
