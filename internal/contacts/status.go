package contacts

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outreach state of a contact.
type Status string

const (
	StatusPending           Status = "pending"
	StatusInProgress        Status = "in_progress"
	StatusCalled            Status = "called"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCallbackScheduled Status = "callback_scheduled"
	StatusNotInterested     Status = "not_interested"
)

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// transitions lists, for each status, the statuses it may move to.
// in_progress -> in_progress covers a process that died mid-attempt.
var transitions = map[Status][]Status{
	StatusPending:           {StatusInProgress},
	StatusInProgress:        {StatusInProgress, StatusCalled, StatusFailed, StatusCallbackScheduled, StatusNotInterested, StatusCompleted},
	StatusCalled:            {StatusInProgress, StatusFailed, StatusCallbackScheduled, StatusNotInterested, StatusCompleted},
	StatusFailed:            {StatusInProgress},
	StatusCallbackScheduled: {StatusInProgress, StatusCallbackScheduled, StatusNotInterested, StatusCompleted},
	StatusNotInterested:     {StatusNotInterested},
	StatusCompleted:         {StatusCompleted},
}

// CanTransition reports whether a contact in status from may move to status to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Dialable reports whether the scheduler may pick a contact in this status.
func (s Status) Dialable() bool {
	return s != StatusCompleted && s != StatusNotInterested
}

const noteTimeLayout = "2006-01-02 15:04"

// appendNote adds a timestamped line to existing notes. Empty notes are ignored.
func appendNote(existing, note string, at time.Time) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	line := fmt.Sprintf("%s: %s", at.Format(noteTimeLayout), note)
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}

// Transition describes one status write against a contact.
type Transition struct {
	To        Status
	Note      string
	Completed bool
	// CountAttempt bumps attempt_count and last_attempted_at. Only dial attempts set it.
	CountAttempt bool
	// Source names the caller (scheduler, tool, operator) for the audit trail.
	Source string
	CallID string
	At     time.Time
}

// apply computes the contact state after t. It is shared by every repository
// so the in-memory and Postgres stores agree on the rules.
func (t Transition) apply(c Contact) (Contact, error) {
	if !t.To.Valid() {
		return Contact{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, t.To)
	}
	if !CanTransition(c.Status, t.To) {
		return Contact{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, t.To)
	}
	at := t.At.UTC()

	out := c
	out.Status = t.To
	out.Notes = appendNote(c.Notes, t.Note, at)
	if t.Completed || t.To == StatusCompleted {
		out.OnboardingCompleted = true
	}
	if t.CountAttempt {
		out.AttemptCount = c.AttemptCount + 1
		out.LastAttemptedAt = &at
	}
	out.UpdatedAt = at
	return out, nil
}
