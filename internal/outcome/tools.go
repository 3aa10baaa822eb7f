// Package outcome implements the actions the conversational agent can take
// on the contact it is talking to.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"calling-agent/internal/contacts"
	"calling-agent/internal/transcript"
)

// ContactUpdater is satisfied by *contacts.Service.
type ContactUpdater interface {
	ApplyOutcomeForCall(ctx context.Context, id int64, callID, source string, status contacts.Status, note string, completed bool) (contacts.Contact, error)
}

// RoomResolver is satisfied by *transcript.Hub.
type RoomResolver interface {
	Lookup(room string) (transcript.Binding, bool)
}

type Action string

const (
	ActionScheduleCallback   Action = "schedule_callback"
	ActionNotInterested      Action = "not_interested"
	ActionCompleteOnboarding Action = "complete_onboarding"
)

// Args carries tool arguments. Which fields are used depends on the action.
type Args struct {
	Reason  string `json:"reason"`
	When    string `json:"when"`
	Summary string `json:"summary"`
}

var (
	ErrUnknownAction = errors.New("outcome: unknown action")
	ErrNoContact     = errors.New("outcome: room has no contact")
)

type Tools struct {
	contacts ContactUpdater
	rooms    RoomResolver
	log      *slog.Logger
}

func NewTools(c ContactUpdater, rooms RoomResolver, log *slog.Logger) *Tools {
	if log == nil {
		log = slog.Default()
	}
	return &Tools{contacts: c, rooms: rooms, log: log.With("component", "outcome")}
}

// Apply dispatches a named action.
func (t *Tools) Apply(ctx context.Context, room string, action Action, args Args) (contacts.Contact, error) {
	switch action {
	case ActionScheduleCallback:
		return t.ScheduleCallback(ctx, room, args.Reason, args.When)
	case ActionNotInterested:
		return t.MarkNotInterested(ctx, room, args.Reason)
	case ActionCompleteOnboarding:
		return t.CompleteOnboarding(ctx, room, args.Summary)
	default:
		return contacts.Contact{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// ScheduleCallback records that the contact asked to be called again.
func (t *Tools) ScheduleCallback(ctx context.Context, room, reason, when string) (contacts.Contact, error) {
	note := "callback requested"
	if w := strings.TrimSpace(when); w != "" {
		note += " for " + w
	}
	if r := strings.TrimSpace(reason); r != "" {
		note += ": " + r
	}
	return t.apply(ctx, room, ActionScheduleCallback, contacts.StatusCallbackScheduled, note, false)
}

func (t *Tools) MarkNotInterested(ctx context.Context, room, reason string) (contacts.Contact, error) {
	note := "not interested"
	if r := strings.TrimSpace(reason); r != "" {
		note += ": " + r
	}
	return t.apply(ctx, room, ActionNotInterested, contacts.StatusNotInterested, note, false)
}

func (t *Tools) CompleteOnboarding(ctx context.Context, room, summary string) (contacts.Contact, error) {
	note := "onboarding completed"
	if s := strings.TrimSpace(summary); s != "" {
		note += ": " + s
	}
	return t.apply(ctx, room, ActionCompleteOnboarding, contacts.StatusCompleted, note, true)
}

func (t *Tools) apply(ctx context.Context, room string, action Action, status contacts.Status, note string, completed bool) (contacts.Contact, error) {
	b, ok := t.rooms.Lookup(room)
	if !ok {
		return contacts.Contact{}, transcript.ErrUnknownRoom
	}
	if b.ContactID <= 0 {
		return contacts.Contact{}, ErrNoContact
	}
	c, err := t.contacts.ApplyOutcomeForCall(ctx, b.ContactID, b.CallID, "tool:"+string(action), status, note, completed)
	if err != nil {
		t.log.Warn("tool action rejected", "room", room, "action", action, "contact_id", b.ContactID, "err", err)
		return contacts.Contact{}, err
	}
	t.log.Info("tool action applied", "room", room, "action", action, "contact_id", b.ContactID, "status", c.Status)
	return c, nil
}
