// Package campaign runs one outreach session: it dials eligible contacts one at a time
// and waits for each conversation to be archived before moving on.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"calling-agent/internal/contacts"
	"calling-agent/internal/telephony"
	"calling-agent/internal/transcript"
	"calling-agent/pkg/logger"
)

// ContactStore is satisfied by *contacts.Service.
type ContactStore interface {
	NextCandidateExcluding(ctx context.Context, exclude []int64) (contacts.Contact, bool, error)
	RecordAttempt(ctx context.Context, id int64, status contacts.Status, note string, completed bool) (contacts.Contact, error)
	ApplyOutcomeForCall(ctx context.Context, id int64, callID, source string, status contacts.Status, note string, completed bool) (contacts.Contact, error)
	Stats(ctx context.Context) (contacts.Stats, error)
}

// Sessions is satisfied by *transcript.Hub.
type Sessions interface {
	Open(ctx context.Context, b transcript.Binding) (*transcript.Sink, error)
	BindCallReference(ctx context.Context, room, ref string) error
	Wait(ctx context.Context, room string) (transcript.ArchiveResult, error)
	Shutdown(ctx context.Context, room, reason string) (transcript.ArchiveResult, error)
	Abort(ctx context.Context, room, note string) error
}

type Settings struct {
	MaxCallsPerSession int
	CallInterval       time.Duration
	// SessionTimeout bounds how long one conversation may run before it is hung up.
	SessionTimeout time.Duration
}

// Result summarises one Run.
type Result struct {
	TotalAttempted int            `json:"total_attempted"`
	Successful     int            `json:"successful"`
	Failed         int            `json:"failed"`
	Stats          contacts.Stats `json:"stats"`
}

type Scheduler struct {
	contacts ContactStore
	gateway  telephony.Gateway
	sessions Sessions
	lock     Locker
	settings Settings
	log      *slog.Logger

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewScheduler(c ContactStore, g telephony.Gateway, s Sessions, lock Locker, settings Settings, log *slog.Logger) *Scheduler {
	if lock == nil {
		lock = NoLock{}
	}
	if log == nil {
		log = slog.Default()
	}
	if settings.MaxCallsPerSession <= 0 {
		settings.MaxCallsPerSession = 10
	}
	if settings.SessionTimeout <= 0 {
		settings.SessionTimeout = 15 * time.Minute
	}
	return &Scheduler{
		contacts: c,
		gateway:  g,
		sessions: s,
		lock:     lock,
		settings: settings,
		log:      log.With("component", "campaign"),
		clock:    time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dials up to MaxCallsPerSession contacts, each at most once, sequentially.
// Attempt failures are recorded on the contact and counted; only store and lock
// errors end the run early with an error. Cancelling ctx stops before the next dial.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire campaign lock: %w", err)
	}
	defer release()

	var res Result
	tried := make([]int64, 0, s.settings.MaxCallsPerSession)
	s.log.Info("campaign started", "max_calls", s.settings.MaxCallsPerSession, "interval", s.settings.CallInterval.String())

	for res.TotalAttempted < s.settings.MaxCallsPerSession {
		if ctx.Err() != nil {
			break
		}
		c, ok, err := s.contacts.NextCandidateExcluding(ctx, tried)
		if err != nil {
			return s.finish(ctx, res), fmt.Errorf("next candidate: %w", err)
		}
		if !ok {
			s.log.Info("no more eligible contacts")
			break
		}
		if res.TotalAttempted > 0 {
			s.log.Info("waiting before next call", "interval", s.settings.CallInterval.String())
			if err := s.sleep(ctx, s.settings.CallInterval); err != nil {
				break
			}
		}

		tried = append(tried, c.ID)
		res.TotalAttempted++
		s.log.Info("dialing", "n", res.TotalAttempted, "of", s.settings.MaxCallsPerSession, "contact_id", c.ID)
		if s.attempt(ctx, c) {
			res.Successful++
		} else {
			res.Failed++
		}
	}

	res = s.finish(ctx, res)
	s.log.Info("campaign finished",
		"attempted", res.TotalAttempted,
		"successful", res.Successful,
		"failed", res.Failed,
		"pending", res.Stats.Pending,
		"completed", res.Stats.Completed,
	)
	return res, nil
}

func (s *Scheduler) finish(ctx context.Context, res Result) Result {
	stats, err := s.contacts.Stats(context.WithoutCancel(ctx))
	if err != nil {
		s.log.Warn("final stats unavailable", "err", err)
		return res
	}
	res.Stats = stats
	return res
}

// attempt dials one contact and waits for its conversation to end.
// It reports whether the call was placed.
func (s *Scheduler) attempt(ctx context.Context, c contacts.Contact) (placed bool) {
	now := s.clock()
	room := fmt.Sprintf("onboarding-%d-%d", c.ID, now.UnixNano())
	callID := fmt.Sprintf("call-%d-%d", c.ID, now.UnixNano())
	log := logger.ForCall(s.log, callID, room).With("contact_id", c.ID)
	opened := false

	// Status writes must land even if the run is being cancelled.
	wctx := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Error("attempt panicked", "panic", p)
			s.fail(wctx, log, c.ID, callID, fmt.Sprintf("attempt aborted: %v", p))
			if opened {
				_ = s.sessions.Abort(wctx, room, fmt.Sprintf("attempt aborted: %v", p))
			}
			placed = false
		}
	}()

	if _, err := s.contacts.RecordAttempt(wctx, c.ID, contacts.StatusInProgress, "Call initiated", false); err != nil {
		log.Error("could not record attempt", "err", err)
		return false
	}

	if _, err := s.sessions.Open(wctx, transcript.Binding{
		CallID:           callID,
		RoomName:         room,
		ContactID:        c.ID,
		FacilitatorName:  c.Name,
		FacilitatorPhone: c.PhoneNumber,
		StartTime:        now.UTC(),
	}); err != nil {
		log.Error("could not open session", "err", err)
		s.fail(wctx, log, c.ID, callID, fmt.Sprintf("Session setup failed: %v", err))
		return false
	}
	opened = true

	res, err := s.gateway.Originate(ctx, telephony.OriginateRequest{
		PhoneNumber: c.PhoneNumber,
		RoomName:    room,
		DisplayName: c.Name,
	})
	if err != nil {
		log.Warn("dial failed", "err", err)
		s.fail(wctx, log, c.ID, callID, fmt.Sprintf("Call initiation failed: %v", err))
		if aerr := s.sessions.Abort(wctx, room, fmt.Sprintf("dial failed: %v", err)); aerr != nil {
			log.Warn("session abort failed", "err", aerr)
		}
		return false
	}

	if err := s.sessions.BindCallReference(wctx, room, res.CallReference); err != nil {
		log.Warn("call reference not stored", "call_reference", res.CallReference, "err", err)
	}
	note := fmt.Sprintf("Call initiated successfully. Room: %s, Call reference: %s", room, res.CallReference)
	if _, err := s.contacts.ApplyOutcomeForCall(wctx, c.ID, callID, "dial", contacts.StatusCalled, note, false); err != nil {
		// A tool may already have settled the outcome during the call.
		if errors.Is(err, contacts.ErrInvalidTransition) {
			log.Info("outcome already set by the conversation", "err", err)
		} else {
			log.Warn("could not mark contact called", "err", err)
		}
	}
	log.Info("call placed", "call_reference", res.CallReference)

	s.await(ctx, log, room, res.CallReference)
	return true
}

// await blocks until the conversation is archived, the session times out, or ctx ends.
// On timeout or cancellation the call is hung up and archival is forced.
func (s *Scheduler) await(ctx context.Context, log *slog.Logger, room, ref string) {
	wctx, cancel := context.WithTimeout(ctx, s.settings.SessionTimeout)
	defer cancel()

	res, err := s.sessions.Wait(wctx, room)
	if err == nil {
		log.Info("session archived", "status", res.Status, "turns", res.Turns)
		return
	}
	if errors.Is(err, transcript.ErrUnknownRoom) {
		log.Info("session already released")
		return
	}

	reason := "session_timeout"
	if ctx.Err() != nil {
		reason = "campaign_cancelled"
	}
	status, perr := s.gateway.PollStatus(context.WithoutCancel(ctx), ref)
	log.Warn("session did not finish in time, hanging up", "reason", reason, "carrier_status", status, "poll_err", perr)
	if !s.gateway.Terminate(context.WithoutCancel(ctx), ref) {
		log.Warn("carrier did not confirm hangup", "call_reference", ref)
	}
	res, err = s.sessions.Shutdown(context.WithoutCancel(ctx), room, reason)
	if err != nil {
		log.Warn("forced shutdown failed", "err", err)
		return
	}
	log.Info("session archived after forced shutdown", "status", res.Status, "turns", res.Turns)
}

func (s *Scheduler) fail(ctx context.Context, log *slog.Logger, contactID int64, callID, note string) {
	if _, err := s.contacts.ApplyOutcomeForCall(ctx, contactID, callID, "dial", contacts.StatusFailed, note, false); err != nil {
		log.Warn("could not mark contact failed", "err", err)
	}
}
