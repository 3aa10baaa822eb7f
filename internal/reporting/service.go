package reporting

import (
	"context"
	"errors"
	"time"

	"calling-agent/internal/calls"
	"calling-agent/internal/contacts"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// SessionSource is satisfied by calls.Repository.
type SessionSource interface {
	ListSessions(ctx context.Context, from, to time.Time) ([]calls.Session, error)
}

// TransitionSource is satisfied by audit.Service. Reporting reads the immutable
// transition log rather than current contact status so ranges stay stable.
type TransitionSource interface {
	CountTransitions(ctx context.Context, toStatus string, from, to time.Time) (int, error)
}

type Service struct {
	sessions    SessionSource
	transitions TransitionSource
}

func NewService(sessions SessionSource, transitions TransitionSource) *Service {
	return &Service{sessions: sessions, transitions: transitions}
}

func (s *Service) CallsSummary(ctx context.Context, r TimeRange) (CallsSummary, error) {
	if !r.valid() {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.sessions == nil {
		return CallsSummary{}, errors.New("reporting: session source not configured")
	}

	rows, err := s.sessions.ListSessions(ctx, r.From, r.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: r}
	for _, c := range rows {
		out.TotalCalls++
		if c.ParticipantID != "" {
			out.ConnectedCalls++
		}
		if c.DurationSeconds != nil {
			out.TotalDurationSeconds += *c.DurationSeconds
		}
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.FullTranscript != nil && *c.FullTranscript != "" {
			out.TranscribedCalls++
		}
		switch c.Status {
		case calls.SessionCompleted:
			out.CompletedCalls++
		case calls.SessionFailed:
			out.FailedCalls++
		default:
			out.InProgressCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

func (s *Service) OutcomeMetrics(ctx context.Context, r TimeRange) (OutcomeMetrics, error) {
	if !r.valid() {
		return OutcomeMetrics{}, ErrInvalidRequest
	}
	if s.sessions == nil || s.transitions == nil {
		return OutcomeMetrics{}, errors.New("reporting: sources not configured")
	}

	summary, err := s.CallsSummary(ctx, r)
	if err != nil {
		return OutcomeMetrics{}, err
	}
	out := OutcomeMetrics{
		Range:          r,
		CallsAttempted: summary.TotalCalls,
		CallsConnected: summary.ConnectedCalls,
	}

	counts := []struct {
		status contacts.Status
		dst    *int
	}{
		{contacts.StatusCompleted, &out.Completions},
		{contacts.StatusCallbackScheduled, &out.CallbacksScheduled},
		{contacts.StatusNotInterested, &out.NotInterested},
	}
	for _, c := range counts {
		n, err := s.transitions.CountTransitions(ctx, string(c.status), r.From, r.To)
		if err != nil {
			return OutcomeMetrics{}, err
		}
		*c.dst = n
	}

	if out.CallsAttempted > 0 {
		out.ConnectionRate = float64(out.CallsConnected) / float64(out.CallsAttempted)
		out.ConversionRate = float64(out.Completions) / float64(out.CallsAttempted)
	}
	return out, nil
}
