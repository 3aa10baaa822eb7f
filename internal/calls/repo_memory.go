package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
// FailInserts, when set, makes InsertTurn return that error.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
	turns    map[string]map[int]Turn

	FailInserts error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: map[string]Session{}, turns: map[string]map[int]Turn{}}
}

func (r *MemoryRepo) CreateSession(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.CallID]; ok {
		return nil
	}
	s.UpdatedAt = s.CreatedAt
	r.sessions[s.CallID] = s
	return nil
}

func (r *MemoryRepo) GetSession(ctx context.Context, callID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) update(callID string, fn func(*Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&s); err != nil {
		return err
	}
	r.sessions[callID] = s
	return nil
}

func (r *MemoryRepo) BindCallReference(ctx context.Context, callID, ref string, now time.Time) error {
	return r.update(callID, func(s *Session) error {
		s.CallReference = ref
		s.UpdatedAt = now
		return nil
	})
}

func (r *MemoryRepo) MarkConnected(ctx context.Context, callID, participantID string, now time.Time) error {
	return r.update(callID, func(s *Session) error {
		s.ParticipantID = participantID
		if s.Status == SessionInitiated {
			s.Status = SessionConnected
		}
		s.UpdatedAt = now
		return nil
	})
}

func (r *MemoryRepo) CompleteSession(ctx context.Context, callID string, c Completion) error {
	return r.update(callID, func(s *Session) error {
		if !s.Status.Open() {
			return ErrSessionClosed
		}
		end := c.EndTime
		dur := c.DurationSeconds
		transcript := c.Transcript
		s.Status = SessionCompleted
		s.EndTime = &end
		s.DurationSeconds = &dur
		s.FullTranscript = &transcript
		s.UpdatedAt = end
		return nil
	})
}

func (r *MemoryRepo) FailSession(ctx context.Context, callID string, end time.Time, note string) error {
	return r.update(callID, func(s *Session) error {
		if !s.Status.Open() {
			return ErrSessionClosed
		}
		s.Status = SessionFailed
		s.EndTime = &end
		s.Notes = appendLine(s.Notes, note)
		s.UpdatedAt = end
		return nil
	})
}

func (r *MemoryRepo) InsertTurn(ctx context.Context, t Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailInserts != nil {
		return r.FailInserts
	}
	if _, ok := r.sessions[t.CallID]; !ok {
		return ErrNotFound
	}
	byseq := r.turns[t.CallID]
	if byseq == nil {
		byseq = map[int]Turn{}
		r.turns[t.CallID] = byseq
	}
	if _, dup := byseq[t.Seq]; !dup {
		byseq[t.Seq] = t
	}
	return nil
}

func (r *MemoryRepo) ListTurns(ctx context.Context, callID string) ([]Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Turn, 0, len(r.turns[callID]))
	for _, t := range r.turns[callID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (r *MemoryRepo) byReference(ref string, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for id, s := range r.sessions {
		if ref != "" && s.CallReference == ref {
			fn(&s)
			r.sessions[id] = s
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (r *MemoryRepo) SetRecordingURL(ctx context.Context, ref, url string, now time.Time) error {
	return r.byReference(ref, func(s *Session) {
		s.RecordingURL = url
		s.UpdatedAt = now
	})
}

func (r *MemoryRepo) AppendNoteByReference(ctx context.Context, ref, note string, now time.Time) error {
	return r.byReference(ref, func(s *Session) {
		s.Notes = appendLine(s.Notes, note)
		s.UpdatedAt = now
	})
}

func (r *MemoryRepo) ListSessions(ctx context.Context, from, to time.Time) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range r.sessions {
		if s.StartTime.Before(from) || !s.StartTime.Before(to) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func appendLine(existing, line string) string {
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}
