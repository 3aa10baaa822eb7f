package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"calling-agent/internal/calls"
	"calling-agent/internal/stream"
)

// StreamWriter is the live stream and archive store. *stream.Publisher implements it.
type StreamWriter interface {
	Append(ctx context.Context, room string, rec stream.Record) (string, error)
	WriteArchive(ctx context.Context, room string, doc []byte) error
}

// Binding ties a conversation room to the call attempt that created it.
type Binding struct {
	CallID           string
	RoomName         string
	CallReference    string
	ContactID        int64
	FacilitatorName  string
	FacilitatorPhone string
	StartTime        time.Time
}

// ArchiveResult is the outcome of a sink's single shutdown.
type ArchiveResult struct {
	CallID string
	Status calls.SessionStatus
	Turns  int
	Err    error
}

// Sink receives the events of one room and persists them.
// Live writes go through the shared queues; shutdown runs once.
type Sink struct {
	hub     *Hub
	binding Binding
	log     *slog.Logger

	mu          sync.Mutex
	participant string
	seq         int
	lastTS      time.Time
	buffer      []calls.Turn
	closing     bool

	inflight sync.WaitGroup
	once     sync.Once
	done     chan struct{}
	result   ArchiveResult
}

func newSink(h *Hub, b Binding, log *slog.Logger) *Sink {
	return &Sink{hub: h, binding: b, log: log, done: make(chan struct{})}
}

func (s *Sink) Binding() Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding
}

// Participant returns the bound human identity, or "" before anyone joined.
func (s *Sink) Participant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}

// Done is closed once the session has been archived or aborted.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Result is valid after Done is closed.
func (s *Sink) Result() ArchiveResult {
	<-s.done
	return s.result
}

// Handle applies one event. Events after shutdown are ignored.
func (s *Sink) Handle(ctx context.Context, ev Event) error {
	select {
	case <-s.done:
		s.log.Debug("event after shutdown ignored", "event", ev.eventType())
		return nil
	default:
	}

	switch e := ev.(type) {
	case ParticipantJoined:
		s.participantJoined(e.Identity)
	case TurnCommitted:
		if !e.Role.Valid() {
			return fmt.Errorf("%w: role %q", ErrInvalidEvent, e.Role)
		}
		s.commit(e.Role, e.Text, e.Confidence)
	case PartialTranscript:
		if e.IsFinal {
			s.commit(calls.RoleUser, e.Text, e.Confidence)
		}
	case SessionShutdown:
		s.Shutdown(ctx, e.Reason)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidEvent, ev)
	}
	return nil
}

func (s *Sink) participantJoined(identity string) {
	if identity == "" || strings.HasPrefix(identity, s.hub.agentPrefix) {
		return
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.log.Debug("participant after shutdown ignored", "participant_id", identity)
		return
	}
	if s.participant != "" {
		s.mu.Unlock()
		return
	}
	s.participant = identity
	callID := s.binding.CallID
	s.inflight.Add(1)
	s.mu.Unlock()

	s.log.Info("participant bound", "participant_id", identity)
	s.enqueueDurable("mark_connected", func(ctx context.Context) error {
		return s.hub.store.MarkConnected(ctx, callID, identity, s.hub.now())
	})
}

func (s *Sink) commit(role calls.Role, text string, confidence *float64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.log.Debug("turn after shutdown ignored", "role", role)
		return
	}
	s.seq++
	// Postgres keeps microseconds; keep timestamps strictly increasing at that precision.
	ts := s.hub.now().Truncate(time.Microsecond)
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = ts
	turn := calls.Turn{
		CallID:     s.binding.CallID,
		Seq:        s.seq,
		Role:       role,
		Text:       text,
		Timestamp:  ts,
		Confidence: confidence,
		CreatedAt:  ts,
	}
	s.buffer = append(s.buffer, turn)
	participant := s.participant
	s.inflight.Add(1)
	s.mu.Unlock()

	s.enqueueStream(turn, participant)
	s.enqueueDurable("insert_turn", func(ctx context.Context) error {
		return s.hub.store.InsertTurn(ctx, turn)
	})
}

func (s *Sink) enqueueStream(t calls.Turn, participant string) {
	if s.hub.stream == nil {
		return
	}
	room := s.binding.RoomName
	rec := stream.Record{
		ParticipantID: participant,
		RoomID:        room,
		Role:          string(t.Role),
		Text:          t.Text,
		TimestampMS:   t.Timestamp.UnixMilli(),
	}
	s.hub.streamQ.Enqueue(Job{
		Name:   "stream_append",
		CallID: t.CallID,
		Run: func(ctx context.Context) error {
			_, err := s.hub.stream.Append(ctx, room, rec)
			return err
		},
		Done: func(err error) {
			if err != nil {
				s.log.Warn("live stream write failed", "seq", t.Seq, "err", fmt.Errorf("%w: %v", ErrPersistenceDegraded, err))
			}
		},
	})
}

// enqueueDurable expects the caller to have added to inflight while holding mu.
func (s *Sink) enqueueDurable(name string, run func(ctx context.Context) error) {
	s.hub.durableQ.Enqueue(Job{
		Name:   name,
		CallID: s.binding.CallID,
		Run:    run,
		Done: func(err error) {
			defer s.inflight.Done()
			if err != nil {
				s.log.Warn("durable write failed", "job", name, "err", fmt.Errorf("%w: %v", ErrPersistenceDegraded, err))
			}
		},
	})
}

// Shutdown archives the session exactly once. Concurrent and repeated calls
// wait for and return the first result. It never panics and never returns an error;
// failures are reported in the result and recorded on the session.
func (s *Sink) Shutdown(ctx context.Context, reason string) ArchiveResult {
	s.once.Do(func() {
		defer close(s.done)
		s.close()
		s.result = s.archive(ctx, reason)
	})
	<-s.done
	return s.result
}

// Abort fails the session without archiving, for calls that never connected.
func (s *Sink) Abort(ctx context.Context, note string) ArchiveResult {
	s.once.Do(func() {
		defer close(s.done)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.hub.archiveTimeout)
		defer cancel()
		s.close()
		s.waitInflight()
		end := s.hub.now()
		if err := s.hub.store.FailSession(ctx, s.binding.CallID, end, note); err != nil && !errors.Is(err, calls.ErrSessionClosed) {
			s.log.Error("failed to mark aborted session", "err", err)
		}
		s.result = ArchiveResult{CallID: s.binding.CallID, Status: calls.SessionFailed}
	})
	<-s.done
	return s.result
}

// close stops the sink from accepting events. Once set, inflight only shrinks.
func (s *Sink) close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
}

func (s *Sink) waitInflight() bool {
	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return true
	case <-time.After(s.hub.drainTimeout):
		return false
	}
}

func (s *Sink) archive(parent context.Context, reason string) (res ArchiveResult) {
	// Archival must run even when the caller's context is already cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.hub.archiveTimeout)
	defer cancel()

	callID := s.binding.CallID
	res.CallID = callID
	log := s.log.With("reason", reason)

	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("%w: panic: %v", ErrArchivalFailed, p)
			res.Status = calls.SessionFailed
			s.markFailed(ctx, res.Err)
			log.Error("archival panicked", "panic", p)
		}
	}()

	if !s.waitInflight() {
		log.Warn("in-flight durable writes did not drain before archival", "timeout", s.hub.drainTimeout.String())
	}

	s.mu.Lock()
	buffered := make([]calls.Turn, len(s.buffer))
	copy(buffered, s.buffer)
	participant := s.participant
	s.mu.Unlock()

	turns, err := s.persist(ctx, buffered)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrArchivalFailed, err)
		res.Status = calls.SessionFailed
		s.markFailed(ctx, res.Err)
		log.Error("archival failed", "err", err)
		return res
	}
	res.Turns = len(turns)
	res.Status = calls.SessionCompleted
	log.Info("session archived", "turns", len(turns))

	s.secondary(ctx, participant, turns)
	return res
}

// persist reconciles the buffer into the durable store and completes the session.
func (s *Sink) persist(ctx context.Context, buffered []calls.Turn) ([]calls.Turn, error) {
	store := s.hub.store
	if participant := s.Participant(); participant != "" {
		if err := store.MarkConnected(ctx, s.binding.CallID, participant, s.hub.now()); err != nil {
			return nil, fmt.Errorf("bind participant: %w", err)
		}
	}
	for _, t := range buffered {
		if err := store.InsertTurn(ctx, t); err != nil {
			return nil, fmt.Errorf("reconcile turn %d: %w", t.Seq, err)
		}
	}
	turns, err := store.ListTurns(ctx, s.binding.CallID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}

	end := s.hub.now()
	duration := int(end.Sub(s.binding.StartTime).Seconds())
	if duration < 0 {
		duration = 0
	}
	err = store.CompleteSession(ctx, s.binding.CallID, calls.Completion{
		EndTime:         end,
		DurationSeconds: duration,
		Transcript:      calls.FormatTranscript(turns),
	})
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	return turns, nil
}

func (s *Sink) markFailed(ctx context.Context, cause error) {
	note := fmt.Sprintf("%s: %v", s.hub.now().Format("2006-01-02 15:04"), cause)
	if err := s.hub.store.FailSession(ctx, s.binding.CallID, s.hub.now(), note); err != nil && !errors.Is(err, calls.ErrSessionClosed) {
		s.log.Error("could not record archival failure", "err", err)
	}
}

// secondary writes the JSON archive and the completion notification. Failures are logged only.
func (s *Sink) secondary(ctx context.Context, participant string, turns []calls.Turn) {
	room := s.binding.RoomName
	if s.hub.stream != nil {
		doc, err := NewConversationLog(s.binding, participant, s.hub.now(), turns).Marshal()
		if err == nil {
			err = s.hub.stream.WriteArchive(ctx, room, doc)
		}
		if err != nil {
			s.log.Warn("conversation archive not written", "err", err)
		}
	}
	if s.hub.notifier != nil {
		if err := s.hub.notifier.Notify(ctx, Notification{RoomName: room, SessionID: room, UserID: participant}); err != nil {
			s.log.Debug("completion notification failed", "err", err)
		}
	}
}
