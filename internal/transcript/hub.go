package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"calling-agent/internal/calls"
	"calling-agent/pkg/logger"
)

// Options configures a Hub. Zero values get defaults.
type Options struct {
	// Stream may be nil when Redis is not configured; live stream and archive are then skipped.
	Stream   StreamWriter
	Notifier Notifier

	AgentIdentityPrefix string
	QueueSize           int
	DurableWorkers      int
	DrainTimeout        time.Duration
	ArchiveTimeout      time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

// Hub owns the sinks of all open rooms and the persistence queues they share.
type Hub struct {
	store    calls.Repository
	stream   StreamWriter
	notifier Notifier

	streamQ  *Queue
	durableQ *Queue

	agentPrefix    string
	drainTimeout   time.Duration
	archiveTimeout time.Duration
	clock          func() time.Time
	log            *slog.Logger

	mu    sync.Mutex
	sinks map[string]*Sink
}

func NewHub(store calls.Repository, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.AgentIdentityPrefix == "" {
		opts.AgentIdentityPrefix = "agent"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DurableWorkers <= 0 {
		opts.DurableWorkers = 4
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.ArchiveTimeout <= 0 {
		opts.ArchiveTimeout = 30 * time.Second
	}
	log := opts.Logger.With("component", "transcript")
	return &Hub{
		store:    store,
		stream:   opts.Stream,
		notifier: opts.Notifier,
		// One stream worker keeps XADD order per room.
		streamQ:        NewQueue("stream", opts.QueueSize, 1, log),
		durableQ:       NewQueue("durable", opts.QueueSize, opts.DurableWorkers, log),
		agentPrefix:    opts.AgentIdentityPrefix,
		drainTimeout:   opts.DrainTimeout,
		archiveTimeout: opts.ArchiveTimeout,
		clock:          opts.Clock,
		log:            log,
		sinks:          map[string]*Sink{},
	}
}

func (h *Hub) now() time.Time { return h.clock().UTC() }

// Open creates the session row and starts accepting events for b.RoomName.
func (h *Hub) Open(ctx context.Context, b Binding) (*Sink, error) {
	if b.CallID == "" || b.RoomName == "" {
		return nil, fmt.Errorf("%w: call_id and room_name are required", ErrInvalidEvent)
	}
	if b.StartTime.IsZero() {
		b.StartTime = h.now()
	}

	h.mu.Lock()
	if _, ok := h.sinks[b.RoomName]; ok {
		h.mu.Unlock()
		return nil, ErrRoomExists
	}
	s := newSink(h, b, logger.ForCall(h.log, b.CallID, b.RoomName))
	h.sinks[b.RoomName] = s
	h.mu.Unlock()

	err := h.store.CreateSession(ctx, calls.Session{
		CallID:           b.CallID,
		RoomName:         b.RoomName,
		CallReference:    b.CallReference,
		ContactID:        b.ContactID,
		FacilitatorName:  b.FacilitatorName,
		FacilitatorPhone: b.FacilitatorPhone,
		StartTime:        b.StartTime,
		Status:           calls.SessionInitiated,
		CreatedAt:        b.StartTime,
	})
	if err != nil {
		h.remove(b.RoomName, s)
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// BindCallReference records the carrier's id for the room's session.
func (h *Hub) BindCallReference(ctx context.Context, room, ref string) error {
	s, ok := h.sink(room)
	if !ok {
		return ErrUnknownRoom
	}
	s.mu.Lock()
	s.binding.CallReference = ref
	callID := s.binding.CallID
	s.mu.Unlock()
	return h.store.BindCallReference(ctx, callID, ref, h.now())
}

// Dispatch routes ev to the room's sink.
func (h *Hub) Dispatch(ctx context.Context, room string, ev Event) error {
	s, ok := h.sink(room)
	if !ok {
		return ErrUnknownRoom
	}
	return s.Handle(ctx, ev)
}

// Lookup returns the binding for an open room.
func (h *Hub) Lookup(room string) (Binding, bool) {
	s, ok := h.sink(room)
	if !ok {
		return Binding{}, false
	}
	return s.Binding(), true
}

// Wait blocks until the room is archived or ctx ends. The room is released on success.
func (h *Hub) Wait(ctx context.Context, room string) (ArchiveResult, error) {
	s, ok := h.sink(room)
	if !ok {
		return ArchiveResult{}, ErrUnknownRoom
	}
	select {
	case <-s.Done():
		h.remove(room, s)
		return s.Result(), nil
	case <-ctx.Done():
		return ArchiveResult{}, ctx.Err()
	}
}

// Shutdown forces archival of the room, as if the runtime had sent SessionShutdown.
func (h *Hub) Shutdown(ctx context.Context, room, reason string) (ArchiveResult, error) {
	s, ok := h.sink(room)
	if !ok {
		return ArchiveResult{}, ErrUnknownRoom
	}
	res := s.Shutdown(ctx, reason)
	h.remove(room, s)
	return res, nil
}

// Abort fails the room's session without archiving and releases the room.
func (h *Hub) Abort(ctx context.Context, room, note string) error {
	s, ok := h.sink(room)
	if !ok {
		return ErrUnknownRoom
	}
	s.Abort(ctx, note)
	h.remove(room, s)
	return nil
}

// OpenRooms lists rooms that have not been released yet.
func (h *Hub) OpenRooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.sinks))
	for room := range h.sinks {
		out = append(out, room)
	}
	return out
}

// Close archives every open room and drains the persistence queues.
func (h *Hub) Close(ctx context.Context) error {
	for _, room := range h.OpenRooms() {
		if _, err := h.Shutdown(ctx, room, "process_exit"); err != nil && !errors.Is(err, ErrUnknownRoom) {
			h.log.Warn("shutdown on close failed", "room", room, "err", err)
		}
	}
	return errors.Join(h.streamQ.Close(ctx), h.durableQ.Close(ctx))
}

func (h *Hub) sink(room string) (*Sink, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sinks[room]
	return s, ok
}

func (h *Hub) remove(room string, s *Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.sinks[room]; ok && cur == s {
		delete(h.sinks, room)
	}
}
