package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"calling-agent/internal/calls"
	"calling-agent/internal/stream"
)

type fakeStream struct {
	mu       sync.Mutex
	fail     error
	records  map[string][]stream.Record
	archives map[string][]byte
}

func newFakeStream() *fakeStream {
	return &fakeStream{records: map[string][]stream.Record{}, archives: map[string][]byte{}}
}

func (f *fakeStream) Append(ctx context.Context, room string, rec stream.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.records[room] = append(f.records[room], rec)
	return "1-0", nil
}

func (f *fakeStream) WriteArchive(ctx context.Context, room string, doc []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.archives[room] = doc
	return nil
}

func (f *fakeStream) recordsFor(room string) []stream.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stream.Record(nil), f.records[room]...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

type fixture struct {
	hub      *Hub
	store    *calls.MemoryRepo
	stream   *fakeStream
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: calls.NewMemoryRepo(), stream: newFakeStream(), notifier: &fakeNotifier{}}
	f.hub = NewHub(f.store, Options{
		Stream:       f.stream,
		Notifier:     f.notifier,
		DrainTimeout: time.Second,
		Logger:       quietLogger(),
	})
	t.Cleanup(func() { _ = f.hub.Close(context.Background()) })
	return f
}

func (f *fixture) open(t *testing.T, room string) *Sink {
	t.Helper()
	s, err := f.hub.Open(context.Background(), Binding{
		CallID:           "call-" + room,
		RoomName:         room,
		ContactID:        1,
		FacilitatorName:  "Jane",
		FacilitatorPhone: "+15550001",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func (f *fixture) dispatch(t *testing.T, room string, evs ...Event) {
	t.Helper()
	for _, ev := range evs {
		if err := f.hub.Dispatch(context.Background(), room, ev); err != nil {
			t.Fatalf("dispatch %T: %v", ev, err)
		}
	}
}

func TestHub_ArchivesTranscriptInOrder(t *testing.T) {
	f := newFixture(t)
	f.open(t, "r1")
	f.dispatch(t, "r1",
		ParticipantJoined{Identity: "agent-1"},
		ParticipantJoined{Identity: "sip_+15550001"},
		TurnCommitted{Role: calls.RoleAgent, Text: "Hi"},
		TurnCommitted{Role: calls.RoleUser, Text: "Hello"},
		TurnCommitted{Role: calls.RoleAgent, Text: "How are you"},
		SessionShutdown{Reason: "hangup"},
	)

	res, err := f.hub.Wait(context.Background(), "r1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Err != nil || res.Status != calls.SessionCompleted || res.Turns != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	s, _ := f.store.GetSession(context.Background(), "call-r1")
	want := "Agent: Hi\nFacilitator: Hello\nAgent: How are you\n"
	if s.FullTranscript == nil || *s.FullTranscript != want {
		t.Fatalf("transcript = %v, want %q", s.FullTranscript, want)
	}
	if s.Status != calls.SessionCompleted || s.EndTime == nil || s.DurationSeconds == nil {
		t.Fatalf("session not completed: %+v", s)
	}
	if s.ParticipantID != "sip_+15550001" {
		t.Fatalf("expected bound participant, got %q", s.ParticipantID)
	}

	_ = f.hub.Close(context.Background())
	recs := f.stream.recordsFor("r1")
	if len(recs) != 3 || recs[0].Text != "Hi" || recs[2].Text != "How are you" {
		t.Fatalf("unexpected stream records: %+v", recs)
	}
	if recs[1].ParticipantID != "sip_+15550001" || recs[1].RoomID != "r1" {
		t.Fatalf("stream record missing identity: %+v", recs[1])
	}

	var doc ConversationLog
	if err := json.Unmarshal(f.stream.archives["r1"], &doc); err != nil {
		t.Fatalf("archive doc: %v", err)
	}
	if doc.ConversationID != "call-r1" || doc.UID != "sip_+15550001" || len(doc.Conversation) != 3 {
		t.Fatalf("unexpected archive: %+v", doc)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].RoomName != "r1" || f.notifier.sent[0].UserID != "sip_+15550001" {
		t.Fatalf("expected one notification for r1, got %+v", f.notifier.sent)
	}
}

func TestSink_ShutdownIsIdempotent(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "r1")
	f.dispatch(t, "r1",
		TurnCommitted{Role: calls.RoleAgent, Text: "Hi"},
		TurnCommitted{Role: calls.RoleUser, Text: "Hello"},
	)

	var wg sync.WaitGroup
	results := make([]ArchiveResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Shutdown(context.Background(), "hangup")
		}(i)
	}
	wg.Wait()
	again := s.Shutdown(context.Background(), "second")

	for _, r := range append(results, again) {
		if r.Status != calls.SessionCompleted || r.Turns != 2 {
			t.Fatalf("unexpected result: %+v", r)
		}
	}
	turns, _ := f.store.ListTurns(context.Background(), "call-r1")
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns after repeated shutdown, got %d", len(turns))
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected a single notification, got %d", len(f.notifier.sent))
	}

	// Late events are ignored.
	if err := s.Handle(context.Background(), TurnCommitted{Role: calls.RoleAgent, Text: "late"}); err != nil {
		t.Fatalf("late event: %v", err)
	}
	turns, _ = f.store.ListTurns(context.Background(), "call-r1")
	if len(turns) != 2 {
		t.Fatalf("late turn must not be stored")
	}
}

func TestSink_ParticipantBindingIsOneShot(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "r1")
	f.dispatch(t, "r1",
		ParticipantJoined{Identity: "agent-worker"},
		ParticipantJoined{Identity: "sip_first"},
		ParticipantJoined{Identity: "sip_second"},
	)
	if got := s.Participant(); got != "sip_first" {
		t.Fatalf("expected sip_first bound, got %q", got)
	}
}

func TestSink_OnlyFinalPartialsBecomeTurns(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "r1")
	f.dispatch(t, "r1",
		PartialTranscript{IsFinal: false, Text: "hel"},
		PartialTranscript{IsFinal: true, Text: "hello there"},
		TurnCommitted{Role: calls.RoleAgent, Text: "   "},
	)
	res := s.Shutdown(context.Background(), "hangup")
	if res.Turns != 1 {
		t.Fatalf("expected one turn, got %d", res.Turns)
	}
	sess, _ := f.store.GetSession(context.Background(), "call-r1")
	if *sess.FullTranscript != "Facilitator: hello there\n" {
		t.Fatalf("unexpected transcript %q", *sess.FullTranscript)
	}
}

func TestSink_StreamFailureDoesNotAffectDurable(t *testing.T) {
	f := newFixture(t)
	f.stream.fail = errors.New("redis down")
	s := f.open(t, "r1")
	f.dispatch(t, "r1",
		TurnCommitted{Role: calls.RoleAgent, Text: "Hi"},
		TurnCommitted{Role: calls.RoleUser, Text: "Hello"},
	)
	res := s.Shutdown(context.Background(), "hangup")
	if res.Status != calls.SessionCompleted || res.Turns != 2 {
		t.Fatalf("durable path should complete without the stream: %+v", res)
	}
}

func TestSink_DurableFailureDoesNotAffectStream(t *testing.T) {
	f := newFixture(t)
	f.store.FailInserts = errors.New("db down")
	s := f.open(t, "r1")
	f.dispatch(t, "r1",
		TurnCommitted{Role: calls.RoleAgent, Text: "Hi"},
		TurnCommitted{Role: calls.RoleUser, Text: "Hello"},
	)
	res := s.Shutdown(context.Background(), "hangup")
	if !errors.Is(res.Err, ErrArchivalFailed) || res.Status != calls.SessionFailed {
		t.Fatalf("expected archival failure, got %+v", res)
	}
	sess, _ := f.store.GetSession(context.Background(), "call-r1")
	if sess.Status != calls.SessionFailed || !strings.Contains(sess.Notes, "archival failed") {
		t.Fatalf("expected failed session with note, got %+v", sess)
	}

	_ = f.hub.Close(context.Background())
	if got := len(f.stream.recordsFor("r1")); got != 2 {
		t.Fatalf("expected 2 stream records despite durable failure, got %d", got)
	}
}

func TestHub_AbortFailsSession(t *testing.T) {
	f := newFixture(t)
	f.open(t, "r1")
	if err := f.hub.Abort(context.Background(), "r1", "dial failed: busy"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	sess, _ := f.store.GetSession(context.Background(), "call-r1")
	if sess.Status != calls.SessionFailed || sess.Notes != "dial failed: busy" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if _, ok := f.hub.Lookup("r1"); ok {
		t.Fatalf("aborted room should be released")
	}
}

func TestHub_WaitTimeoutThenForcedShutdown(t *testing.T) {
	f := newFixture(t)
	f.open(t, "r1")
	f.dispatch(t, "r1", TurnCommitted{Role: calls.RoleAgent, Text: "Hi"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.hub.Wait(ctx, "r1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	res, err := f.hub.Shutdown(context.Background(), "r1", "timeout")
	if err != nil || res.Status != calls.SessionCompleted {
		t.Fatalf("forced shutdown: res=%+v err=%v", res, err)
	}
}

func TestHub_RoomRegistry(t *testing.T) {
	f := newFixture(t)
	f.open(t, "r1")
	if _, err := f.hub.Open(context.Background(), Binding{CallID: "other", RoomName: "r1"}); !errors.Is(err, ErrRoomExists) {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}
	if err := f.hub.Dispatch(context.Background(), "nope", SessionShutdown{}); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
	if err := f.hub.BindCallReference(context.Background(), "r1", "CA1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	b, ok := f.hub.Lookup("r1")
	if !ok || b.CallReference != "CA1" || b.ContactID != 1 {
		t.Fatalf("unexpected binding: %+v", b)
	}
	sess, _ := f.store.GetSession(context.Background(), "call-r1")
	if sess.CallReference != "CA1" || sess.CallID != "call-r1" {
		t.Fatalf("call reference must be stored beside call_id: %+v", sess)
	}
}

func TestDecodeEvent(t *testing.T) {
	cases := []struct {
		in   string
		want Event
	}{
		{`{"type":"participant_joined","identity":"sip_1"}`, ParticipantJoined{Identity: "sip_1"}},
		{`{"type":"turn_committed","role":"agent","text":"Hi"}`, TurnCommitted{Role: calls.RoleAgent, Text: "Hi"}},
		{`{"type":"partial_transcript","is_final":true,"text":"ok"}`, PartialTranscript{IsFinal: true, Text: "ok"}},
		{`{"type":"session_shutdown","reason":"hangup"}`, SessionShutdown{Reason: "hangup"}},
	}
	for _, tc := range cases {
		got, err := DecodeEvent([]byte(tc.in))
		if err != nil {
			t.Fatalf("DecodeEvent(%s): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("DecodeEvent(%s) = %#v, want %#v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{
		`{"type":"turn_committed","role":"system","text":"x"}`,
		`{"type":"participant_joined"}`,
		`{"type":"dance"}`,
		`not json`,
	} {
		if _, err := DecodeEvent([]byte(bad)); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("DecodeEvent(%s) expected ErrInvalidEvent, got %v", bad, err)
		}
	}
}

type gatedRepo struct {
	*calls.MemoryRepo
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRepo) CompleteSession(ctx context.Context, callID string, c calls.Completion) error {
	close(g.entered)
	<-g.release
	return g.MemoryRepo.CompleteSession(ctx, callID, c)
}

func TestSink_TurnDuringArchivalIsDropped(t *testing.T) {
	store := &gatedRepo{MemoryRepo: calls.NewMemoryRepo(), entered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(store, Options{DrainTimeout: time.Second, Logger: quietLogger()})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	s, err := hub.Open(context.Background(), Binding{CallID: "call-r1", RoomName: "r1", ContactID: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := hub.Dispatch(context.Background(), "r1", TurnCommitted{Role: calls.RoleAgent, Text: "Hi"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	results := make(chan ArchiveResult, 1)
	go func() { results <- s.Shutdown(context.Background(), "hangup") }()
	<-store.entered

	if err := hub.Dispatch(context.Background(), "r1", TurnCommitted{Role: calls.RoleUser, Text: "wait"}); err != nil {
		t.Fatalf("dispatch during archival: %v", err)
	}
	if err := hub.Dispatch(context.Background(), "r1", ParticipantJoined{Identity: "sip_late"}); err != nil {
		t.Fatalf("join during archival: %v", err)
	}
	close(store.release)
	res := <-results
	if res.Status != calls.SessionCompleted || res.Turns != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if err := hub.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	turns, _ := store.ListTurns(context.Background(), "call-r1")
	sess, _ := store.GetSession(context.Background(), "call-r1")
	if sess.FullTranscript == nil {
		t.Fatalf("transcript not written")
	}
	lines := strings.Count(*sess.FullTranscript, "\n")
	if len(turns) != lines || len(turns) != 1 {
		t.Fatalf("stored turns = %d, transcript lines = %d (%q)", len(turns), lines, *sess.FullTranscript)
	}
	if s.Participant() != "" || sess.ParticipantID != "" {
		t.Fatalf("late participant must not be bound: %q / %q", s.Participant(), sess.ParticipantID)
	}
}

func TestSink_TimestampsStrictlyIncreasingAtMicroseconds(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	var ticks int64
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		return base.Add(time.Duration(ticks*500) * time.Nanosecond)
	}
	store := calls.NewMemoryRepo()
	hub := NewHub(store, Options{DrainTimeout: time.Second, Logger: quietLogger(), Clock: clock})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	s, err := hub.Open(context.Background(), Binding{CallID: "call-r1", RoomName: "r1", StartTime: base})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := s.Handle(context.Background(), TurnCommitted{Role: calls.RoleAgent, Text: "turn"}); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	s.Shutdown(context.Background(), "hangup")

	turns, _ := store.ListTurns(context.Background(), "call-r1")
	if len(turns) != 6 {
		t.Fatalf("expected 6 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if !turn.Timestamp.Equal(turn.Timestamp.Truncate(time.Microsecond)) {
			t.Fatalf("turn %d timestamp %v has sub-microsecond precision", i, turn.Timestamp)
		}
		if i > 0 && !turn.Timestamp.After(turns[i-1].Timestamp) {
			t.Fatalf("turn %d timestamp %v not after %v", i, turn.Timestamp, turns[i-1].Timestamp)
		}
	}
}

func TestHTTPNotifier_PostsRoomName(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, time.Second)
	if err := n.Notify(context.Background(), Notification{RoomName: "r1", SessionID: "r1", UserID: "sip_+15550001"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if body["room_name"] != "r1" || body["user_id"] != "sip_+15550001" {
		t.Fatalf("unexpected notification body: %v", body)
	}
	if body["session_id"] != "r1" {
		t.Fatalf("session_id should mirror room_name: %v", body)
	}
}
