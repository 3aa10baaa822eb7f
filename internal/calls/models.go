package calls

import (
	"errors"
	"strings"
	"time"
)

// Session is one call attempt with a live conversation room.
//
// CallID is the internal correlation id and keys the durable store.
// CallReference is the carrier's id; it is stored beside CallID and never used as a key.
type Session struct {
	CallID           string        `json:"call_id" db:"call_id"`
	RoomName         string        `json:"room_name" db:"room_name"`
	CallReference    string        `json:"call_reference,omitempty" db:"call_reference"`
	ContactID        int64         `json:"contact_id,omitempty" db:"contact_id"`
	FacilitatorName  string        `json:"facilitator_name" db:"facilitator_name"`
	FacilitatorPhone string        `json:"facilitator_phone" db:"facilitator_phone"`
	ParticipantID    string        `json:"participant_id,omitempty" db:"participant_id"`
	StartTime        time.Time     `json:"start_time" db:"start_time"`
	EndTime          *time.Time    `json:"end_time,omitempty" db:"end_time"`
	DurationSeconds  *int          `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Status           SessionStatus `json:"status" db:"status"`
	FullTranscript   *string       `json:"full_transcript,omitempty" db:"full_transcript"`
	Notes            string        `json:"notes,omitempty" db:"notes"`
	RecordingURL     string        `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type SessionStatus string

const (
	SessionInitiated SessionStatus = "initiated"
	SessionConnected SessionStatus = "connected"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Open reports whether the session can still be completed or failed.
func (s SessionStatus) Open() bool {
	return s == SessionInitiated || s == SessionConnected
}

// Turn is one committed utterance. Turns are append-only and ordered by (Timestamp, Seq).
type Turn struct {
	CallID     string    `json:"call_id" db:"call_id"`
	Seq        int       `json:"seq" db:"seq"`
	Role       Role      `json:"role" db:"role"`
	Text       string    `json:"text" db:"text"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	Confidence *float64  `json:"confidence,omitempty" db:"confidence"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool { return r == RoleAgent || r == RoleUser }

// Label is the speaker name used in formatted transcripts.
func (r Role) Label() string {
	if r == RoleAgent {
		return "Agent"
	}
	return "Facilitator"
}

// FormatTranscript renders turns as "<Label>: <text>\n" lines in the given order.
func FormatTranscript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role.Label())
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Completion is the final write of a successful archival.
type Completion struct {
	EndTime         time.Time
	DurationSeconds int
	Transcript      string
}

var (
	ErrNotFound      = errors.New("calls: session not found")
	ErrSessionClosed = errors.New("calls: session already finalized")
	ErrInvalidTurn   = errors.New("calls: invalid turn")
)
