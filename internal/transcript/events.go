package transcript

import (
	"encoding/json"
	"fmt"

	"calling-agent/internal/calls"
)

// Event is one notification from the conversation runtime. The set is closed.
type Event interface {
	eventType() string
}

// ParticipantJoined is emitted for every participant entering the room, agents included.
type ParticipantJoined struct {
	Identity string
}

// TurnCommitted is a finished utterance from either side.
type TurnCommitted struct {
	Role       calls.Role
	Text       string
	Confidence *float64
}

// PartialTranscript is speech-to-text output for the user. Only final ones are kept.
type PartialTranscript struct {
	IsFinal    bool
	Text       string
	Confidence *float64
}

type SessionShutdown struct {
	Reason string
}

func (ParticipantJoined) eventType() string { return "participant_joined" }
func (TurnCommitted) eventType() string     { return "turn_committed" }
func (PartialTranscript) eventType() string { return "partial_transcript" }
func (SessionShutdown) eventType() string   { return "session_shutdown" }

// wireEvent is the JSON shape posted by the runtime to /v1/rooms/:room/events.
type wireEvent struct {
	Type       string   `json:"type"`
	Identity   string   `json:"identity,omitempty"`
	Role       string   `json:"role,omitempty"`
	Text       string   `json:"text,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	IsFinal    bool     `json:"is_final,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// DecodeEvent parses one JSON event.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	switch w.Type {
	case "participant_joined":
		if w.Identity == "" {
			return nil, fmt.Errorf("%w: identity is required", ErrInvalidEvent)
		}
		return ParticipantJoined{Identity: w.Identity}, nil
	case "turn_committed":
		role := calls.Role(w.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("%w: role must be agent or user", ErrInvalidEvent)
		}
		return TurnCommitted{Role: role, Text: w.Text, Confidence: w.Confidence}, nil
	case "partial_transcript":
		return PartialTranscript{IsFinal: w.IsFinal, Text: w.Text, Confidence: w.Confidence}, nil
	case "session_shutdown":
		return SessionShutdown{Reason: w.Reason}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, w.Type)
	}
}
