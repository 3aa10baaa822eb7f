package transcript

import (
	"encoding/json"
	"time"

	"calling-agent/internal/calls"
)

// ConversationLog is the archive document stored at convo:<room>:archive.
type ConversationLog struct {
	UID            string      `json:"uid"`
	ConversationID string      `json:"conversation_id"`
	RoomName       string      `json:"room_name"`
	CreatedAt      string      `json:"created_at"`
	UpdatedAt      string      `json:"updated_at"`
	Conversation   []Utterance `json:"conversation"`
}

type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// NewConversationLog builds the archive for one call. uid falls back to the dialed
// number when no participant ever joined.
func NewConversationLog(b Binding, participant string, ended time.Time, turns []calls.Turn) ConversationLog {
	uid := participant
	if uid == "" {
		uid = b.FacilitatorPhone
	}
	conv := make([]Utterance, 0, len(turns))
	for _, t := range turns {
		conv = append(conv, Utterance{Speaker: string(t.Role), Text: t.Text})
	}
	return ConversationLog{
		UID:            uid,
		ConversationID: b.CallID,
		RoomName:       b.RoomName,
		CreatedAt:      b.StartTime.UTC().Format(time.RFC3339),
		UpdatedAt:      ended.UTC().Format(time.RFC3339),
		Conversation:   conv,
	}
}

func (l ConversationLog) Marshal() ([]byte, error) {
	return json.Marshal(l)
}
