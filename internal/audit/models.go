package audit

import "time"

// Event is an immutable record of one contact status change.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; a failed append never blocks a status change.
type Event struct {
	ID        string `json:"id" db:"id"`
	ContactID int64  `json:"contact_id" db:"contact_id"`
	// CallID links the change to the call that caused it, when there is one.
	CallID     string `json:"call_id,omitempty" db:"call_id"`
	FromStatus string `json:"from_status" db:"from_status"`
	ToStatus   string `json:"to_status" db:"to_status"`
	// Source is the writer: dial, outcome, tool:<action>, operator.
	Source    string    `json:"source" db:"source"`
	Note      string    `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
