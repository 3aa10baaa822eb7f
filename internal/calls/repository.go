package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"calling-agent/pkg/utils"
)

// Repository is the durable store for sessions and turns.
type Repository interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, callID string) (Session, error)
	BindCallReference(ctx context.Context, callID, ref string, now time.Time) error
	MarkConnected(ctx context.Context, callID, participantID string, now time.Time) error
	// CompleteSession moves an open session to completed. ErrSessionClosed if it is already final.
	CompleteSession(ctx context.Context, callID string, c Completion) error
	// FailSession moves an open session to failed and appends note.
	FailSession(ctx context.Context, callID string, end time.Time, note string) error

	// InsertTurn is idempotent on (call_id, seq).
	InsertTurn(ctx context.Context, t Turn) error
	ListTurns(ctx context.Context, callID string) ([]Turn, error)

	// Carrier callbacks address sessions by call reference.
	SetRecordingURL(ctx context.Context, ref, url string, now time.Time) error
	AppendNoteByReference(ctx context.Context, ref, note string, now time.Time) error

	ListSessions(ctx context.Context, from, to time.Time) ([]Session, error)
}

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const sessionColumns = `call_id, room_name, call_reference, contact_id, facilitator_name, facilitator_phone,
participant_id, start_time, end_time, duration_seconds, status, full_transcript, notes, recording_url,
created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var (
		contactID  sql.NullInt64
		end        sql.NullTime
		duration   sql.NullInt32
		transcript sql.NullString
	)
	if err := row.Scan(
		&s.CallID,
		&s.RoomName,
		&s.CallReference,
		&contactID,
		&s.FacilitatorName,
		&s.FacilitatorPhone,
		&s.ParticipantID,
		&s.StartTime,
		&end,
		&duration,
		&s.Status,
		&transcript,
		&s.Notes,
		&s.RecordingURL,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	s.ContactID = contactID.Int64
	if end.Valid {
		t := end.Time
		s.EndTime = &t
	}
	if duration.Valid {
		d := int(duration.Int32)
		s.DurationSeconds = &d
	}
	if transcript.Valid {
		v := transcript.String
		s.FullTranscript = &v
	}
	return s, nil
}

func (r *PostgresRepo) CreateSession(ctx context.Context, s Session) error {
	const q = `
INSERT INTO call_sessions (
  call_id, room_name, call_reference, contact_id, facilitator_name, facilitator_phone,
  start_time, status, notes, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10
)
ON CONFLICT (call_id) DO NOTHING
`
	var contactID sql.NullInt64
	if s.ContactID > 0 {
		contactID = sql.NullInt64{Int64: s.ContactID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q,
		s.CallID,
		s.RoomName,
		s.CallReference,
		contactID,
		s.FacilitatorName,
		s.FacilitatorPhone,
		s.StartTime,
		s.Status,
		s.Notes,
		s.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) GetSession(ctx context.Context, callID string) (Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_id = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, callID))
}

func (r *PostgresRepo) BindCallReference(ctx context.Context, callID, ref string, now time.Time) error {
	const q = `UPDATE call_sessions SET call_reference = $2, updated_at = $3 WHERE call_id = $1`
	return expectOne(r.db.ExecContext(ctx, q, callID, ref, now))
}

func (r *PostgresRepo) MarkConnected(ctx context.Context, callID, participantID string, now time.Time) error {
	const q = `
UPDATE call_sessions
SET participant_id = $2,
    status = CASE WHEN status = 'initiated' THEN 'connected' ELSE status END,
    updated_at = $3
WHERE call_id = $1
`
	return expectOne(r.db.ExecContext(ctx, q, callID, participantID, now))
}

func (r *PostgresRepo) CompleteSession(ctx context.Context, callID string, c Completion) error {
	const q = `
UPDATE call_sessions
SET status = 'completed', end_time = $2, duration_seconds = $3, full_transcript = $4, updated_at = $2
WHERE call_id = $1 AND status IN ('initiated', 'connected')
`
	return r.finalize(ctx, callID, q, callID, c.EndTime, c.DurationSeconds, c.Transcript)
}

func (r *PostgresRepo) FailSession(ctx context.Context, callID string, end time.Time, note string) error {
	const q = `
UPDATE call_sessions
SET status = 'failed',
    end_time = $2,
    notes = CASE WHEN notes = '' THEN $3 ELSE notes || E'\n' || $3 END,
    updated_at = $2
WHERE call_id = $1 AND status IN ('initiated', 'connected')
`
	return r.finalize(ctx, callID, q, callID, end, note)
}

func (r *PostgresRepo) finalize(ctx context.Context, callID, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetSession(ctx, callID); err != nil {
		return err
	}
	return ErrSessionClosed
}

func (r *PostgresRepo) InsertTurn(ctx context.Context, t Turn) error {
	const q = `
INSERT INTO conversation_turns (call_id, seq, role, text, timestamp, confidence, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (call_id, seq) DO NOTHING
`
	var conf sql.NullFloat64
	if t.Confidence != nil {
		conf = sql.NullFloat64{Float64: *t.Confidence, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q, t.CallID, t.Seq, t.Role, t.Text, t.Timestamp, conf, t.CreatedAt)
	if utils.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (r *PostgresRepo) ListTurns(ctx context.Context, callID string) ([]Turn, error) {
	const q = `
SELECT call_id, seq, role, text, timestamp, confidence, created_at
FROM conversation_turns
WHERE call_id = $1
ORDER BY timestamp ASC, seq ASC
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Turn, 0)
	for rows.Next() {
		var t Turn
		var conf sql.NullFloat64
		if err := rows.Scan(&t.CallID, &t.Seq, &t.Role, &t.Text, &t.Timestamp, &conf, &t.CreatedAt); err != nil {
			return nil, err
		}
		if conf.Valid {
			v := conf.Float64
			t.Confidence = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) SetRecordingURL(ctx context.Context, ref, url string, now time.Time) error {
	const q = `UPDATE call_sessions SET recording_url = $2, updated_at = $3 WHERE call_reference = $1`
	return expectOne(r.db.ExecContext(ctx, q, ref, url, now))
}

func (r *PostgresRepo) AppendNoteByReference(ctx context.Context, ref, note string, now time.Time) error {
	const q = `
UPDATE call_sessions
SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
    updated_at = $3
WHERE call_reference = $1
`
	return expectOne(r.db.ExecContext(ctx, q, ref, note, now))
}

func (r *PostgresRepo) ListSessions(ctx context.Context, from, to time.Time) ([]Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE start_time >= $1 AND start_time < $2
ORDER BY start_time ASC
`
	rows, err := r.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
