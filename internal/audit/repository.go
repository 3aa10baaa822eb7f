package audit

import (
	"context"
	"database/sql"
	"time"
)

// PostgresRepo writes to contact_events. INSERT only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO contact_events (id, contact_id, call_id, from_status, to_status, source, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.ContactID,
		e.CallID,
		e.FromStatus,
		e.ToStatus,
		e.Source,
		e.Note,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListByContact(ctx context.Context, contactID int64) ([]Event, error) {
	const q = `
SELECT id, contact_id, call_id, from_status, to_status, source, note, created_at
FROM contact_events
WHERE contact_id = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := r.db.QueryContext(ctx, q, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ContactID, &e.CallID, &e.FromStatus, &e.ToStatus, &e.Source, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountTransitions(ctx context.Context, toStatus string, from, to time.Time) (int, error) {
	const q = `
SELECT COUNT(*)
FROM contact_events
WHERE to_status = $1 AND from_status <> $1 AND created_at >= $2 AND created_at < $3
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, toStatus, from, to).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
