package contacts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"calling-agent/pkg/utils"
)

// Repository is the persistence contract for contacts.
//
// Contacts are never deleted, so no Delete method is provided.
type Repository interface {
	// NextCandidate skips ids in exclude, which must not be nil.
	NextCandidate(ctx context.Context, exclude []int64) (Contact, bool, error)
	Get(ctx context.Context, id int64) (Contact, error)
	Insert(ctx context.Context, c Contact) (Contact, error)
	UpdateDetails(ctx context.Context, id int64, name, phone string, now time.Time) (Contact, error)
	// Transition locks the row, validates t against the current status and writes the result.
	Transition(ctx context.Context, id int64, t Transition) (before, after Contact, err error)
	Stats(ctx context.Context) (Stats, error)
}

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const contactColumns = `id, name, phone_number, status, attempt_count, last_attempted_at, notes, onboarding_completed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	var last sql.NullTime
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.PhoneNumber,
		&c.Status,
		&c.AttemptCount,
		&last,
		&c.Notes,
		&c.OnboardingCompleted,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	if last.Valid {
		t := last.Time
		c.LastAttemptedAt = &t
	}
	return c, nil
}

func (r *PostgresRepo) NextCandidate(ctx context.Context, exclude []int64) (Contact, bool, error) {
	const q = `
SELECT ` + contactColumns + `
FROM contacts
WHERE onboarding_completed = FALSE
  AND status <> 'not_interested'
  AND NOT (id = ANY($1::bigint[]))
ORDER BY attempt_count ASC, last_attempted_at ASC NULLS FIRST, id ASC
LIMIT 1
`
	if exclude == nil {
		exclude = []int64{}
	}
	c, err := scanContact(r.db.QueryRowContext(ctx, q, exclude))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Contact{}, false, nil
		}
		return Contact{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id int64) (Contact, error) {
	const q = `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	return scanContact(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) Insert(ctx context.Context, c Contact) (Contact, error) {
	const q = `
INSERT INTO contacts (name, phone_number, status, attempt_count, notes, onboarding_completed, created_at, updated_at)
VALUES ($1,$2,$3,0,$4,FALSE,$5,$5)
RETURNING ` + contactColumns
	out, err := scanContact(r.db.QueryRowContext(ctx, q, c.Name, c.PhoneNumber, c.Status, c.Notes, c.CreatedAt))
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return Contact{}, ErrAlreadyExists
		}
		return Contact{}, err
	}
	return out, nil
}

func (r *PostgresRepo) UpdateDetails(ctx context.Context, id int64, name, phone string, now time.Time) (Contact, error) {
	const q = `
UPDATE contacts
SET name = $2, phone_number = $3, updated_at = $4
WHERE id = $1
RETURNING ` + contactColumns
	out, err := scanContact(r.db.QueryRowContext(ctx, q, id, name, phone, now))
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return Contact{}, ErrAlreadyExists
		}
		return Contact{}, err
	}
	return out, nil
}

func (r *PostgresRepo) Transition(ctx context.Context, id int64, t Transition) (Contact, Contact, error) {
	var before, after Contact
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the row so the validation and the write see the same status.
		const sel = `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1 FOR UPDATE`
		cur, err := scanContact(tx.QueryRowContext(ctx, sel, id))
		if err != nil {
			return err
		}
		next, err := t.apply(cur)
		if err != nil {
			return err
		}

		const upd = `
UPDATE contacts
SET status = $2,
    attempt_count = $3,
    last_attempted_at = $4,
    notes = $5,
    onboarding_completed = $6,
    updated_at = $7
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd,
			id,
			next.Status,
			next.AttemptCount,
			next.LastAttemptedAt,
			next.Notes,
			next.OnboardingCompleted,
			next.UpdatedAt,
		); err != nil {
			return err
		}
		before, after = cur, next
		return nil
	})
	if err != nil {
		return Contact{}, Contact{}, err
	}
	return before, after, nil
}

func (r *PostgresRepo) Stats(ctx context.Context) (Stats, error) {
	const q = `
SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE onboarding_completed = FALSE),
  COUNT(*) FILTER (WHERE onboarding_completed = TRUE),
  COUNT(*) FILTER (WHERE status = 'failed')
FROM contacts
`
	var s Stats
	if err := r.db.QueryRowContext(ctx, q).Scan(&s.Total, &s.Pending, &s.Completed, &s.Failed); err != nil {
		return Stats{}, err
	}
	return s, nil
}
