package contacts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
type MemoryRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]Contact
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: map[int64]Contact{}}
}

func (r *MemoryRepo) NextCandidate(ctx context.Context, exclude []int64) (Contact, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	skip := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	candidates := make([]Contact, 0, len(r.rows))
	for _, c := range r.rows {
		if c.OnboardingCompleted || c.Status == StatusNotInterested || skip[c.ID] {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return Contact{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return lessCandidate(candidates[i], candidates[j]) })
	return candidates[0], true, nil
}

// lessCandidate mirrors ORDER BY attempt_count, last_attempted_at NULLS FIRST, id.
func lessCandidate(a, b Contact) bool {
	if a.AttemptCount != b.AttemptCount {
		return a.AttemptCount < b.AttemptCount
	}
	switch {
	case a.LastAttemptedAt == nil && b.LastAttemptedAt != nil:
		return true
	case a.LastAttemptedAt != nil && b.LastAttemptedAt == nil:
		return false
	case a.LastAttemptedAt != nil && b.LastAttemptedAt != nil && !a.LastAttemptedAt.Equal(*b.LastAttemptedAt):
		return a.LastAttemptedAt.Before(*b.LastAttemptedAt)
	}
	return a.ID < b.ID
}

func (r *MemoryRepo) Get(ctx context.Context, id int64) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Insert(ctx context.Context, c Contact) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.PhoneNumber == c.PhoneNumber {
			return Contact{}, ErrAlreadyExists
		}
	}
	r.nextID++
	c.ID = r.nextID
	c.UpdatedAt = c.CreatedAt
	r.rows[c.ID] = c
	return c, nil
}

// Put stores c as-is, for seeding fixtures with attempt history.
func (r *MemoryRepo) Put(c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == 0 {
		r.nextID++
		c.ID = r.nextID
	} else if c.ID > r.nextID {
		r.nextID = c.ID
	}
	r.rows[c.ID] = c
}

func (r *MemoryRepo) UpdateDetails(ctx context.Context, id int64, name, phone string, now time.Time) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	for otherID, existing := range r.rows {
		if otherID != id && existing.PhoneNumber == phone {
			return Contact{}, ErrAlreadyExists
		}
	}
	c.Name = name
	c.PhoneNumber = phone
	c.UpdatedAt = now
	r.rows[id] = c
	return c, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, id int64, t Transition) (Contact, Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[id]
	if !ok {
		return Contact{}, Contact{}, ErrNotFound
	}
	next, err := t.apply(cur)
	if err != nil {
		return Contact{}, Contact{}, err
	}
	r.rows[id] = next
	return cur, next, nil
}

func (r *MemoryRepo) Stats(ctx context.Context) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Stats
	for _, c := range r.rows {
		s.Total++
		if c.OnboardingCompleted {
			s.Completed++
		} else {
			s.Pending++
		}
		if c.Status == StatusFailed {
			s.Failed++
		}
	}
	return s, nil
}
