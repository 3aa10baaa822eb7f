// Package stream publishes live conversation turns to a capped Redis stream
// and stores the end-of-call archive document next to it.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultMaxLen = 1000

// Record is one entry of the live conversation stream.
type Record struct {
	ID            string `json:"id,omitempty"`
	ParticipantID string `json:"participant_id"`
	RoomID        string `json:"room_id"`
	Role          string `json:"role"`
	Text          string `json:"text"`
	TimestampMS   int64  `json:"timestamp_ms"`
}

func StreamKey(room string) string  { return "convo:" + room }
func ArchiveKey(room string) string { return "convo:" + room + ":archive" }

var (
	ErrNoRoom    = errors.New("stream: room name is required")
	ErrNoArchive = errors.New("stream: no archive for room")
)

// Publisher writes to Redis. It holds no state besides the client handle.
type Publisher struct {
	rdb        *redis.Client
	maxLen     int64
	archiveTTL time.Duration
}

// NewPublisher returns a Publisher capping each room stream at maxLen entries (exact trim).
// archiveTTL of zero keeps archives until evicted by Redis policy.
func NewPublisher(rdb *redis.Client, maxLen int64, archiveTTL time.Duration) *Publisher {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Publisher{rdb: rdb, maxLen: maxLen, archiveTTL: archiveTTL}
}

// Append adds rec to the room stream and returns the entry id.
func (p *Publisher) Append(ctx context.Context, room string, rec Record) (string, error) {
	if room == "" {
		return "", ErrNoRoom
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(room),
		MaxLen: p.maxLen,
		Approx: false,
		Values: rec.values(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", StreamKey(room), err)
	}
	return id, nil
}

// WriteArchive stores the serialized conversation document for room.
func (p *Publisher) WriteArchive(ctx context.Context, room string, doc []byte) error {
	if room == "" {
		return ErrNoRoom
	}
	if err := p.rdb.Set(ctx, ArchiveKey(room), doc, p.archiveTTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", ArchiveKey(room), err)
	}
	return nil
}

// ReadArchive returns the archive document, or ErrNoArchive once it has expired.
func (p *Publisher) ReadArchive(ctx context.Context, room string) ([]byte, error) {
	if room == "" {
		return nil, ErrNoRoom
	}
	doc, err := p.rdb.Get(ctx, ArchiveKey(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoArchive
	}
	return doc, err
}

// Tail returns up to n of the most recent records, oldest first.
func (p *Publisher) Tail(ctx context.Context, room string, n int64) ([]Record, error) {
	if room == "" {
		return nil, ErrNoRoom
	}
	if n <= 0 || n > p.maxLen {
		n = p.maxLen
	}
	msgs, err := p.rdb.XRevRangeN(ctx, StreamKey(room), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", StreamKey(room), err)
	}
	out := make([]Record, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = recordFromValues(m.ID, m.Values)
	}
	return out, nil
}

func (r Record) values() map[string]any {
	return map[string]any{
		"participant_id": r.ParticipantID,
		"room_id":        r.RoomID,
		"role":           r.Role,
		"text":           r.Text,
		"timestamp_ms":   r.TimestampMS,
	}
}

func recordFromValues(id string, v map[string]any) Record {
	str := func(k string) string {
		if s, ok := v[k].(string); ok {
			return s
		}
		return ""
	}
	ts, _ := strconv.ParseInt(str("timestamp_ms"), 10, 64)
	return Record{
		ID:            id,
		ParticipantID: str("participant_id"),
		RoomID:        str("room_id"),
		Role:          str("role"),
		Text:          str("text"),
		TimestampMS:   ts,
	}
}
