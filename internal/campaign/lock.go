package campaign

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"calling-agent/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const LockKey = "campaign:lock"

// ErrAlreadyRunning is returned when another process holds the campaign lock.
var ErrAlreadyRunning = errors.New("campaign: another run holds the lock")

// Locker keeps two campaign runs from dialing at the same time.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// RedisLock is a single-slot concurrency cap in Redis, refreshed while held.
type RedisLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
	log *slog.Logger
}

func NewRedisLock(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *RedisLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisLock{rdb: rdb, key: LockKey, ttl: ttl, log: log.With("component", "campaign_lock")}
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	ok, err := utils.AcquireConcurrencyCap(ctx, l.rdb, l.key, 1, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(l.ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				rctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
				held, err := utils.RefreshConcurrencyCap(rctx, l.rdb, l.key, l.ttl)
				cancel()
				if err != nil || !held {
					l.log.Warn("campaign lock refresh failed", "held", held, "err", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := utils.ReleaseConcurrencyCap(rctx, l.rdb, l.key); err != nil {
				l.log.Warn("campaign lock release failed", "err", err)
			}
		})
	}, nil
}

// NoLock is used when Redis is not configured.
type NoLock struct{}

func (NoLock) Acquire(ctx context.Context) (func(), error) { return func() {}, nil }
