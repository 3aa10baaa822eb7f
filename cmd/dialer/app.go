package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"calling-agent/internal/audit"
	"calling-agent/internal/calls"
	"calling-agent/internal/config"
	"calling-agent/internal/contacts"
	"calling-agent/internal/stream"
	"calling-agent/internal/telephony"
	"calling-agent/internal/transcript"
	"calling-agent/pkg/logger"
	"calling-agent/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// archiveTTL is how long the archived conversation document stays readable in Redis.
const archiveTTL = 7 * 24 * time.Hour

// app holds the explicit resource handles. Built once per command, closed on exit.
type app struct {
	cfg config.Config
	log *slog.Logger

	db  *sql.DB
	rdb *redis.Client

	audit     *audit.Service
	contacts  *contacts.Service
	sessions  *calls.PostgresRepo
	publisher *stream.Publisher
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db}
	a.audit = audit.NewService(audit.NewPostgresRepo(db))
	a.contacts = contacts.NewService(contacts.NewPostgresRepo(db), a.audit, log)
	a.sessions = calls.NewPostgresRepo(db)
	return a, nil
}

// openRedis connects the ephemeral tier. Failure is not fatal: the pipeline runs without
// the live stream and the campaign lock.
func (a *app) openRedis(ctx context.Context) {
	if !a.cfg.RedisEnabled() {
		a.log.Warn("redis not configured; live stream and campaign lock disabled")
		return
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
		Addr:     a.cfg.RedisAddr(),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		a.log.Warn("redis unavailable; continuing without live stream", "err", err)
		return
	}
	a.rdb = rdb
	a.publisher = stream.NewPublisher(rdb, a.cfg.Transcript.StreamMaxLen, archiveTTL)
}

func (a *app) newHub() *transcript.Hub {
	opts := transcript.Options{
		AgentIdentityPrefix: a.cfg.Transcript.AgentIdentityPrefix,
		QueueSize:           a.cfg.Transcript.QueueSize,
		DurableWorkers:      a.cfg.Transcript.Workers,
		Logger:              a.log,
	}
	if a.publisher != nil {
		opts.Stream = a.publisher
	}
	if a.cfg.Transcript.NotifyURL != "" {
		opts.Notifier = transcript.NewHTTPNotifier(a.cfg.Transcript.NotifyURL, 5*time.Second)
	}
	return transcript.NewHub(a.sessions, opts)
}

func (a *app) newGateway() (telephony.Gateway, error) {
	return telephony.NewGateway(a.cfg, a.log)
}

func (a *app) close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
