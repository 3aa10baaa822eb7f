package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"calling-agent/internal/auth"
	"calling-agent/internal/campaign"
	"calling-agent/internal/config"
	"calling-agent/internal/telephony"
	"calling-agent/internal/transcript"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 20 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook and runtime API without dialing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			a.openRedis(ctx)

			gw, err := a.newGateway()
			if err != nil {
				return err
			}
			hub := a.newHub()
			srv := newHTTPServer(a, hub, gw)

			err = serveHTTP(ctx, srv, a.log)
			closeHub(a, hub)
			return err
		},
	}
}

// requireRuntimeAPI fails when /v1 would not be registered. Without it the
// conversation runtime cannot report events, so no dialled call could be archived.
func requireRuntimeAPI(cfg config.Config) error {
	if _, err := auth.NewManager(cfg.Auth); err != nil {
		return fmt.Errorf("campaign requires the runtime API, set JWT_SECRET: %w", err)
	}
	return nil
}

// runCampaign serves HTTP and runs one scheduler session side by side.
// The server stops when the session ends.
func runCampaign(ctx context.Context, cmd *cobra.Command) error {
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := requireRuntimeAPI(a.cfg); err != nil {
		a.log.Error("campaign not started", "err", err)
		return err
	}
	a.openRedis(ctx)

	gw, err := a.newGateway()
	if err != nil {
		return err
	}
	hub := a.newHub()
	srv := newHTTPServer(a, hub, gw)

	var lock campaign.Locker = campaign.NoLock{}
	if a.rdb != nil {
		lock = campaign.NewRedisLock(a.rdb, time.Minute, a.log)
	}
	sched := campaign.NewScheduler(a.contacts, gw, hub, lock, campaign.Settings{
		MaxCallsPerSession: a.cfg.Campaign.MaxCallsPerSession,
		CallInterval:       a.cfg.Campaign.CallInterval,
		SessionTimeout:     a.cfg.Campaign.SessionTimeout,
	}, a.log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return serveHTTP(gctx, srv, a.log) })

	var res campaign.Result
	g.Go(func() error {
		defer cancel()
		var err error
		res, err = sched.Run(gctx)
		return err
	})

	err = g.Wait()
	closeHub(a, hub)
	if err != nil {
		return err
	}

	jsonOut, _ := cmd.Flags().GetBool("json")
	return printResult(res, jsonOut)
}

func newHTTPServer(a *app, hub *transcript.Hub, gw telephony.Gateway) *http.Server {
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	registerRoutes(r, a, hub, gw)

	return &http.Server{
		Addr:              a.cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serveHTTP blocks until ctx ends or the listener fails, then shuts the server down.
func serveHTTP(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// closeHub archives rooms still open and drains the persistence queues.
func closeHub(a *app, hub *transcript.Hub) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hub.Close(ctx); err != nil {
		a.log.Error("transcript pipeline did not drain", "err", err)
	}
}

func printResult(res campaign.Result, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(res)
	}
	fmt.Printf("Campaign finished: %d attempted, %d successful, %d failed\n",
		res.TotalAttempted, res.Successful, res.Failed)
	fmt.Printf("Contacts: %d total, %d pending, %d completed, %d failed\n",
		res.Stats.Total, res.Stats.Pending, res.Stats.Completed, res.Stats.Failed)
	return nil
}
