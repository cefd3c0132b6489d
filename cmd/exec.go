package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"helpdesk/handlers"
	"helpdesk/security"
	"helpdesk/services"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.ListenAddr = addr
			}
			return a.Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides listen_addr)")
	return cmd
}

// Start serves the console until ctx ends or the process is signalled.
func (a *app) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Setup graceful shutdown
	go a.handleShutdown(ctx, cancel)

	// Watch first so the restored token triggers the initial ticket fetch
	stopWatch := a.tickets.Watch(ctx)
	defer stopWatch()

	go func() {
		if err := a.session.Restore(ctx); err != nil {
			a.log.Warn("persisted session not restored", "error", err)
		}
	}()

	if a.cfg.PubNub.SubscribeKey != "" {
		feed := services.NewLiveFeed(services.LiveFeedConfig{
			SubscribeKey: a.cfg.PubNub.SubscribeKey,
			UserID:       a.cfg.PubNub.UserID,
			Channel:      a.cfg.PubNub.Channel,
		}, a.tickets, a.log)
		go func() {
			if err := feed.Run(ctx); err != nil {
				a.log.Error("live feed stopped", "error", err)
			}
		}()
	}

	limiter := security.NewRateLimiter(a.redis, a.cfg.Redis.KeyPrefix, a.cfg.LoginAttemptsPerMinute, time.Minute)
	hosts := security.HostsFor(a.cfg.ListenAddr)
	if hosts == nil {
		a.log.Warn("listening on every interface; Host header is not checked", "addr", a.cfg.ListenAddr)
	}
	console := handlers.NewConsole(a.session, a.tickets, a.audit, a.log)
	router := handlers.NewRouter(console, security.NewGuard(a.session), handlers.RouterOptions{
		Limiter:       limiter,
		EnableMetrics: a.cfg.EnableMetrics,
		Redis:         a.redis,
		AllowedHosts:  hosts,
	})

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("console listening", "addr", a.cfg.ListenAddr, "api", a.cfg.API.BaseURL, "environment", a.cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer stop()
	a.log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// handleShutdown cancels on SIGINT or SIGTERM.
func (a *app) handleShutdown(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		a.log.Info("shutdown signal received")
		cancel()
	case <-ctx.Done():
	}
}
