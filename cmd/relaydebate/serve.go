package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/relaydebate/internal/config"
	"github.com/agentworkforce/relaydebate/internal/debate"
	"github.com/agentworkforce/relaydebate/internal/fanout"
	"github.com/agentworkforce/relaydebate/internal/httpapi"
	"github.com/agentworkforce/relaydebate/internal/logging"
	"github.com/agentworkforce/relaydebate/internal/observability"
)

const shutdownGrace = 5 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the debate HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := observability.InitTracing(ctx, log, observability.TracingConfig{
				ServiceName:  "relaydebate",
				Version:      version,
				Stdout:       cfg.Tracing.Stdout,
				OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
				OTLPInsecure: cfg.Tracing.OTLPInsecure,
				SampleRatio:  cfg.Tracing.SampleRatio,
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				if err := shutdownTracing(flushCtx); err != nil {
					log.Warn("tracing shutdown failed", "error", err)
				}
			}()

			app, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.close()

			listener, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
			}
			return app.run(ctx, listener)
		},
	}
	cmd.Flags().String("addr", "", "listen address (host:port)")
	cmd.Flags().String("auth-token", "", "static bearer token required on every request")
	cmd.Flags().Bool("watch", true, "watch the SQLite file for writes by other processes")
	cmd.Flags().String("redis-addr", "", "redis address for the cross-process relay")
	_ = opts.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = opts.v.BindPFlag("server.auth_token", cmd.Flags().Lookup("auth-token"))
	_ = opts.v.BindPFlag("watch.enabled", cmd.Flags().Lookup("watch"))
	_ = opts.v.BindPFlag("relay.redis_addr", cmd.Flags().Lookup("redis-addr"))
	return cmd
}

// app is one running server process: the store, the service over it, the
// push hub, and the optional external-write watcher and relay.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	store   debate.Store
	service *debate.Service
	hub     *debate.Hub
	server  *httpapi.Server
	watcher *fanout.Watcher
	relay   *fanout.Relay
}

func buildApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (*app, error) {
	store, err := debate.BuildStoreFromDSN(ctx, cfg.Store.DSN, debate.StoreOptions{SQLiteBusyTimeout: cfg.Store.BusyTimeout})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	service := newService(cfg, store, log)
	hub := debate.NewHub(service, log, cfg.Hub.OutboundBuffer)
	server, err := httpapi.NewServer(service, hub, httpapi.ServerConfig{
		AuthToken:       cfg.Server.AuthToken,
		JWTSecret:       cfg.Server.JWTSecret,
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: cfg.Server.RateLimitWindow,
		MaxBodyBytes:    int64(cfg.Debate.MaxContentLength)*utf8.UTFMax + cfg.Server.MaxBodySlack,
		Logger:          log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a := &app{cfg: cfg, log: log, store: store, service: service, hub: hub, server: server}

	if cfg.Watch.Enabled {
		if path := debate.SQLitePathFromDSN(cfg.Store.DSN); path != "" {
			a.watcher = fanout.NewWatcher(path, service, a.followedDebates, log)
		}
	}
	if addr := strings.TrimSpace(cfg.Relay.RedisAddr); addr != "" {
		relay, err := fanout.NewRelay(ctx, addr, cfg.Relay.RedisChannel, service, log)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("start relay: %w", err)
		}
		service.SetPublisher(relay)
		a.relay = relay
	}
	return a, nil
}

// followedDebates lists debates with a long-poll waiter or a push subscriber
// in this process.
func (a *app) followedDebates() []string {
	seen := map[string]bool{}
	var ids []string
	for _, id := range append(a.service.Coordinator().WaitingDebateIDs(), a.hub.SubscribedDebateIDs()...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// run serves on listener until ctx ends or a component fails, then shuts
// the HTTP server down gracefully.
func (a *app) run(ctx context.Context, listener net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	httpServer := &http.Server{
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.Server.HTTPTimeout,
		WriteTimeout:      a.cfg.Server.HTTPTimeout,
		IdleTimeout:       2 * a.cfg.Server.HTTPTimeout,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		a.log.Info("relaydebate listening", "addr", listener.Addr().String(), "backend", a.store.Backend())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("graceful shutdown timed out; closing connections", "error", err)
			return httpServer.Close()
		}
		a.log.Info("relaydebate stopped")
		return nil
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}
	return g.Wait()
}

func (a *app) close() {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Warn("relay close failed", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", "error", err)
	}
}
