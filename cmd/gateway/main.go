// cmd/gateway/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/alerting"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/api"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/auth"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/config"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/engine"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/source"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/websocket"
)

func main() {
	flags := pflag.NewFlagSet("gateway", pflag.ExitOnError)
	config.RegisterFlags(flags)
	issueFor := flags.String("issue-token", "", "print a dashboard token for the named user and exit")
	tokenTTL := flags.Duration("token-ttl", 24*time.Hour, "validity of tokens printed by --issue-token")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if *issueFor != "" {
		token, err := auth.NewAuthManager(cfg.Server.Auth()).GenerateJWT(*issueFor, "viewer", *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway: exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := source.NewClient(cfg.Source.BaseURL, source.WithTimeout(cfg.Source.Timeout))
	if err != nil {
		return err
	}

	eng := engine.New(client, engine.Options{
		PollInterval:  cfg.Engine.PollInterval,
		MaxLivePoints: cfg.Engine.MaxLivePoints,
		Retention:     cfg.Engine.Retention,
		Scope:         cfg.Engine.Scope.Filter(),
		Logger:        logger,
	})
	defer eng.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(logger)
	go hub.Run(hubCtx)
	eng.OnUpdate(func(s engine.Snapshot) { hub.BroadcastSnapshot(s) })

	alerter := alerting.NewAlerter(client, eng, hub, alerting.Options{
		Interval: cfg.Alerts.Interval,
		History:  cfg.Alerts.History,
		Logger:   logger,
	})
	alerter.Start()
	defer alerter.Stop()

	handler := api.NewAPIHandler(eng, alerter, hub, auth.NewAuthManager(cfg.Server.Auth()), logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.SetupRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// An unreachable backend is not fatal; the list can be refreshed later.
	listCtx, cancelList := context.WithTimeout(ctx, cfg.Source.Timeout)
	if err := eng.RefreshSensors(listCtx); err != nil {
		logger.Warn("gateway: initial sensor listing failed", "error", err)
	}
	cancelList()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway: listening", "addr", server.Addr, "source", cfg.Source.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("gateway: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("gateway: stopped")
	return nil
}
