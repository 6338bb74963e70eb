// Package app wires the gateway process together: config validation, the
// journal, the retention scheduler, the optional recorder session, and the
// HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"chatrelay/internal/retention"
	"chatrelay/pkg/client"
	"chatrelay/pkg/config"
	"chatrelay/pkg/envelope"
	"chatrelay/pkg/journal"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/proxy"
)

// App encapsulates the gateway components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	gw        *proxy.Gateway
	sess      *client.Session
	retCancel context.CancelFunc
	srv       *http.Server
}

// New validates the effective config and opens resources that need no
// running context (journal). Call Run to start the schedulers and the HTTP
// server.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	if eff.Config.Journal.Enabled {
		if err := journal.Open(eff.Journal); err != nil {
			return nil, fmt.Errorf("failed to open journal at %s: %w", eff.Journal, err)
		}
	}

	gw := proxy.New(eff.BackendURL, eff.Config.ProxyTimeout(), nil)
	return &App{eff: eff, version: version, commit: commit, buildDate: buildDate, gw: gw}, nil
}

// Run starts the retention scheduler, the optional recorder session, and the
// HTTP server, then blocks until ctx is cancelled or a fatal server error
// occurs.
func (a *App) Run(ctx context.Context) error {
	if a.eff.Config.Journal.Enabled {
		cancel, err := retention.Start(ctx, a.eff.Config.Journal.Retention)
		if err != nil {
			return err
		}
		a.retCancel = cancel
	}

	if err := a.startRecorder(ctx); err != nil {
		return err
	}

	logger.Info("gateway_starting",
		"addr", a.eff.Addr, "backend", a.eff.BackendURL,
		"journal", a.eff.Config.Journal.Enabled, "source", a.eff.Source,
		"version", a.version)

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// startRecorder opens a delivery session bound to the operator token when
// one is configured. The recorder journals everything the backend pushes,
// giving ops a server-side audit of the notification stream.
func (a *App) startRecorder(ctx context.Context) error {
	token := os.Getenv("CHATRELAY_TOKEN")
	if token == "" {
		return nil
	}
	sess, err := client.Open(ctx, client.Options{
		BaseURL: a.eff.BackendURL,
		Token:   token,
		Sink:    envelope.NopSink{},
		Journal: a.eff.Config.Journal.Enabled,
		Config:  a.eff.Config,
	})
	if err != nil {
		return fmt.Errorf("failed to open recorder session: %w", err)
	}
	a.sess = sess
	logger.Info("recorder_session_opened", "identity", sess.Identity())
	return nil
}

func (a *App) shutdown() {
	if a.sess != nil {
		_ = a.sess.Close()
	}
	if a.retCancel != nil {
		a.retCancel()
	}
	if a.eff.Config.Journal.Enabled {
		_ = journal.Close()
	}
}
