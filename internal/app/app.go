package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamvault/playback-license-service/internal/config"
	"github.com/streamvault/playback-license-service/internal/observability"
	"github.com/streamvault/playback-license-service/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Sweeper       *service.HeartbeatSweeper
	Observability *observability.Runtime
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, sweeper *service.HeartbeatSweeper, runtime *observability.Runtime) *App {
	return &App{Config: cfg, Logger: logger, Server: server, Sweeper: sweeper, Observability: runtime}
}

// Run serves HTTP and the heartbeat sweeper until the context is cancelled,
// then shuts both down gracefully.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.Sweeper.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if oerr := a.Observability.Shutdown(shutdownCtx); oerr != nil {
		a.Logger.Error("observability shutdown failed", "error", oerr)
	}
	return err
}
