package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sdubid/chessbit/internal/app"
	appcfg "github.com/sdubid/chessbit/internal/config"
	"github.com/sdubid/chessbit/internal/obslog"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		obslog.L().Fatal("app_init_error", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// websocket handlers outlive Shutdown; the signal context ends them
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		obslog.L().Info("server_shutdown", zap.String("reason", "signal"))
	case err := <-errCh:
		if err != nil {
			obslog.L().Error("server_error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obslog.L().Warn("server_shutdown_error", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		obslog.L().Warn("app_close_error", zap.Error(err))
	}
	obslog.L().Info("server_stopped")
}
