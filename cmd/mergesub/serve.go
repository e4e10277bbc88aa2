package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/mergesub/internal/config"
	"github.com/John-Robertt/mergesub/internal/httpapi"
	"github.com/John-Robertt/mergesub/internal/store"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, c.logger)
		},
	}
}

// backend is what both store implementations provide.
type backend interface {
	store.Store
	store.TokenStore
}

// openBackend returns SQLite when a path is configured, memory otherwise.
func openBackend(cfg config.Config) (backend, func() error, error) {
	if cfg.DBPath == "" {
		return store.NewMemory(store.Data{}), func() error { return nil }, nil
	}
	s, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, closeStore, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	token, err := store.ResolveToken(ctx, cfg.SubToken, st)
	if err != nil {
		logger.Warn("token store unavailable, using default token", zap.Error(err))
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: httpapi.NewHandler(httpapi.Options{
			Config: cfg,
			Store:  st,
			Token:  token,
			Logger: logger,
		}),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("listening",
		zap.String("addr", "http://"+cfg.Listen),
		zap.Bool("auth", cfg.AuthEnabled()),
		zap.Bool("persistent", cfg.DBPath != ""),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = srv.Close()
		}

		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
