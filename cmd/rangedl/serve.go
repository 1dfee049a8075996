package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/datallboy/rangedl/internal/api"
	"github.com/datallboy/rangedl/internal/engine"
	"github.com/datallboy/rangedl/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download scheduler and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

func runServe(ctx context.Context, root *rootOptions) error {
	appCtx, err := root.bootstrap()
	if err != nil {
		return err
	}
	defer appCtx.Close()

	// Setup Signal Handling for Graceful Shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, appCtx.Config.Store)
	if err != nil {
		return err
	}
	appCtx.Store = st

	if err := os.MkdirAll(appCtx.Config.Download.OutDir, 0755); err != nil {
		return err
	}

	mgr := engine.NewManager(ctx, appCtx, true)

	e := echo.New()
	api.RegisterRoutes(e, appCtx, mgr)

	srv := &http.Server{
		Addr:              ":" + appCtx.Config.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mgr.Start(gctx)
	})

	g.Go(func() error {
		appCtx.Logger.Info("API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appCtx.Logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
