package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coinbase/solanapay/http"
	"github.com/coinbase/solanapay/pkg/config"
	"github.com/coinbase/solanapay/pkg/logger"
	"github.com/coinbase/solanapay/pkg/sessionstore"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfgFile *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the transaction reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			if addr != "" {
				a.cfg.App.HTTPAddr = addr
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides app.http_addr")
	return cmd
}

func serve(parent context.Context, a *app) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.App.Env == logger.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	store := sessionstore.NewInMemoryStore(sessionstore.WithTTL(a.cfg.Polling.SessionTTL))
	defer store.Close()
	a.metrics.WatchSessions(store.Len)

	reconciler, err := a.newReconciler()
	if err != nil {
		return err
	}

	server := http.NewServer(a.merchant, store, a.sessionFactory(store),
		http.WithTransferSource(reconciler),
		http.WithMetrics(a.metrics),
		http.WithLogger(a.logger.Named("http")),
		http.WithDecimals(a.decimals(ctx)),
	)
	httpServer := &nethttp.Server{
		Addr:              a.cfg.App.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reconciler.Start(gctx)
		<-gctx.Done()
		reconciler.Stop()
		return nil
	})

	g.Go(func() error {
		a.logger.Info("http server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("recipient", a.merchant.Recipient.String()),
			zap.Bool("tokenMode", a.merchant.IsTokenMode()),
			zap.String("eventsDriver", eventsDriver(a.cfg)))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.logger.Info("shut down")
	return err
}

func eventsDriver(cfg *config.Config) string {
	if cfg.Events.Driver == "" {
		return config.EventsDriverLog
	}
	return cfg.Events.Driver
}
