package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/api"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// shutdownGrace bounds how long the HTTP server is given to unwind
// once a shutdown signal arrives. The engine's Stop that follows is
// bounded separately, by the engine package's own shutdownTimeout.
const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the live trading engine and its HTTP/WS surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	c, err := buildComponents()
	if err != nil {
		return err
	}
	defer c.Close()

	log := logrus.WithField("component", "main")

	if err := c.eng.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	log.Infof("engine initialized, status=%s", c.eng.Status())

	server := api.New(c.eng, c.risk, c.db, c.bus)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.cfg.DashboardPort),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrs := make(chan error, 1)
	go func() {
		log.Infof("http/ws surface listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	case err := <-serverErrs:
		log.Errorf("http server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http server shutdown: %v", err)
	}
	if err := c.eng.Stop(); err != nil {
		log.Warnf("engine stop: %v", err)
	}
	return nil
}
