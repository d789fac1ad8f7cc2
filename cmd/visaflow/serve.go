package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbxark/visaflow/httpapi"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Session.TTL > 0 {
		go a.store.Run(ctx, a.cfg.Session.SweepInterval)
	}

	api := httpapi.NewServer(a.router,
		httpapi.WithLogger(a.logger),
		httpapi.WithMaxUpload(a.cfg.Server.MaxUpload),
	)
	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      api.Echo(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  2 * a.cfg.Server.ReadTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err = <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown error", "error", err)
		return server.Close()
	}
	a.logger.Info("Server stopped gracefully")
	return nil
}
