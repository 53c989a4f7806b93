package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/txlens/txlens/pkg/server"
)

type ServeCmd struct{}

func NewServeCmd() *ServeCmd {
	return &ServeCmd{}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question and report API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return fmt.Errorf("failed to get addr flag: %w", err)
			}
			origins, err := cmd.Flags().GetStringSlice("cors-origin")
			if err != nil {
				return fmt.Errorf("failed to get cors-origin flag: %w", err)
			}
			shutdownTimeout, err := cmd.Flags().GetDuration("shutdown-timeout")
			if err != nil {
				return fmt.Errorf("failed to get shutdown-timeout flag: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}

			srv, err := server.New(&server.Config{
				Logger:         a.log,
				Pipeline:       a.pipeline,
				Reports:        a.reports,
				Catalogs:       a.catalogs,
				Workers:        a.cfg.Workers,
				AllowedOrigins: origins,
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			defer srv.Close()

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.log.Info("server: listening", "address", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			a.log.Info("server: shutting down", "timeout", shutdownTimeout)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			a.log.Info("server: stopped")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "address to listen on (defaults to TXLENS_HTTP_ADDR)")
	cmd.Flags().StringSlice("cors-origin", nil, "allowed CORS origins")
	cmd.Flags().Duration("shutdown-timeout", 30*time.Second, "time to wait for in-flight requests on shutdown")
	return cmd
}
