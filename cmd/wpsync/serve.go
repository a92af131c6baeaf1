package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/wpsync/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindLocalFlags(cmd, map[string]string{
				"server.address":        "address",
				"server.signing_secret": "signing-secret",
			}); err != nil {
				return err
			}
			return runServer(cmd.Context())
		},
	}
	cmd.Flags().String("address", "", "HTTP listen address (defaults to server.address)")
	cmd.Flags().String("signing-secret", "", "Operator token signing secret (overrides env)")
	return cmd
}

func runServer(ctx context.Context) error {
	app, err := openApplication()
	if err != nil {
		return err
	}
	defer app.Close()

	tokenManager, err := newTokenIssuer(app.config)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Ledger:       app.ledger,
		TokenManager: tokenManager,
		Logger:       app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.ServerAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("status api starting", zap.String("address", app.config.ServerAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
