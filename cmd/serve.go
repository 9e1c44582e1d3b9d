package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/api"
	"github.com/JakeFAU/wikindex/internal/policy/ratelimit"
)

const shutdownTimeout = 15 * time.Second

// newServeCmd creates the 'serve' subcommand, which exposes the pipeline
// over HTTP until interrupted.
func newServeCmd() *cobra.Command {
	var requestTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the indexing API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			lis, err := net.Listen("tcp", ":"+strconv.Itoa(appInstance.Config().Server.Port))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			return serve(ctx, lis, appInstance, requestTimeout)
		},
	}
	cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 0, "abort API requests that run longer than this (0 disables)")
	return cmd
}

// serve runs the API on lis until ctx is cancelled, then drains in-flight
// requests.
func serve(ctx context.Context, lis net.Listener, appInstance App, requestTimeout time.Duration) error {
	logger := appInstance.Logger()
	opts := []api.Option{api.WithMaxLimit(appInstance.Config().Server.MaxLimit)}
	if requestTimeout > 0 {
		opts = append(opts, api.WithRequestTimeout(requestTimeout))
	}
	if rl := appInstance.Config().Server.RateLimit; rl.Enabled() {
		opts = append(opts, api.WithThrottle(ratelimit.New(rl)))
	}
	if runs := appInstance.Runs(); runs != nil {
		opts = append(opts, api.WithRuns(runs))
	}
	apiServer := api.NewServer(appInstance.Runner(), logger, opts...)

	httpServer := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", lis.Addr().String()))
		if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
