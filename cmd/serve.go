package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/drillsim/internal/attempt"
	"github.com/abhisek/drillsim/internal/server"
	"github.com/abhisek/drillsim/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the attempt API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if l, _ := cmd.Flags().GetString("listen"); l != "" {
			cfg.Server.Listen = l
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cat, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		svc := attempt.NewService(cat, store.WithRetry(st, cfg.StoreRetry()), attempt.WithLogger(logger))
		api := server.New(svc, cat, st,
			server.WithLogger(logger),
			server.WithAllowedOrigins(cfg.Server.AllowedOrigins))

		httpSrv := &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("Listening", zap.String("addr", httpSrv.Addr), zap.Int("scenarios", cat.Len()))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			sweep(gctx, svc, cfg.GetTickInterval())
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

// sweep times out expired attempts until ctx is done.
func sweep(ctx context.Context, svc *attempt.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done, err := svc.Tick(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("Timeout sweep failed", zap.Error(err))
			}
			for _, r := range done {
				logger.Info("Attempt timed out",
					zap.String("attempt", r.Attempt.ID),
					zap.String("user", r.Attempt.UserID),
					zap.Int("score", r.Attempt.Score))
			}
		}
	}
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (overrides config and DRILLSIM_LISTEN)")
}
