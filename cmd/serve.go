package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/panel-quote/internal/knowledge"
)

var (
	servePort   int
	serveNoSave bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quotation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		kb, err := initKnowledge(ctx)
		if err != nil {
			return err
		}
		orch, err := newOrchestrator(kb)
		if err != nil {
			return err
		}

		a := &api{kb: kb, orch: orch}
		if !serveNoSave {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			a.quotes = st
		}

		if spec := cfg.Knowledge.RefreshCron; spec != "" {
			c, err := scheduleRefresh(ctx, kb, spec)
			if err != nil {
				return err
			}
			c.Start()
			defer c.Stop()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: buildRouter(a, routerOptions{
				CORSOrigins: cfg.Server.CORSOrigins,
				RateLimit:   cfg.Server.RateLimit,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("snapshot_version", kb.Snapshot().Version()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// scheduleRefresh registers a knowledge refresh on the given six-field
// cron spec. A refresh still running when the next one is due is skipped.
func scheduleRefresh(ctx context.Context, kb *knowledge.Store, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds(), cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	_, err := c.AddFunc(spec, func() {
		// Refresh logs its own outcome.
		_, _ = kb.Refresh(ctx)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "schedule knowledge refresh %q", spec)
	}
	zap.L().Info("scheduled knowledge refresh", zap.String("cron_expr", spec))
	return c, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoSave, "no-save", false, "do not persist issued quotations")
	rootCmd.AddCommand(serveCmd)
}
