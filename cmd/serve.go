package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/monitoring"
	"github.com/sells-group/factcheck-cli/internal/pipeline"
	"github.com/sells-group/factcheck-cli/internal/queue"
)

var servePort int

// dlqReplayBatch bounds how many dead letters one replay tick re-runs.
const dlqReplayBatch = 50

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, queue workers and scheduled sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve", true)
		if err != nil {
			return err
		}
		defer env.Close()

		env.Queue.Start(ctx)

		checker := monitoring.NewChecker(monitoring.NewCollector(env.Store), monitoring.NewAlerter(cfg.Monitoring))
		sched, err := newScheduler(env.Pipeline, env.Queue, checker)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newAPI(env).routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newScheduler registers the reconciliation sweep, DLQ replay and alert
// check on their configured cron schedules. An empty schedule disables the
// job.
func newScheduler(p *pipeline.Pipeline, q *queue.Queue, checker *monitoring.Checker) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	jobs := []struct {
		name     string
		schedule string
		run      func(ctx context.Context)
	}{
		{"reconcile", cfg.Reconcile.Schedule, func(ctx context.Context) {
			res, err := p.Reconcile(ctx)
			if err != nil {
				zap.L().Error("reconcile: sweep failed", zap.Error(err))
				return
			}
			zap.L().Info("reconcile: sweep complete",
				zap.Int("checked", res.Checked),
				zap.Int("updated", res.Updated),
				zap.Int("errors", len(res.Errors)),
			)
		}},
		{"dlq_replay", cfg.DLQ.Schedule, func(ctx context.Context) {
			n, err := q.ReplayDLQ(ctx, dlqReplayBatch)
			if err != nil {
				zap.L().Error("queue: dlq replay failed", zap.Error(err))
				return
			}
			if n > 0 {
				zap.L().Info("queue: dlq replayed", zap.Int("tasks", n))
			}
		}},
		{"alerts", cfg.Monitoring.Schedule, func(ctx context.Context) {
			checker.Check(ctx)
		}},
	}

	for _, j := range jobs {
		if j.schedule == "" {
			zap.L().Info("scheduled job disabled", zap.String("job", j.name))
			continue
		}
		run := j.run
		if _, err := c.AddFunc(j.schedule, func() { run(context.Background()) }); err != nil {
			return nil, eris.Wrapf(err, "schedule %s %q", j.name, j.schedule)
		}
		zap.L().Info("scheduled job", zap.String("job", j.name), zap.String("schedule", j.schedule))
	}
	return c, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
