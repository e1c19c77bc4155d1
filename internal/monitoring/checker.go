package monitoring

import (
	"context"

	"go.uber.org/zap"
)

// Checker collects a snapshot, evaluates it and delivers any alerts. It is
// run on the monitoring cron schedule by serve.
type Checker struct {
	collector *Collector
	alerter   *Alerter
}

// NewChecker creates an alert checker.
func NewChecker(collector *Collector, alerter *Alerter) *Checker {
	return &Checker{collector: collector, alerter: alerter}
}

// Check runs one evaluation and returns the number of alerts triggered.
func (c *Checker) Check(ctx context.Context) int {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect snapshot", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered",
			zap.Int("dlq_depth", snap.DLQDepth),
			zap.Float64("fact_check_fail_rate", snap.FactCheckFailRate),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return len(alerts)
}
