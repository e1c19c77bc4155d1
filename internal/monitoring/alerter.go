package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFactCheckFailureRate  AlertType = "fact_check_failure_rate"
	AlertSubmissionFailureRate AlertType = "submission_failure_rate"
	AlertDLQBacklog            AlertType = "dlq_backlog"
)

// minFinished is the sample size below which failure rates are not alerted on.
const minFinished = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns an alert for every threshold the snapshot breaches. A
// zero threshold disables its check.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	raise := func(typ AlertType, severity string, details map[string]any, format string, args ...any) {
		alerts = append(alerts, Alert{
			Type:      typ,
			Severity:  severity,
			Message:   fmt.Sprintf(format, args...),
			Details:   details,
			Timestamp: time.Now().UTC(),
		})
	}

	limit := a.cfg.FailureRateThreshold
	if limit > 0 {
		if snap.FactChecksFinished >= minFinished && snap.FactCheckFailRate > limit {
			raise(AlertFactCheckFailureRate, "high",
				map[string]any{"failure_rate": snap.FactCheckFailRate, "threshold": limit, "finished": snap.FactChecksFinished},
				"Fact-check failure rate %.1f%% exceeds threshold %.1f%% (%d finished)",
				snap.FactCheckFailRate*100, limit*100, snap.FactChecksFinished)
		}
		if snap.SubmissionFailRate > limit {
			raise(AlertSubmissionFailureRate, "medium",
				map[string]any{"failure_rate": snap.SubmissionFailRate, "threshold": limit},
				"Submission failure rate %.1f%% exceeds threshold %.1f%%",
				snap.SubmissionFailRate*100, limit*100)
		}
	}

	if depth := a.cfg.DLQDepthThreshold; depth > 0 && snap.DLQDepth > depth {
		raise(AlertDLQBacklog, "high",
			map[string]any{"dlq_depth": snap.DLQDepth, "threshold": depth},
			"%d tasks in the dead letter queue (threshold %d)", snap.DLQDepth, depth)
	}
	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
