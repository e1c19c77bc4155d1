package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/factcheck-cli/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{FailureRateThreshold: 0.10, DLQDepthThreshold: 10}
}

func TestAlerter_Evaluate(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want []AlertType
	}{
		{
			name: "healthy",
			snap: Snapshot{FactCheckFailRate: 0.05, FactChecksFinished: 100, DLQDepth: 2},
		},
		{
			name: "fact check failures",
			snap: Snapshot{FactCheckFailRate: 0.4, FactChecksFinished: 20},
			want: []AlertType{AlertFactCheckFailureRate},
		},
		{
			name: "too few fact checks to judge",
			snap: Snapshot{FactCheckFailRate: 1, FactChecksFinished: 2},
		},
		{
			name: "submission failures",
			snap: Snapshot{SubmissionFailRate: 0.5},
			want: []AlertType{AlertSubmissionFailureRate},
		},
		{
			name: "dlq backlog",
			snap: Snapshot{DLQDepth: 11},
			want: []AlertType{AlertDLQBacklog},
		},
		{
			name: "everything",
			snap: Snapshot{FactCheckFailRate: 0.5, FactChecksFinished: 10, SubmissionFailRate: 0.5, DLQDepth: 50},
			want: []AlertType{AlertFactCheckFailureRate, AlertSubmissionFailureRate, AlertDLQBacklog},
		},
	}
	a := NewAlerter(testMonitoringConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := a.Evaluate(&tt.snap)
			var got []AlertType
			for _, al := range alerts {
				got = append(got, al.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlerter_Evaluate_MessageFormatting(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&Snapshot{FactCheckFailRate: 0.4, FactChecksFinished: 20})
	require.Len(t, alerts, 1)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "10.0%")
}

func TestAlerter_Evaluate_ZeroThresholdsDisable(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Empty(t, a.Evaluate(&Snapshot{FactCheckFailRate: 1, FactChecksFinished: 50, DLQDepth: 1000}))
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertDLQBacklog, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), a.Evaluate(&Snapshot{DLQDepth: 20}))
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertDLQBacklog}}))
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertDLQBacklog}}))
}
