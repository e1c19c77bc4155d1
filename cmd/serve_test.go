package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/factcheck-cli/internal/config"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestNewScheduler(t *testing.T) {
	withConfig(t, &config.Config{
		Reconcile:  config.ReconcileConfig{Schedule: "@every 15m"},
		DLQ:        config.DLQConfig{Schedule: "*/5 * * * *"},
		Monitoring: config.MonitoringConfig{},
	})

	c, err := newScheduler(nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2, "an empty schedule disables its job")
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	withConfig(t, &config.Config{
		Reconcile: config.ReconcileConfig{Schedule: "every so often"},
	})

	_, err := newScheduler(nil, nil, nil)
	assert.ErrorContains(t, err, "schedule reconcile")
}
