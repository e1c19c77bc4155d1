package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/factcheck-cli/internal/model"
)

func TestChecker_Check(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	src := &fakeSource{counts: sampleCounts(), dlq: 25}
	checker := NewChecker(NewCollector(src), NewAlerter(cfg))

	// 2 of 8 fact checks failed, 1 of 4 sent submissions failed, 25 dead letters.
	assert.Equal(t, 3, checker.Check(context.Background()))
	assert.Equal(t, int32(3), hits.Load())
}

func TestChecker_Check_CollectError(t *testing.T) {
	src := &fakeSource{countErr: errors.New("db down")}
	checker := NewChecker(NewCollector(src), NewAlerter(testMonitoringConfig()))
	assert.Equal(t, 0, checker.Check(context.Background()))
}

func TestChecker_Check_Quiet(t *testing.T) {
	src := &fakeSource{counts: &model.StatusCounts{}}
	checker := NewChecker(NewCollector(src), NewAlerter(testMonitoringConfig()))
	assert.Equal(t, 0, checker.Check(context.Background()))
}
